package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/arturoeanton/go-repoflow/internal/port"
	openai "github.com/sashabaranov/go-openai"
)

const openAIProviderName = "openai"

// OpenAIConfig configures any OpenAI-compatible endpoint.
type OpenAIConfig struct {
	APIKey         string
	BaseURL        string // empty = api.openai.com
	EmbedModel     string
	FastModel      string
	ReasoningModel string
}

// OpenAIProvider implements port.IntelligenceProvider on top of go-openai.
type OpenAIProvider struct {
	client *openai.Client
	cfg    OpenAIConfig
	opts   Options
}

// NewOpenAIProvider creates an OpenAI-compatible provider.
func NewOpenAIProvider(cfg OpenAIConfig, opts Options) *OpenAIProvider {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.ReasoningModel == "" {
		cfg.ReasoningModel = cfg.FastModel
	}
	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
		opts:   opts.withDefaults(),
	}
}

// ModelName returns the model serving task.
func (p *OpenAIProvider) ModelName(task port.Task) string {
	switch task {
	case port.TaskEmbed:
		return p.cfg.EmbedModel
	case port.TaskAnswer:
		return p.cfg.ReasoningModel
	default:
		return p.cfg.FastModel
	}
}

// Dimension returns the configured embedding width.
func (p *OpenAIProvider) Dimension() int {
	return p.opts.Dimension
}

// SummarizeCode summarises a file with the fast model.
func (p *OpenAIProvider) SummarizeCode(ctx context.Context, filePath, content string) (string, error) {
	text, err := p.complete(ctx, p.cfg.FastModel, summarySystemPrompt, summaryUserPrompt(filePath, content, p.opts.SummaryMaxChars))
	if err != nil {
		return "", fmt.Errorf("openai summarize %s: %w", filePath, err)
	}
	return text, nil
}

// SummarizeDiff summarises a commit diff with the fast model.
func (p *OpenAIProvider) SummarizeDiff(ctx context.Context, diff string) (string, error) {
	text, err := p.complete(ctx, p.cfg.FastModel, diffSystemPrompt, diffUserPrompt(diff, p.opts.DiffMaxChars))
	if err != nil {
		return "", fmt.Errorf("openai summarize diff: %w", err)
	}
	return text, nil
}

// Embed generates a vector embedding for text.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	req := openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(p.cfg.EmbedModel),
	}
	// Only the text-embedding-3 family accepts a requested width.
	if strings.HasPrefix(p.cfg.EmbedModel, "text-embedding-3") && p.opts.Dimension > 0 {
		req.Dimensions = p.opts.Dimension
	}

	resp, err := p.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai embed: %w", classifyOpenAIError(err))
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai embed: empty response")
	}
	return resp.Data[0].Embedding, nil
}

// StreamAnswer streams a completion from the reasoning model.
func (p *OpenAIProvider) StreamAnswer(ctx context.Context, prompt string) (<-chan port.AnswerChunk, error) {
	stream, err := p.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model: p.cfg.ReasoningModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Stream: true,
	})
	if err != nil {
		return nil, fmt.Errorf("openai stream: %w", classifyOpenAIError(err))
	}

	ch := make(chan port.AnswerChunk, 64)
	go func() {
		defer close(ch)
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			var chunk port.AnswerChunk
			if err != nil {
				chunk.Err = fmt.Errorf("openai stream: %w", classifyOpenAIError(err))
			} else if len(resp.Choices) > 0 {
				chunk.Text = resp.Choices[0].Delta.Content
			}
			if chunk.Text == "" && chunk.Err == nil {
				continue
			}
			select {
			case ch <- chunk:
			case <-ctx.Done():
				return
			}
			if chunk.Err != nil {
				return
			}
		}
	}()

	return ch, nil
}

func (p *OpenAIProvider) complete(ctx context.Context, model, systemPrompt, userPrompt string) (string, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
	})
	if err != nil {
		return "", classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", port.ErrEmptySummary
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", port.ErrEmptySummary
	}
	return text, nil
}

// classifyOpenAIError maps go-openai errors onto the port taxonomy.
func classifyOpenAIError(err error) error {
	var (
		status int
		msg    string
	)
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status, msg = apiErr.HTTPStatusCode, apiErr.Message
	case errors.As(err, &reqErr):
		status, msg = reqErr.HTTPStatusCode, reqErr.Error()
	default:
		return err
	}

	providerErr := &port.ProviderAPIError{Provider: openAIProviderName, StatusCode: status, Message: msg}
	if status == http.StatusTooManyRequests {
		return &port.RateLimitError{Provider: openAIProviderName, Err: providerErr}
	}
	return providerErr
}
