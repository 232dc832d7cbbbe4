package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/arturoeanton/go-repoflow/internal/port"
)

const ollamaProviderName = "ollama"

// OllamaEndpointConfig holds the configuration for a single Ollama endpoint.
type OllamaEndpointConfig struct {
	BaseURL string // e.g. http://localhost:11434 or https://api.ollama.com
	Model   string // e.g. bge-m3, qwen3
	Token   string // Bearer token for Ollama Cloud (empty = no auth)
}

// OllamaProvider implements port.IntelligenceProvider using the Ollama REST API.
// Embeddings, bulk summaries and interactive answers can each target a
// different endpoint.
type OllamaProvider struct {
	embed      OllamaEndpointConfig
	fast       OllamaEndpointConfig
	reasoning  OllamaEndpointConfig
	opts       Options
	httpClient *http.Client
}

// NewOllamaProvider creates an Ollama-backed provider. An empty reasoning
// endpoint falls back to the fast one.
func NewOllamaProvider(embed, fast, reasoning OllamaEndpointConfig, opts Options) *OllamaProvider {
	if reasoning.BaseURL == "" {
		reasoning.BaseURL = fast.BaseURL
		reasoning.Token = fast.Token
	}
	if reasoning.Model == "" {
		reasoning.Model = fast.Model
	}
	return &OllamaProvider{
		embed:      embed,
		fast:       fast,
		reasoning:  reasoning,
		opts:       opts.withDefaults(),
		httpClient: &http.Client{},
	}
}

// ModelName returns the model serving task.
func (o *OllamaProvider) ModelName(task port.Task) string {
	switch task {
	case port.TaskEmbed:
		return o.embed.Model
	case port.TaskAnswer:
		return o.reasoning.Model
	default:
		return o.fast.Model
	}
}

// Dimension returns the configured embedding width.
func (o *OllamaProvider) Dimension() int {
	return o.opts.Dimension
}

// SummarizeCode summarises a file with the fast model.
func (o *OllamaProvider) SummarizeCode(ctx context.Context, filePath, content string) (string, error) {
	text, err := o.chat(ctx, o.fast, summarySystemPrompt, summaryUserPrompt(filePath, content, o.opts.SummaryMaxChars))
	if err != nil {
		return "", fmt.Errorf("ollama summarize %s: %w", filePath, err)
	}
	return text, nil
}

// SummarizeDiff summarises a commit diff with the fast model.
func (o *OllamaProvider) SummarizeDiff(ctx context.Context, diff string) (string, error) {
	text, err := o.chat(ctx, o.fast, diffSystemPrompt, diffUserPrompt(diff, o.opts.DiffMaxChars))
	if err != nil {
		return "", fmt.Errorf("ollama summarize diff: %w", err)
	}
	return text, nil
}

// Embed generates a vector embedding for the given text.
func (o *OllamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	payload := map[string]interface{}{
		"model": o.embed.Model,
		"input": text,
	}

	body, err := o.post(ctx, o.embed, "/api/embed", payload)
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}

	var resp struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("ollama embed decode: %w", err)
	}

	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("ollama embed: empty response")
	}

	return resp.Embeddings[0], nil
}

// StreamAnswer streams a completion from the reasoning model token-by-token.
func (o *OllamaProvider) StreamAnswer(ctx context.Context, prompt string) (<-chan port.AnswerChunk, error) {
	payload := map[string]interface{}{
		"model": o.reasoning.Model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"stream": true,
	}

	payloadBytes, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.reasoning.BaseURL+"/api/chat", bytes.NewReader(payloadBytes))
	if err != nil {
		return nil, fmt.Errorf("ollama stream: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if o.reasoning.Token != "" {
		req.Header.Set("Authorization", "Bearer "+o.reasoning.Token)
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama stream: %w", classifyStatus(ollamaProviderName, resp.StatusCode, resp.Header, body))
	}

	ch := make(chan port.AnswerChunk, 64)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		send := func(c port.AnswerChunk) bool {
			select {
			case ch <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		decoder := json.NewDecoder(resp.Body)
		for decoder.More() {
			var chunk struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
				Done  bool   `json:"done"`
				Error string `json:"error"`
			}
			if err := decoder.Decode(&chunk); err != nil {
				send(port.AnswerChunk{Err: fmt.Errorf("ollama stream decode: %w", err)})
				return
			}
			if chunk.Error != "" {
				send(port.AnswerChunk{Err: &port.ProviderAPIError{Provider: ollamaProviderName, StatusCode: http.StatusOK, Message: chunk.Error}})
				return
			}
			if chunk.Message.Content != "" {
				if !send(port.AnswerChunk{Text: chunk.Message.Content}) {
					return
				}
			}
			if chunk.Done {
				return
			}
		}
	}()

	return ch, nil
}

// chat runs a non-streaming completion and rejects blank output.
func (o *OllamaProvider) chat(ctx context.Context, endpoint OllamaEndpointConfig, systemPrompt, userPrompt string) (string, error) {
	payload := map[string]interface{}{
		"model": endpoint.Model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": userPrompt},
		},
		"stream": false,
	}

	body, err := o.post(ctx, endpoint, "/api/chat", payload)
	if err != nil {
		return "", err
	}

	var resp struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}

	text := strings.TrimSpace(resp.Message.Content)
	if text == "" {
		return "", port.ErrEmptySummary
	}
	return text, nil
}

// post is a helper for POST requests to an Ollama endpoint (with optional bearer token).
func (o *OllamaProvider) post(ctx context.Context, cfg OllamaEndpointConfig, path string, payload interface{}) ([]byte, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.BaseURL+path, bytes.NewReader(payloadBytes))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Token)
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, classifyStatus(ollamaProviderName, resp.StatusCode, resp.Header, body)
	}

	return io.ReadAll(resp.Body)
}
