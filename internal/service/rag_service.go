package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/arturoeanton/go-repoflow/internal/domain"
	"github.com/arturoeanton/go-repoflow/internal/metrics"
	"github.com/arturoeanton/go-repoflow/internal/port"
)

// answerErrorText replaces a failed answer stream.
const answerErrorText = "I encountered an error while processing your question. Please try again or rephrase your question."

// RAGConfig tunes retrieval.
type RAGConfig struct {
	TopK            int
	Threshold       float64 // similarity must be strictly greater
	MaxContextChars int
}

// DefaultRAGConfig returns the production retrieval settings.
func DefaultRAGConfig() RAGConfig {
	return RAGConfig{TopK: 5, Threshold: 0.3, MaxContextChars: 30000}
}

// Answer is a streamed answer plus the files it was grounded on.
type Answer struct {
	Stream     <-chan string
	References []domain.FileReference
}

// Collect drains the stream into a single string.
func (a *Answer) Collect(ctx context.Context) (string, error) {
	var b strings.Builder
	for {
		select {
		case chunk, ok := <-a.Stream:
			if !ok {
				return b.String(), nil
			}
			b.WriteString(chunk)
		case <-ctx.Done():
			return b.String(), ctx.Err()
		}
	}
}

// RAGService answers questions about an ingested project.
type RAGService struct {
	ai         port.IntelligenceProvider
	embeddings port.EmbeddingStore
	questions  port.QuestionStore
	audit      port.AuditWriter
	cfg        RAGConfig
	logger     *slog.Logger
}

// NewRAGService creates a new RAG service. audit may be nil.
func NewRAGService(ai port.IntelligenceProvider, embeddings port.EmbeddingStore, questions port.QuestionStore, audit port.AuditWriter, cfg RAGConfig, logger *slog.Logger) *RAGService {
	d := DefaultRAGConfig()
	if cfg.TopK <= 0 {
		cfg.TopK = d.TopK
	}
	if cfg.MaxContextChars <= 0 {
		cfg.MaxContextChars = d.MaxContextChars
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RAGService{ai: ai, embeddings: embeddings, questions: questions, audit: audit, cfg: cfg, logger: logger}
}

// Ask retrieves the project's most similar files and streams an answer
// conditioned on them.
func (s *RAGService) Ask(ctx context.Context, projectID, question string) (*Answer, error) {
	question = strings.TrimSpace(question)
	if projectID == "" {
		return nil, &port.ValidationError{Field: "project_id", Message: "is required"}
	}
	if question == "" {
		return nil, &port.ValidationError{Field: "question", Message: "is required"}
	}

	start := time.Now()
	refs, err := s.Retrieve(ctx, projectID, question)
	if err != nil {
		return nil, err
	}

	prompt := buildAnswerPrompt(question, buildContext(refs, s.cfg.MaxContextChars))
	chunks, err := s.ai.StreamAnswer(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("stream answer: %w", err)
	}

	out := make(chan string, 16)
	go s.relay(ctx, projectID, chunks, out)

	metrics.QueryAnswered(len(refs), time.Since(start))
	s.logger.Info("RAG query", "project_id", projectID, "references", len(refs))
	if s.audit != nil {
		raw, _ := json.Marshal(map[string]any{"question": question, "references": len(refs)})
		if err := s.audit.WriteAudit(systemActor, domain.AuditActionRAGQuery, "project", projectID, string(raw), "", ""); err != nil {
			s.logger.Warn("audit write failed", "error", err)
		}
	}
	return &Answer{Stream: out, References: refs}, nil
}

// Retrieve returns at most TopK files whose similarity to question is above
// the threshold, best first.
func (s *RAGService) Retrieve(ctx context.Context, projectID, question string) ([]domain.FileReference, error) {
	vector, err := s.ai.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}

	found, err := s.embeddings.SimilaritySearch(ctx, projectID, vector, s.cfg.Threshold, s.cfg.TopK)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}

	refs := make([]domain.FileReference, 0, len(found))
	for _, r := range found {
		if r.Similarity > s.cfg.Threshold {
			refs = append(refs, r)
		}
		if len(refs) == s.cfg.TopK {
			break
		}
	}
	return refs, nil
}

// relay forwards answer text and turns a provider failure into a final
// apology chunk.
func (s *RAGService) relay(ctx context.Context, projectID string, in <-chan port.AnswerChunk, out chan<- string) {
	defer close(out)
	send := func(text string) bool {
		select {
		case out <- text:
			return true
		case <-ctx.Done():
			return false
		}
	}
	for chunk := range in {
		if chunk.Err != nil {
			s.logger.Error("answer stream failed", "project_id", projectID, "error", chunk.Err)
			send(answerErrorText)
			return
		}
		if chunk.Text == "" {
			continue
		}
		if !send(chunk.Text) {
			return
		}
	}
}

// SaveAnswer stores a question, its answer and the referenced files.
func (s *RAGService) SaveAnswer(ctx context.Context, q domain.Question) (*domain.Question, error) {
	if q.ProjectID == "" {
		return nil, &port.ValidationError{Field: "project_id", Message: "is required"}
	}
	if strings.TrimSpace(q.Question) == "" {
		return nil, &port.ValidationError{Field: "question", Message: "is required"}
	}
	if strings.TrimSpace(q.Answer) == "" {
		return nil, &port.ValidationError{Field: "answer", Message: "is required"}
	}
	if q.FileReferences == nil {
		q.FileReferences = []domain.FileReference{}
	}

	saved, err := s.questions.SaveQuestion(ctx, &q)
	if err != nil {
		return nil, fmt.Errorf("save question: %w", err)
	}
	if s.audit != nil {
		if err := s.audit.WriteAudit(systemActor, domain.AuditActionQuestionSaved, "question", saved.ID, "{}", "", ""); err != nil {
			s.logger.Warn("audit write failed", "error", err)
		}
	}
	return saved, nil
}

// ListQuestions returns the project's saved questions, newest first.
func (s *RAGService) ListQuestions(ctx context.Context, projectID string, limit, offset int) ([]domain.Question, int, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	limit = min(limit, maxPageSize)
	offset = max(offset, 0)

	qs, total, err := s.questions.ListQuestions(ctx, projectID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list questions: %w", err)
	}
	if qs == nil {
		qs = []domain.Question{}
	}
	return qs, total, nil
}

// buildContext renders the retrieved files into the prompt context, stopping
// before maxChars is exceeded. The first file is truncated rather than
// dropped so a single large file still grounds the answer.
func buildContext(refs []domain.FileReference, maxChars int) string {
	var b strings.Builder
	for i, r := range refs {
		block := fmt.Sprintf("File: %s\nSummary: %s\nCode:\n```\n%s\n```\n", r.FileName, r.Summary, r.SourceCode)
		sep := ""
		if i > 0 {
			sep = "\n\n"
		}
		if b.Len()+len(sep)+len(block) > maxChars {
			if i == 0 {
				b.WriteString(truncateRunes(block, maxChars))
			}
			break
		}
		b.WriteString(sep)
		b.WriteString(block)
	}
	return b.String()
}

func truncateRunes(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	cut := 0
	for i := range s {
		if i > maxBytes {
			break
		}
		cut = i
	}
	return s[:cut]
}
