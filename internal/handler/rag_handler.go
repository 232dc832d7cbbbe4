package handler

import (
	"bufio"
	"context"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/arturoeanton/go-repoflow/internal/domain"
	"github.com/arturoeanton/go-repoflow/internal/service"
)

// RAGService answers questions and keeps the saved ones.
type RAGService interface {
	Ask(ctx context.Context, projectID, question string) (*service.Answer, error)
	SaveAnswer(ctx context.Context, q domain.Question) (*domain.Question, error)
	ListQuestions(ctx context.Context, projectID string, limit, offset int) ([]domain.Question, int, error)
}

// RAGHandler handles RAG chat endpoints.
type RAGHandler struct {
	ragService RAGService
	timeout    time.Duration
}

// NewRAGHandler creates a new RAG handler. answerTimeout bounds one answer;
// zero means two minutes.
func NewRAGHandler(ragService RAGService, answerTimeout time.Duration) *RAGHandler {
	if answerTimeout <= 0 {
		answerTimeout = 2 * time.Minute
	}
	return &RAGHandler{ragService: ragService, timeout: answerTimeout}
}

// Register sets up RAG routes.
func (h *RAGHandler) Register(router fiber.Router) {
	rag := router.Group("/rag")
	rag.Post("/query", h.Query)
	rag.Post("/stream", h.Stream)

	questions := router.Group("/projects/:id/questions")
	questions.Post("/", h.SaveQuestion)
	questions.Get("/", h.ListQuestions)
}

type queryRequest struct {
	ProjectID string `json:"project_id"`
	Question  string `json:"question"`
}

// Query performs a RAG query and returns the collected answer.
func (h *RAGHandler) Query(c fiber.Ctx) error {
	var body queryRequest
	if err := c.Bind().JSON(&body); err != nil {
		return badRequest(c, "invalid request body")
	}

	ctx, cancel := context.WithTimeout(c.Context(), h.timeout)
	defer cancel()

	answer, err := h.ragService.Ask(ctx, body.ProjectID, body.Question)
	if err != nil {
		return respondError(c, err)
	}
	text, err := answer.Collect(ctx)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"answer":     text,
		"references": answer.References,
	})
}

// Stream performs a RAG query and relays the answer as Server-Sent Events:
// one references event, then chunk events, then done.
func (h *RAGHandler) Stream(c fiber.Ctx) error {
	var body queryRequest
	if err := c.Bind().JSON(&body); err != nil {
		return badRequest(c, "invalid request body")
	}

	// the writer outlives the handler, so the answer gets its own context
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	answer, err := h.ragService.Ask(ctx, body.ProjectID, body.Question)
	if err != nil {
		cancel()
		return respondError(c, err)
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")

	return c.SendStreamWriter(func(w *bufio.Writer) {
		defer cancel()

		w.WriteString(formatEvent("references", answer.References))
		if err := w.Flush(); err != nil {
			return
		}
		for chunk := range answer.Stream {
			w.WriteString(formatEvent("chunk", fiber.Map{"text": chunk}))
			if err := w.Flush(); err != nil {
				return
			}
		}
		w.WriteString(formatEvent("done", fiber.Map{}))
		w.Flush()
	})
}

// SaveQuestion stores a question with the answer and files used for it.
func (h *RAGHandler) SaveQuestion(c fiber.Ctx) error {
	var body struct {
		Question       string                 `json:"question"`
		Answer         string                 `json:"answer"`
		FileReferences []domain.FileReference `json:"file_references"`
	}
	if err := c.Bind().JSON(&body); err != nil {
		return badRequest(c, "invalid request body")
	}

	saved, err := h.ragService.SaveAnswer(c.Context(), domain.Question{
		ProjectID:      c.Params("id"),
		Question:       body.Question,
		Answer:         body.Answer,
		FileReferences: body.FileReferences,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(saved)
}

// ListQuestions returns the project's saved questions, newest first.
func (h *RAGHandler) ListQuestions(c fiber.Ctx) error {
	limit := queryInt(c, "limit", 50)
	offset := queryInt(c, "offset", 0)

	questions, total, err := h.ragService.ListQuestions(c.Context(), c.Params("id"), limit, offset)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"questions": questions,
		"total":     total,
		"limit":     limit,
		"offset":    offset,
	})
}
