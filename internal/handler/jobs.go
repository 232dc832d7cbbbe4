package handler

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/arturoeanton/go-repoflow/internal/domain"
	"github.com/arturoeanton/go-repoflow/internal/port"
)

// IngestionService exposes job progress and cancellation.
type IngestionService interface {
	Progress(projectID string) (domain.ProcessingJob, bool)
	Cancel(projectID string) bool
}

// JobFeed delivers live job updates for SSE.
type JobFeed interface {
	Subscribe(projectID string) chan domain.ProcessingJob
	Unsubscribe(projectID string, ch chan domain.ProcessingJob)
}

// JobsHandler handles ingestion job endpoints.
type JobsHandler struct {
	ingestion IngestionService
	feed      JobFeed
	timeout   time.Duration
}

// NewJobsHandler creates a new jobs handler. streamTimeout bounds an SSE
// connection; zero means 30 minutes.
func NewJobsHandler(ingestion IngestionService, feed JobFeed, streamTimeout time.Duration) *JobsHandler {
	if streamTimeout <= 0 {
		streamTimeout = 30 * time.Minute
	}
	return &JobsHandler{ingestion: ingestion, feed: feed, timeout: streamTimeout}
}

// Register sets up job routes.
func (h *JobsHandler) Register(router fiber.Router) {
	jobs := router.Group("/projects/:id/ingestion")
	jobs.Get("/", h.GetStatus)
	jobs.Get("/stream", h.StreamSSE)
	jobs.Delete("/", h.Cancel)
}

// GetStatus returns the current job status.
func (h *JobsHandler) GetStatus(c fiber.Ctx) error {
	job, ok := h.ingestion.Progress(c.Params("id"))
	if !ok {
		return respondError(c, port.ErrJobNotFound)
	}
	return c.JSON(job)
}

// Cancel stops a queued or running ingestion.
func (h *JobsHandler) Cancel(c fiber.Ctx) error {
	id := c.Params("id")
	if !h.ingestion.Cancel(id) {
		return respondError(c, port.ErrJobNotFound)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"project_id": id, "canceled": true})
}

// StreamSSE streams job updates via Server-Sent Events until the job
// settles or the connection times out.
func (h *JobsHandler) StreamSSE(c fiber.Ctx) error {
	id := c.Params("id")

	// subscribe before the snapshot so a terminal update cannot slip between
	ch := h.feed.Subscribe(id)
	job, ok := h.ingestion.Progress(id)
	if !ok {
		h.feed.Unsubscribe(id, ch)
		return respondError(c, port.ErrJobNotFound)
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")

	if job.Done() {
		h.feed.Unsubscribe(id, ch)
		return c.SendString(formatEvent(job.Status, job))
	}

	timeout := h.timeout

	return c.SendStreamWriter(func(w *bufio.Writer) {
		defer h.feed.Unsubscribe(id, ch)

		w.WriteString(formatEvent("progress", job))
		if err := w.Flush(); err != nil {
			return
		}

		deadline := time.After(timeout)
		for {
			select {
			case update, ok := <-ch:
				if !ok {
					return
				}
				event := "progress"
				if update.Done() {
					event = update.Status
				}
				w.WriteString(formatEvent(event, update))
				if err := w.Flush(); err != nil {
					// client went away
					return
				}
				if update.Done() {
					return
				}
			case <-deadline:
				slog.Warn("SSE timeout", "project_id", id)
				return
			}
		}
	})
}

func formatEvent(event string, payload any) string {
	data, _ := json.Marshal(payload)
	return fmt.Sprintf("event: %s\ndata: %s\n\n", event, data)
}
