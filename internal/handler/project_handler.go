package handler

import (
	"context"

	"github.com/gofiber/fiber/v3"

	"github.com/arturoeanton/go-repoflow/internal/domain"
	"github.com/arturoeanton/go-repoflow/internal/jobs"
)

// ProjectService is what the project routes need from the service layer.
type ProjectService interface {
	Create(ctx context.Context, name, repoURL, token string) (*domain.Project, *jobs.Handle, error)
	Get(ctx context.Context, id string) (*domain.Project, error)
	Ingest(ctx context.Context, projectID, token string) (*jobs.Handle, error)
}

// ProjectHandler handles project registration and ingestion scheduling.
type ProjectHandler struct {
	projects ProjectService
}

// NewProjectHandler creates a new project handler.
func NewProjectHandler(projects ProjectService) *ProjectHandler {
	return &ProjectHandler{projects: projects}
}

// Register sets up project routes.
func (h *ProjectHandler) Register(router fiber.Router) {
	projects := router.Group("/projects")
	projects.Post("/", h.Create)
	projects.Get("/:id", h.Get)
	projects.Post("/:id/ingest", h.Ingest)
}

type createProjectRequest struct {
	Name        string `json:"name"`
	GitHubURL   string `json:"github_url"`
	GitHubToken string `json:"github_token"`
}

// Create registers a project and enqueues its first ingestion.
func (h *ProjectHandler) Create(c fiber.Ctx) error {
	var body createProjectRequest
	if err := c.Bind().JSON(&body); err != nil {
		return badRequest(c, "invalid request body")
	}

	project, handle, err := h.projects.Create(c.Context(), body.Name, body.GitHubURL, body.GitHubToken)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"project": project,
		"job":     handleView(handle),
	})
}

// Get returns a project row.
func (h *ProjectHandler) Get(c fiber.Ctx) error {
	project, err := h.projects.Get(c.Context(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(project)
}

// Ingest schedules a re-ingestion of an existing project.
func (h *ProjectHandler) Ingest(c fiber.Ctx) error {
	var body struct {
		GitHubToken string `json:"github_token"`
	}
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&body); err != nil {
			return badRequest(c, "invalid request body")
		}
	}

	handle, err := h.projects.Ingest(c.Context(), c.Params("id"), body.GitHubToken)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"job": handleView(handle)})
}

func handleView(h *jobs.Handle) fiber.Map {
	if h == nil {
		return nil
	}
	return fiber.Map{"id": h.ID, "project_id": h.Key}
}
