package handler

import (
	"context"

	"github.com/gofiber/fiber/v3"

	"github.com/arturoeanton/go-repoflow/internal/domain"
)

// CommitService syncs and lists summarised commits.
type CommitService interface {
	SyncCommits(ctx context.Context, projectID, token string) ([]domain.Commit, error)
	ListCommits(ctx context.Context, projectID string, limit, offset int) (*domain.CommitPage, error)
}

// CommitHandler handles commit log endpoints.
type CommitHandler struct {
	commits CommitService
}

// NewCommitHandler creates a new commit handler.
func NewCommitHandler(commits CommitService) *CommitHandler {
	return &CommitHandler{commits: commits}
}

// Register sets up commit routes.
func (h *CommitHandler) Register(router fiber.Router) {
	commits := router.Group("/projects/:id/commits")
	commits.Get("/", h.List)
	commits.Post("/sync", h.Sync)
}

// Sync summarises commits not stored yet. The body may carry a github_token
// for private repositories.
func (h *CommitHandler) Sync(c fiber.Ctx) error {
	var body struct {
		GitHubToken string `json:"github_token"`
	}
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&body); err != nil {
			return badRequest(c, "invalid request body")
		}
	}

	added, err := h.commits.SyncCommits(c.Context(), c.Params("id"), body.GitHubToken)
	if err != nil {
		return respondError(c, err)
	}
	if added == nil {
		added = []domain.Commit{}
	}
	return c.JSON(fiber.Map{"added": added, "count": len(added)})
}

// List returns a page of the project's commits.
func (h *CommitHandler) List(c fiber.Ctx) error {
	page, err := h.commits.ListCommits(c.Context(), c.Params("id"), queryInt(c, "limit", 0), queryInt(c, "offset", 0))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(page)
}
