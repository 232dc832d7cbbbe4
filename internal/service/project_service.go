package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/arturoeanton/go-repoflow/internal/domain"
	"github.com/arturoeanton/go-repoflow/internal/jobs"
	"github.com/arturoeanton/go-repoflow/internal/port"
)

// ProjectService registers projects and hands them to ingestion.
type ProjectService struct {
	projects  port.ProjectRegistry
	ingestion *IngestionService
	logger    *slog.Logger
}

// NewProjectService creates a project service.
func NewProjectService(projects port.ProjectRegistry, ingestion *IngestionService, logger *slog.Logger) *ProjectService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProjectService{projects: projects, ingestion: ingestion, logger: logger}
}

// Create registers a project and schedules its first ingestion. The returned
// handle is nil when scheduling failed; the project then stays failed.
func (s *ProjectService) Create(ctx context.Context, name, repoURL, token string) (*domain.Project, *jobs.Handle, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil, &port.ValidationError{Field: "name", Message: "is required"}
	}
	if _, err := s.ingestion.loader.Validate(repoURL); err != nil {
		return nil, nil, err
	}

	p, err := s.projects.CreateProject(ctx, &domain.Project{
		Name:      name,
		GitHubURL: strings.TrimSpace(repoURL),
		Status:    domain.ProjectStatusIndexing,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create project: %w", err)
	}
	s.logger.Info("project created", "project_id", p.ID, "repo", p.GitHubURL)

	h, err := s.Ingest(ctx, p.ID, token)
	if err != nil {
		s.logger.Error("initial ingestion not scheduled", "project_id", p.ID, "error", err)
		if uerr := s.projects.UpdateProjectStatus(context.WithoutCancel(ctx), p.ID, domain.ProjectStatusFailed); uerr != nil {
			s.logger.Error("could not mark project failed", "project_id", p.ID, "error", uerr)
		}
		p.Status = domain.ProjectStatusFailed
		return p, nil, err
	}
	return p, h, nil
}

// Get returns a project.
func (s *ProjectService) Get(ctx context.Context, id string) (*domain.Project, error) {
	return s.projects.GetProject(ctx, id)
}

// Ingest schedules a (re)ingestion of an existing project.
func (s *ProjectService) Ingest(ctx context.Context, projectID, token string) (*jobs.Handle, error) {
	p, err := s.projects.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	h, err := s.ingestion.Submit(IngestRequest{ProjectID: p.ID, RepoURL: p.GitHubURL, Token: token})
	if err != nil && !errors.Is(err, port.ErrIngestionInProgress) {
		return nil, fmt.Errorf("schedule ingestion: %w", err)
	}
	return h, err
}
