package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arturoeanton/go-repoflow/internal/domain"
	"github.com/arturoeanton/go-repoflow/internal/ingest"
	"github.com/arturoeanton/go-repoflow/internal/jobs"
	"github.com/arturoeanton/go-repoflow/internal/metrics"
	"github.com/arturoeanton/go-repoflow/internal/port"
)

// systemActor is the audit user for actions the service takes on its own.
const systemActor = "system"

// IngestRequest starts an ingestion run for a project.
type IngestRequest struct {
	ProjectID string `json:"project_id"`
	RepoURL   string `json:"repository_url"`
	Token     string `json:"-"`
	RunID     string `json:"-"` // optional, generated when empty
}

// CommitSyncer is the follow-on step run after a successful ingestion.
type CommitSyncer interface {
	SyncCommits(ctx context.Context, projectID, token string) ([]domain.Commit, error)
}

// IngestionDeps are the collaborators of the ingestion orchestrator. Queue,
// Commits and Audit are optional.
type IngestionDeps struct {
	Loader     *ingest.Loader
	Pipeline   *ingest.Pipeline
	Writer     *ingest.Writer
	Embeddings port.EmbeddingStore
	Projects   port.ProjectStore
	Jobs       port.JobStore
	Queue      *jobs.Queue
	Commits    CommitSyncer
	Audit      port.AuditWriter
	Logger     *slog.Logger
}

// IngestionService drives a project from repository URL to stored embeddings.
type IngestionService struct {
	loader     *ingest.Loader
	pipeline   *ingest.Pipeline
	writer     *ingest.Writer
	embeddings port.EmbeddingStore
	projects   port.ProjectStore
	jobs       port.JobStore
	queue      *jobs.Queue
	commits    CommitSyncer
	audit      port.AuditWriter
	logger     *slog.Logger
	now        func() time.Time

	mu      sync.Mutex
	running map[string]struct{}
}

// NewIngestionService creates the orchestrator.
func NewIngestionService(d IngestionDeps) *IngestionService {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestionService{
		loader:     d.Loader,
		pipeline:   d.Pipeline,
		writer:     d.Writer,
		embeddings: d.Embeddings,
		projects:   d.Projects,
		jobs:       d.Jobs,
		queue:      d.Queue,
		commits:    d.Commits,
		audit:      d.Audit,
		logger:     logger,
		now:        time.Now,
		running:    make(map[string]struct{}),
	}
}

// Validate checks a request before anything is scheduled.
func (s *IngestionService) Validate(req IngestRequest) error {
	if req.ProjectID == "" {
		return &port.ValidationError{Field: "project_id", Message: "is required"}
	}
	_, err := s.loader.Validate(req.RepoURL)
	return err
}

// Progress returns the project's latest ingestion job.
func (s *IngestionService) Progress(projectID string) (domain.ProcessingJob, bool) {
	return s.jobs.Get(projectID)
}

// Submit schedules an ingestion run on the task queue.
func (s *IngestionService) Submit(req IngestRequest) (*jobs.Handle, error) {
	if err := s.Validate(req); err != nil {
		return nil, err
	}
	if s.queue == nil {
		return nil, port.ErrQueueClosed
	}
	if _, busy := s.queue.Active(req.ProjectID); busy || s.isRunning(req.ProjectID) {
		return nil, fmt.Errorf("%w: %s", port.ErrIngestionInProgress, req.ProjectID)
	}

	req.RunID = uuid.NewString()
	prev, hadPrev := s.jobs.Get(req.ProjectID)
	s.jobs.Set(domain.ProcessingJob{
		ID:        req.RunID,
		ProjectID: req.ProjectID,
		Status:    domain.JobStatusPending,
		StartedAt: s.now(),
	})

	run := req
	h, err := s.queue.Submit(req.ProjectID, func(ctx context.Context) error {
		_, err := s.IngestRepository(ctx, run)
		return err
	})
	if err != nil {
		if hadPrev {
			s.jobs.Set(prev)
		} else {
			s.jobs.Delete(req.ProjectID)
		}
		if errors.Is(err, jobs.ErrTaskInProgress) {
			return nil, fmt.Errorf("%w: %s", port.ErrIngestionInProgress, req.ProjectID)
		}
		return nil, err
	}
	return h, nil
}

// Cancel stops the project's queued or running ingestion.
func (s *IngestionService) Cancel(projectID string) bool {
	if s.queue == nil {
		return false
	}
	return s.queue.Cancel(projectID)
}

// IngestRepository runs load → embed → save for one project and leaves the
// project on completed or failed whatever happens, including cancellation.
func (s *IngestionService) IngestRepository(ctx context.Context, req IngestRequest) (*domain.ProcessingResult, error) {
	if err := s.Validate(req); err != nil {
		return nil, err
	}
	if !s.acquire(req.ProjectID) {
		return nil, fmt.Errorf("%w: %s", port.ErrIngestionInProgress, req.ProjectID)
	}
	defer s.release(req.ProjectID)

	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	start := s.now()
	job := domain.ProcessingJob{
		ID:        runID,
		ProjectID: req.ProjectID,
		Status:    domain.JobStatusPending,
		StartedAt: start,
	}
	s.jobs.Set(job)

	log := s.logger.With("project_id", req.ProjectID, "run_id", runID)
	log.Info("ingestion started", "repo", req.RepoURL)
	s.writeAudit(domain.AuditActionIngestStarted, req.ProjectID, map[string]any{"run_id": runID, "repository_url": req.RepoURL})

	if err := ctx.Err(); err != nil {
		return nil, s.fail(ctx, &job, start, fmt.Errorf("cancelled before start: %w", err))
	}
	if err := s.projects.UpdateProjectStatus(ctx, req.ProjectID, domain.ProjectStatusIndexing); err != nil {
		return nil, s.fail(ctx, &job, start, fmt.Errorf("mark project indexing: %w", err))
	}

	// loading
	job.Status = domain.JobStatusProcessing
	job.Progress = domain.Progress{Phase: domain.PhaseLoading}
	s.jobs.Set(job)

	files, err := s.loader.Load(ctx, req.RepoURL, req.Token)
	if err != nil {
		return nil, s.fail(ctx, &job, start, err)
	}

	// processing
	job.Progress = domain.Progress{Phase: domain.PhaseProcessing, Total: len(files)}
	s.jobs.Set(job)

	result, err := s.pipeline.EmbedAll(ctx, files, func(done, total int) {
		job.Progress = domain.Progress{Phase: domain.PhaseProcessing, Current: done, Total: total}
		s.jobs.Set(job)
	})
	if err != nil {
		return nil, s.fail(ctx, &job, start, err)
	}
	if len(result.Successful) == 0 {
		err := fmt.Errorf("%w: all %d files failed", port.ErrNoEmbeddings, result.Stats.Total)
		if len(result.Failed) > 0 {
			err = fmt.Errorf("%w (first failure: %s: %s)", err, result.Failed[0].FileName, result.Failed[0].Error)
		}
		return result, s.fail(ctx, &job, start, err)
	}

	// saving
	job.Progress = domain.Progress{Phase: domain.PhaseSaving, Total: len(result.Successful)}
	s.jobs.Set(job)

	var progressMu sync.Mutex
	saved, err := s.writer.Save(ctx, req.ProjectID, runID, result.Successful, func(n, done, total int) {
		progressMu.Lock()
		defer progressMu.Unlock()
		job.Saved = n
		job.Progress = domain.Progress{Phase: domain.PhaseSaving, Current: done, Total: total}
		s.jobs.Set(job)
	})
	if err != nil {
		return result, s.fail(ctx, &job, start, err)
	}
	job.Saved = saved.Saved
	if saved.Saved == 0 {
		return result, s.fail(ctx, &job, start, fmt.Errorf("%w: %d rows failed", port.ErrNothingSaved, len(saved.Failed)))
	}

	mergeSaveResult(result, saved)

	if removed, err := s.embeddings.DeleteStaleEmbeddings(ctx, req.ProjectID, runID); err != nil {
		log.Warn("stale embeddings not removed", "error", err)
	} else if removed > 0 {
		log.Info("replaced previous ingestion", "removed_rows", removed)
	}

	bg := context.WithoutCancel(ctx)
	if err := s.projects.UpdateProjectStatus(bg, req.ProjectID, domain.ProjectStatusCompleted); err != nil {
		return result, s.fail(ctx, &job, start, fmt.Errorf("mark project completed: %w", err))
	}

	completed := s.now()
	job.Status = domain.JobStatusCompleted
	job.CompletedAt = &completed
	s.jobs.Set(job)

	result.Stats.Duration = completed.Sub(start)
	metrics.IngestionFinished(domain.JobStatusCompleted, result.Stats.Duration)
	log.Info("ingestion completed",
		"files", result.Stats.Total,
		"saved", result.Stats.Saved,
		"failed", result.Stats.Failed,
		"duration", result.Stats.Duration,
	)
	s.writeAudit(domain.AuditActionIngestCompleted, req.ProjectID, map[string]any{
		"run_id": runID,
		"saved":  result.Stats.Saved,
		"failed": result.Stats.Failed,
	})

	s.syncCommits(ctx, req.ProjectID, req.Token)
	return result, nil
}

// fail records a terminal failure. It never uses ctx for the writes so a
// cancelled run still settles.
func (s *IngestionService) fail(ctx context.Context, job *domain.ProcessingJob, start time.Time, cause error) error {
	bg := context.WithoutCancel(ctx)
	log := s.logger.With("project_id", job.ProjectID, "run_id", job.ID)

	if err := s.projects.UpdateProjectStatus(bg, job.ProjectID, domain.ProjectStatusFailed); err != nil {
		log.Error("could not mark project failed", "error", err)
	}

	completed := s.now()
	job.Status = domain.JobStatusFailed
	job.Error = cause.Error()
	job.CompletedAt = &completed
	s.jobs.Set(*job)

	metrics.IngestionFinished(domain.JobStatusFailed, completed.Sub(start))
	log.Error("ingestion failed", "phase", job.Progress.Phase, "kind", port.KindOf(cause), "error", cause)
	s.writeAudit(domain.AuditActionIngestFailed, job.ProjectID, map[string]any{
		"run_id": job.ID,
		"phase":  job.Progress.Phase,
		"error":  cause.Error(),
	})
	return cause
}

func (s *IngestionService) syncCommits(ctx context.Context, projectID, token string) {
	if s.commits == nil {
		return
	}
	commits, err := s.commits.SyncCommits(ctx, projectID, token)
	if err != nil {
		s.logger.Warn("commit sync after ingestion failed", "project_id", projectID, "error", err)
		return
	}
	s.logger.Info("commits synced after ingestion", "project_id", projectID, "new_commits", len(commits))
}

func (s *IngestionService) writeAudit(action, projectID string, details map[string]any) {
	if s.audit == nil {
		return
	}
	raw, _ := json.Marshal(details)
	if err := s.audit.WriteAudit(systemActor, action, "project", projectID, string(raw), "", ""); err != nil {
		s.logger.Warn("audit write failed", "action", action, "error", err)
	}
}

func (s *IngestionService) acquire(projectID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.running[projectID]; busy {
		return false
	}
	s.running[projectID] = struct{}{}
	return true
}

func (s *IngestionService) release(projectID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, projectID)
}

func (s *IngestionService) isRunning(projectID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, busy := s.running[projectID]
	return busy
}

// mergeSaveResult drops rows that could not be saved from the successful
// list and appends their failures.
func mergeSaveResult(result *domain.ProcessingResult, saved *domain.SaveResult) {
	if len(saved.Failed) > 0 {
		unsaved := make(map[string]struct{}, len(saved.Failed))
		for _, f := range saved.Failed {
			unsaved[f.FileName] = struct{}{}
		}
		kept := result.Successful[:0]
		for _, r := range result.Successful {
			if _, ok := unsaved[r.FileName]; !ok {
				kept = append(kept, r)
			}
		}
		result.Successful = kept
		result.Failed = append(result.Failed, saved.Failed...)
	}
	result.Stats.Successful = len(result.Successful)
	result.Stats.Failed = len(result.Failed)
	result.Stats.Saved = saved.Saved
}
