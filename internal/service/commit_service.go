package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/arturoeanton/go-repoflow/internal/domain"
	"github.com/arturoeanton/go-repoflow/internal/metrics"
	"github.com/arturoeanton/go-repoflow/internal/port"
)

// emptyDiffSummary is stored for commits whose diff is empty.
const emptyDiffSummary = "No changes found in this commit."

// Pagination bounds for commit and question listings.
const (
	defaultPageSize = 50
	maxPageSize     = 100
)

var bulletPrefix = regexp.MustCompile(`(?m)^\s*\*\s*`)

// CommitConfig tunes commit ingestion.
type CommitConfig struct {
	Window    int           // most recent commits considered per sync
	BatchSize int           // commits processed between pauses
	Interval  time.Duration // pause between batches
}

// DefaultCommitConfig returns the production commit window and pacing.
func DefaultCommitConfig() CommitConfig {
	return CommitConfig{Window: 10, BatchSize: 3, Interval: time.Second}
}

// CommitService summarises new upstream commits for a project.
type CommitService struct {
	source   port.SourceProvider
	ai       port.IntelligenceProvider
	commits  port.CommitStore
	projects port.ProjectStore
	audit    port.AuditWriter
	cfg      CommitConfig
	group    singleflight.Group
	sleep    func(ctx context.Context, d time.Duration) error
	logger   *slog.Logger
}

// NewCommitService creates a commit service. audit may be nil.
func NewCommitService(source port.SourceProvider, ai port.IntelligenceProvider, commits port.CommitStore, projects port.ProjectStore, audit port.AuditWriter, cfg CommitConfig, logger *slog.Logger) *CommitService {
	d := DefaultCommitConfig()
	if cfg.Window <= 0 {
		cfg.Window = d.Window
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = d.BatchSize
	}
	if cfg.Interval < 0 {
		cfg.Interval = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CommitService{
		source:   source,
		ai:       ai,
		commits:  commits,
		projects: projects,
		audit:    audit,
		cfg:      cfg,
		sleep:    sleepCtx,
		logger:   logger,
	}
}

// SetSleeper replaces the pause between batches.
func (s *CommitService) SetSleeper(fn func(ctx context.Context, d time.Duration) error) { s.sleep = fn }

// SyncCommits stores summaries for commits in the recent window that are not
// stored yet and returns only those. token is optional and reaches private
// repositories. Concurrent calls for one project share a single run, which is
// detached from any one caller's cancellation; a cancelled caller stops
// waiting but the run continues for the others.
func (s *CommitService) SyncCommits(ctx context.Context, projectID, token string) ([]domain.Commit, error) {
	if projectID == "" {
		return nil, &port.ValidationError{Field: "project_id", Message: "is required"}
	}
	runCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan(projectID, func() (any, error) {
		return s.sync(runCtx, projectID, token)
	})
	select {
	case r := <-ch:
		if r.Shared {
			s.logger.Debug("joined running commit sync", "project_id", projectID)
		}
		added, _ := r.Val.([]domain.Commit)
		return added, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *CommitService) sync(ctx context.Context, projectID, token string) ([]domain.Commit, error) {
	project, err := s.projects.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	upstream, err := s.source.ListRecentCommits(ctx, project.GitHubURL, token, s.cfg.Window)
	if err != nil {
		return nil, fmt.Errorf("list recent commits: %w", err)
	}

	stored, err := s.commits.ListCommitHashes(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list stored commits: %w", err)
	}
	known := make(map[string]struct{}, len(stored))
	for _, h := range stored {
		known[h] = struct{}{}
	}

	var pending []domain.CommitInfo
	for _, c := range upstream {
		if _, ok := known[c.Hash]; ok {
			continue
		}
		known[c.Hash] = struct{}{}
		pending = append(pending, c)
	}

	added := []domain.Commit{}
	if len(pending) == 0 {
		s.logger.Info("no new commits", "project_id", projectID)
		return added, nil
	}

	for i, info := range pending {
		if i > 0 && i%s.cfg.BatchSize == 0 {
			if err := s.sleep(ctx, s.cfg.Interval); err != nil {
				return added, err
			}
		}
		if err := ctx.Err(); err != nil {
			return added, err
		}

		c, err := s.processCommit(ctx, project, token, info)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return added, err
			}
			metrics.CommitFailed()
			s.logger.Warn("commit skipped", "project_id", projectID, "commit", info.Hash, "kind", port.KindOf(err), "error", err)
			continue
		}
		if c == nil {
			continue
		}
		metrics.CommitSynced()
		added = append(added, *c)
	}

	s.logger.Info("commits synced", "project_id", projectID, "new", len(added), "considered", len(pending))
	if s.audit != nil {
		raw, _ := json.Marshal(map[string]any{"new_commits": len(added)})
		if err := s.audit.WriteAudit(systemActor, domain.AuditActionCommitSync, "project", projectID, string(raw), "", ""); err != nil {
			s.logger.Warn("audit write failed", "error", err)
		}
	}
	return added, nil
}

// processCommit summarises and persists one commit. A nil commit with a nil
// error means another writer stored it first.
func (s *CommitService) processCommit(ctx context.Context, project *domain.Project, token string, info domain.CommitInfo) (*domain.Commit, error) {
	diff, err := s.source.CommitDiff(ctx, project.GitHubURL, token, info.Hash)
	if err != nil {
		return nil, &port.CommitProcessingError{CommitHash: info.Hash, Err: err}
	}

	summary := emptyDiffSummary
	if strings.TrimSpace(diff) != "" {
		raw, err := s.ai.SummarizeDiff(ctx, diff)
		if err != nil {
			return nil, &port.CommitProcessingError{CommitHash: info.Hash, Err: err}
		}
		summary = cleanCommitSummary(raw)
		if summary == "" {
			return nil, &port.CommitProcessingError{CommitHash: info.Hash, Err: port.ErrEmptySummary}
		}
	}

	c := &domain.Commit{
		ProjectID:          project.ID,
		CommitHash:         info.Hash,
		CommitMessage:      info.Message,
		CommitAuthorName:   info.AuthorName,
		CommitAuthorAvatar: info.AuthorAvatar,
		CommitDate:         info.Date,
		Summary:            summary,
	}
	inserted, err := s.commits.CreateCommit(ctx, c)
	if err != nil {
		return nil, &port.CommitProcessingError{CommitHash: info.Hash, Err: err}
	}
	if !inserted {
		return nil, nil
	}
	return c, nil
}

// ListCommits returns one page of the project's stored commits, newest first.
func (s *CommitService) ListCommits(ctx context.Context, projectID string, limit, offset int) (*domain.CommitPage, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	limit = min(limit, maxPageSize)
	offset = max(offset, 0)

	commits, total, err := s.commits.ListCommits(ctx, projectID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list commits: %w", err)
	}
	if commits == nil {
		commits = []domain.Commit{}
	}
	return &domain.CommitPage{
		Commits: commits,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+len(commits) < total,
	}, nil
}

// cleanCommitSummary strips markdown bullets the model tends to emit.
func cleanCommitSummary(s string) string {
	return strings.TrimSpace(bulletPrefix.ReplaceAllString(s, ""))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
