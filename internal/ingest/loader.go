package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/arturoeanton/go-repoflow/internal/domain"
	"github.com/arturoeanton/go-repoflow/internal/port"
)

// Loader validates a repository URL and fetches its eligible files through a
// source provider.
type Loader struct {
	source port.SourceProvider
	filter *Filter
	host   string
	logger *slog.Logger
}

// NewLoader creates a loader that only accepts URLs on host.
func NewLoader(source port.SourceProvider, filter *Filter, host string, logger *slog.Logger) *Loader {
	if host == "" {
		host = "github.com"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		source: source,
		filter: filter,
		host:   strings.TrimPrefix(strings.ToLower(host), "www."),
		logger: logger,
	}
}

// Validate checks that repoURL parses and points at the configured host.
func (l *Loader) Validate(repoURL string) (domain.RepoRef, error) {
	ref, err := domain.ParseRepoURL(repoURL)
	if err != nil {
		return ref, &port.ValidationError{Field: "repository_url", Message: err.Error()}
	}
	if ref.Host != l.host {
		return ref, &port.ValidationError{
			Field:   "repository_url",
			Message: fmt.Sprintf("host %q is not supported, expected %s", ref.Host, l.host),
		}
	}
	return ref, nil
}

// Load returns the eligible files of the repository. It never returns an
// empty slice without an error.
func (l *Loader) Load(ctx context.Context, repoURL, token string) ([]domain.RepositoryFile, error) {
	ref, err := l.Validate(repoURL)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	files, err := l.source.ListFiles(ctx, port.ListFilesRequest{
		RepoURL: repoURL,
		Token:   token,
		Include: l.filter.Include,
	})
	if err != nil {
		return nil, classifyLoadError(repoURL, err)
	}

	eligible := files[:0]
	for _, f := range files {
		if l.filter.Include(f.Path) {
			eligible = append(eligible, f)
		}
	}

	if len(eligible) == 0 {
		return nil, &port.RepositoryLoadError{
			Reason:        port.ReasonEmpty,
			RepositoryURL: repoURL,
			Err:           errors.New("repository has no eligible files"),
		}
	}

	l.logger.Info("repository loaded",
		"repo", ref.FullName(),
		"provider", l.source.Name(),
		"files", len(eligible),
		"duration", time.Since(start),
	)
	return eligible, nil
}

// classifyLoadError makes sure every load failure reaches the caller as a
// *port.RepositoryLoadError (or a validation/cancellation error).
func classifyLoadError(repoURL string, err error) error {
	var (
		loadErr    *port.RepositoryLoadError
		validation *port.ValidationError
	)
	if errors.As(err, &loadErr) || errors.As(err, &validation) || errors.Is(err, context.Canceled) {
		return err
	}

	reason := port.ReasonUnknown
	var rate *port.RateLimitError
	switch {
	case errors.As(err, &rate):
		reason = port.ReasonRateLimited
	case errors.Is(err, context.DeadlineExceeded):
		reason = port.ReasonTimeout
	}
	return &port.RepositoryLoadError{Reason: reason, RepositoryURL: repoURL, Err: err}
}
