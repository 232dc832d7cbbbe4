package port

import (
	"context"

	"github.com/arturoeanton/go-repoflow/internal/domain"
)

// ListFilesRequest describes a repository file listing.
type ListFilesRequest struct {
	RepoURL string
	Token   string // optional; providers fall back to their configured token

	// Include reports whether a path should be fetched. Nil includes everything.
	Include func(path string) bool
}

// SourceProvider abstracts the remote repository host. Implementations return
// *RepositoryLoadError with a classified reason for load failures.
type SourceProvider interface {
	// Name identifies the provider in logs and errors.
	Name() string

	// ListFiles returns the eligible text files of a repository with content.
	ListFiles(ctx context.Context, req ListFilesRequest) ([]domain.RepositoryFile, error)

	// ListRecentCommits returns up to limit commits, newest first.
	ListRecentCommits(ctx context.Context, repoURL, token string, limit int) ([]domain.CommitInfo, error)

	// CommitDiff returns the unified diff introduced by a commit.
	CommitDiff(ctx context.Context, repoURL, token, hash string) (string, error)
}
