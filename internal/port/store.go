package port

import (
	"context"

	"github.com/arturoeanton/go-repoflow/internal/domain"
)

// EmbeddingStore persists file embeddings and serves similarity search.
type EmbeddingStore interface {
	// CreateEmbedding inserts the row together with its vector in one atomic
	// write and returns the new row ID.
	CreateEmbedding(ctx context.Context, e *domain.SourceCodeEmbedding) (string, error)

	// SimilaritySearch returns at most limit rows of the project whose cosine
	// similarity to vector is strictly greater than threshold, best first.
	SimilaritySearch(ctx context.Context, projectID string, vector []float32, threshold float64, limit int) ([]domain.FileReference, error)

	// DeleteStaleEmbeddings removes the project's rows from every run other
	// than keepRunID and returns how many were removed.
	DeleteStaleEmbeddings(ctx context.Context, projectID, keepRunID string) (int64, error)
}

// ProjectStore is the slice of the project layer the ingestion core needs.
type ProjectStore interface {
	GetProject(ctx context.Context, id string) (*domain.Project, error)
	UpdateProjectStatus(ctx context.Context, id, status string) error
}

// ProjectRegistry adds project creation for the HTTP and MCP surfaces.
type ProjectRegistry interface {
	ProjectStore
	CreateProject(ctx context.Context, p *domain.Project) (*domain.Project, error)
}

// CommitStore persists summarised commits.
type CommitStore interface {
	// CreateCommit inserts c unless (project, hash) already exists. The
	// boolean reports whether a row was inserted.
	CreateCommit(ctx context.Context, c *domain.Commit) (bool, error)
	ListCommitHashes(ctx context.Context, projectID string) ([]string, error)
	ListCommits(ctx context.Context, projectID string, limit, offset int) ([]domain.Commit, int, error)
}

// QuestionStore persists saved question/answer pairs.
type QuestionStore interface {
	SaveQuestion(ctx context.Context, q *domain.Question) (*domain.Question, error)
	ListQuestions(ctx context.Context, projectID string, limit, offset int) ([]domain.Question, int, error)
}

// AuditWriter records significant actions.
type AuditWriter interface {
	WriteAudit(userID, action, resource, resourceID, details, ip, userAgent string) error
}

// JobStore holds the advisory progress record of each project's ingestion
// run. The in-memory implementation can be swapped for an external cache.
type JobStore interface {
	Get(projectID string) (domain.ProcessingJob, bool)
	Set(job domain.ProcessingJob)
	Delete(projectID string)
}
