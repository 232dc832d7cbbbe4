package domain

import "time"

// Project is a repository registered for ingestion. Only Status is written by
// the ingestion core; the remaining fields belong to the project layer.
type Project struct {
	ID        string    `json:"id"         db:"id"`
	Name      string    `json:"name"       db:"name"`
	GitHubURL string    `json:"github_url" db:"github_url"`
	Status    string    `json:"status"     db:"status"` // indexing, completed, failed
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Project status constants.
const (
	ProjectStatusIndexing  = "indexing"
	ProjectStatusCompleted = "completed"
	ProjectStatusFailed    = "failed"
)

// IsTerminal reports whether an ingestion run has settled on this status.
func (p Project) IsTerminal() bool {
	return p.Status == ProjectStatusCompleted || p.Status == ProjectStatusFailed
}
