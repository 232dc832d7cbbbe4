package domain

import "time"

// Commit is a summarised commit persisted for a project.
// Identity is (ProjectID, CommitHash).
type Commit struct {
	ID                 string    `json:"id"                   db:"id"`
	ProjectID          string    `json:"project_id"           db:"project_id"`
	CommitHash         string    `json:"commit_hash"          db:"commit_hash"`
	CommitMessage      string    `json:"commit_message"       db:"commit_message"`
	CommitAuthorName   string    `json:"commit_author_name"   db:"commit_author_name"`
	CommitAuthorAvatar string    `json:"commit_author_avatar" db:"commit_author_avatar"`
	CommitDate         time.Time `json:"commit_date"          db:"commit_date"`
	Summary            string    `json:"summary"              db:"summary"`
	CreatedAt          time.Time `json:"created_at"           db:"created_at"`
}

// CommitInfo is commit metadata as reported by a source provider.
type CommitInfo struct {
	Hash         string    `json:"hash"`
	Message      string    `json:"message"`
	AuthorName   string    `json:"author_name"`
	AuthorAvatar string    `json:"author_avatar,omitempty"`
	Date         time.Time `json:"date"`
}

// CommitPage is one page of a project's commit log.
type CommitPage struct {
	Commits []Commit `json:"commits"`
	Total   int      `json:"total"`
	Limit   int      `json:"limit"`
	Offset  int      `json:"offset"`
	HasMore bool     `json:"has_more"`
}
