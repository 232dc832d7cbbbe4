package domain

import "time"

// RepositoryFile is one file produced by the source loader. It is transient:
// it lives only until the embedding pipeline has consumed it.
type RepositoryFile struct {
	Path       string `json:"path"`
	Content    string `json:"content"`
	Repository string `json:"repository"` // owner/name
	Branch     string `json:"branch,omitempty"`
	Size       int    `json:"size"`
}

// EmbeddingResult is the output of the pipeline for a single file.
type EmbeddingResult struct {
	FileName   string    `json:"file_name"`
	SourceCode string    `json:"source_code"`
	Summary    string    `json:"summary"`
	Embedding  []float32 `json:"-"`
}

// SourceCodeEmbedding is the persisted form of an EmbeddingResult.
type SourceCodeEmbedding struct {
	ID         string    `json:"id"          db:"id"`
	ProjectID  string    `json:"project_id"  db:"project_id"`
	RunID      string    `json:"run_id"      db:"run_id"`
	FileName   string    `json:"file_name"   db:"file_name"`
	SourceCode string    `json:"source_code" db:"source_code"`
	Summary    string    `json:"summary"     db:"summary"`
	Embedding  []float32 `json:"-"           db:"summary_embedding"`
	CreatedAt  time.Time `json:"created_at"  db:"created_at"`
}

// FileReference is a stored file returned by similarity search.
type FileReference struct {
	FileName   string  `json:"file_name"`
	SourceCode string  `json:"source_code"`
	Summary    string  `json:"summary"`
	Similarity float64 `json:"similarity"`
}
