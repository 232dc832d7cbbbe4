package domain

import "time"

// ProcessingJob is the advisory progress record of one ingestion run. It is
// keyed by project and lives only as long as the process does.
type ProcessingJob struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"project_id"`
	Status      string     `json:"status"` // pending, processing, completed, failed
	Progress    Progress   `json:"progress"`
	Saved       int        `json:"saved"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Progress tracks how far the current phase has advanced.
type Progress struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Phase   string `json:"phase"` // loading, processing, saving
}

// Job status constants.
const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// Job phase constants.
const (
	PhaseLoading    = "loading"
	PhaseProcessing = "processing"
	PhaseSaving     = "saving"
)

// Done reports whether the job reached a terminal status.
func (j ProcessingJob) Done() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// FileFailure records a file that could not be embedded or saved.
type FileFailure struct {
	FileName string `json:"file_name"`
	Error    string `json:"error"`
	Stage    string `json:"stage"`              // processing, saving
	Category string `json:"category,omitempty"` // duplicate, connection, other (saving only)
}

// ProcessingStats summarises a pipeline or ingestion run.
type ProcessingStats struct {
	Total      int           `json:"total"`
	Successful int           `json:"successful"`
	Failed     int           `json:"failed"`
	Skipped    int           `json:"skipped"`    // no usable path
	Duplicates int           `json:"duplicates"` // repeated path, first occurrence kept
	Saved      int           `json:"saved"`
	Batches    int           `json:"batches"`
	BatchSize  int           `json:"batch_size"`
	BatchDelay time.Duration `json:"batch_delay"`
	Retries    int           `json:"retries"`
	Duration   time.Duration `json:"duration"`
}

// ProcessingResult partitions the input files into successes and failures.
type ProcessingResult struct {
	Successful []EmbeddingResult `json:"successful"`
	Failed     []FileFailure     `json:"failed"`
	Stats      ProcessingStats   `json:"stats"`
}

// SaveResult is the outcome of persisting a set of embedding results.
type SaveResult struct {
	Saved  int           `json:"saved"`
	Failed []FileFailure `json:"failed"`
}
