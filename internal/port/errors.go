package port

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors used across ports.
var (
	ErrProjectNotFound     = errors.New("project not found")
	ErrJobNotFound         = errors.New("ingestion job not found")
	ErrEmptySummary        = errors.New("provider returned an empty summary")
	ErrInvalidDimension    = errors.New("embedding has unexpected dimension")
	ErrNoEmbeddings        = errors.New("no file produced a usable embedding")
	ErrNothingSaved        = errors.New("no embedding could be saved")
	ErrIngestionInProgress = errors.New("ingestion already in progress for project")
	ErrQueueClosed         = errors.New("task queue is closed")
	ErrQueueFull           = errors.New("task queue is full")
)

// ErrorKind is the coarse classification of a failure.
type ErrorKind string

// Error kinds.
const (
	KindUnknown             ErrorKind = "unknown"
	KindValidation          ErrorKind = "validation"
	KindRepositoryLoad      ErrorKind = "repository_load"
	KindRateLimit           ErrorKind = "rate_limit"
	KindProviderAPI         ErrorKind = "provider_api"
	KindEmbeddingGeneration ErrorKind = "embedding_generation"
	KindDatabase            ErrorKind = "database"
	KindCommitProcessing    ErrorKind = "commit_processing"
	KindNotFound            ErrorKind = "not_found"
	KindConflict            ErrorKind = "conflict"
	KindCanceled            ErrorKind = "canceled"
)

// ValidationError reports bad input shape, such as a malformed repository URL.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// LoadReason classifies why a repository could not be loaded.
type LoadReason string

// Repository load reasons.
const (
	ReasonNotFound     LoadReason = "not_found"
	ReasonForbidden    LoadReason = "forbidden"
	ReasonUnauthorized LoadReason = "unauthorized"
	ReasonRateLimited  LoadReason = "rate_limited"
	ReasonTimeout      LoadReason = "timeout"
	ReasonNetwork      LoadReason = "network"
	ReasonEmpty        LoadReason = "empty"
	ReasonUnknown      LoadReason = "unknown"
)

// RepositoryLoadError is returned by source providers and the loader.
type RepositoryLoadError struct {
	Reason        LoadReason
	RepositoryURL string
	Err           error
}

func (e *RepositoryLoadError) Error() string {
	msg := fmt.Sprintf("load repository %s: %s", e.RepositoryURL, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RepositoryLoadError) Unwrap() error { return e.Err }

// RateLimitError reports upstream throttling. RetryAfter is zero when the
// provider gave no hint.
type RateLimitError struct {
	Provider   string
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	msg := e.Provider + ": rate limited"
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(" (retry after %s)", e.RetryAfter)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// ProviderAPIError is a generic upstream failure carrying the HTTP status.
type ProviderAPIError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *ProviderAPIError) Error() string {
	return fmt.Sprintf("%s API error (%d): %s", e.Provider, e.StatusCode, e.Message)
}

// EmbeddingGenerationError means a file's summary or vector was unobtainable
// after retries.
type EmbeddingGenerationError struct {
	FileName string
	Stage    string // summarize, embed
	Attempts int
	Err      error
}

func (e *EmbeddingGenerationError) Error() string {
	return fmt.Sprintf("%s %s failed after %d attempt(s): %v", e.Stage, e.FileName, e.Attempts, e.Err)
}

func (e *EmbeddingGenerationError) Unwrap() error { return e.Err }

// DBCategory sub-classifies database failures.
type DBCategory string

// Database failure categories.
const (
	DBDuplicate  DBCategory = "duplicate"
	DBConnection DBCategory = "connection"
	DBOther      DBCategory = "other"
)

// DatabaseError wraps a store failure with its category.
type DatabaseError struct {
	Op       string
	Category DBCategory
	Err      error
}

func (e *DatabaseError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Op, e.Category, e.Err)
}

func (e *DatabaseError) Unwrap() error { return e.Err }

// CommitProcessingError is a non-fatal failure for a single commit.
type CommitProcessingError struct {
	CommitHash string
	Err        error
}

func (e *CommitProcessingError) Error() string {
	return fmt.Sprintf("process commit %s: %v", e.CommitHash, e.Err)
}

func (e *CommitProcessingError) Unwrap() error { return e.Err }

// KindOf classifies an error chain.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var (
		validation *ValidationError
		load       *RepositoryLoadError
		rate       *RateLimitError
		api        *ProviderAPIError
		gen        *EmbeddingGenerationError
		db         *DatabaseError
		commit     *CommitProcessingError
	)
	switch {
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.As(err, &validation):
		return KindValidation
	case errors.Is(err, ErrProjectNotFound), errors.Is(err, ErrJobNotFound):
		return KindNotFound
	case errors.Is(err, ErrIngestionInProgress):
		return KindConflict
	case errors.As(err, &load):
		return KindRepositoryLoad
	case errors.As(err, &gen):
		return KindEmbeddingGeneration
	case errors.As(err, &commit):
		return KindCommitProcessing
	case errors.As(err, &rate):
		return KindRateLimit
	case errors.As(err, &api):
		return KindProviderAPI
	case errors.As(err, &db):
		return KindDatabase
	}
	return KindUnknown
}

// DBCategoryOf returns the database category of err, or DBOther.
func DBCategoryOf(err error) DBCategory {
	var db *DatabaseError
	if errors.As(err, &db) {
		return db.Category
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return DBConnection
	}
	return DBOther
}

// RetryAfterOf extracts a provider retry hint from err.
func RetryAfterOf(err error) time.Duration {
	var rate *RateLimitError
	if errors.As(err, &rate) {
		return rate.RetryAfter
	}
	return 0
}
