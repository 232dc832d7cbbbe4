package port

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, ""},
		{"canceled", fmt.Errorf("run: %w", context.Canceled), KindCanceled},
		{"validation", &ValidationError{Field: "repository_url", Message: "bad"}, KindValidation},
		{"not found", fmt.Errorf("get: %w", ErrProjectNotFound), KindNotFound},
		{"job not found", ErrJobNotFound, KindNotFound},
		{"conflict", fmt.Errorf("%w: p1", ErrIngestionInProgress), KindConflict},
		{"load", &RepositoryLoadError{Reason: ReasonForbidden}, KindRepositoryLoad},
		{"generation wraps rate limit", &EmbeddingGenerationError{Err: &RateLimitError{Provider: "x"}}, KindEmbeddingGeneration},
		{"rate limit", &RateLimitError{Provider: "x"}, KindRateLimit},
		{"provider", &ProviderAPIError{Provider: "x", StatusCode: 500}, KindProviderAPI},
		{"database", &DatabaseError{Op: "insert", Category: DBOther, Err: errors.New("x")}, KindDatabase},
		{"commit", &CommitProcessingError{CommitHash: "abc", Err: errors.New("x")}, KindCommitProcessing},
		{"unknown", errors.New("boom"), KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestDBCategoryOf(t *testing.T) {
	assert.Equal(t, DBDuplicate, DBCategoryOf(fmt.Errorf("save: %w", &DatabaseError{Category: DBDuplicate})))
	assert.Equal(t, DBConnection, DBCategoryOf(context.DeadlineExceeded))
	assert.Equal(t, DBOther, DBCategoryOf(errors.New("x")))
}

func TestRetryAfterOf(t *testing.T) {
	err := fmt.Errorf("embed: %w", &RateLimitError{Provider: "x", RetryAfter: 3 * time.Second})
	assert.Equal(t, 3*time.Second, RetryAfterOf(err))
	assert.Zero(t, RetryAfterOf(errors.New("x")))
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "validation: name: is required", (&ValidationError{Field: "name", Message: "is required"}).Error())
	assert.Equal(t, "load repository https://github.com/a/b: not_found",
		(&RepositoryLoadError{Reason: ReasonNotFound, RepositoryURL: "https://github.com/a/b"}).Error())
	assert.Equal(t, "ollama: rate limited (retry after 2s)", (&RateLimitError{Provider: "ollama", RetryAfter: 2 * time.Second}).Error())
}
