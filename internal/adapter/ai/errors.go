package ai

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/arturoeanton/go-repoflow/internal/port"
)

// classifyStatus turns a non-200 response into a structured provider error.
func classifyStatus(provider string, status int, header http.Header, body []byte) error {
	apiErr := &port.ProviderAPIError{
		Provider:   provider,
		StatusCode: status,
		Message:    strings.TrimSpace(string(body)),
	}
	if status == http.StatusTooManyRequests {
		return &port.RateLimitError{
			Provider:   provider,
			RetryAfter: parseRetryAfter(header.Get("Retry-After"), time.Now()),
			Err:        apiErr,
		}
	}
	return apiErr
}

// parseRetryAfter understands both delta-seconds and HTTP-date forms.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}
