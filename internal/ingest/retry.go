package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/arturoeanton/go-repoflow/internal/port"
)

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// sleepCtx is the production Sleeper.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RetryPolicy is an exponential backoff over a bounded number of attempts.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

// DefaultRetryPolicy returns three attempts starting at one second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		Multiplier:   2,
		MaxDelay:     30 * time.Second,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.InitialDelay < 0 {
		p.InitialDelay = 0
	}
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	return p
}

// Backoff returns the wait before attempt n+1 after the n-th failure. A
// provider retry hint longer than the computed delay wins.
func (p RetryPolicy) Backoff(n int, err error) time.Duration {
	d := float64(p.InitialDelay)
	for i := 1; i < n; i++ {
		d *= p.Multiplier
		if d >= float64(p.MaxDelay) {
			break
		}
	}
	delay := min(time.Duration(d), p.MaxDelay)
	if hint := port.RetryAfterOf(err); hint > delay {
		delay = hint
	}
	return delay
}

// retryable reports whether another attempt should be made. Every provider
// failure is retried, permanent-looking ones included, so a file always gets
// its full attempt budget. Only cancellation stops early.
func retryable(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}

// retry runs fn until it succeeds, ctx is cancelled or attempts run out.
// onRetry is called before each wait. It returns the number of attempts made.
func retry(ctx context.Context, p RetryPolicy, sleep Sleeper, fn func(context.Context) error, onRetry func(attempt int, wait time.Duration, err error)) (int, error) {
	var err error
	for attempt := 1; ; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			return attempt - 1, cerr
		}
		err = fn(ctx)
		if err == nil {
			return attempt, nil
		}
		if attempt >= p.MaxAttempts || !retryable(err) {
			return attempt, err
		}
		wait := p.Backoff(attempt, err)
		if onRetry != nil {
			onRetry(attempt, wait, err)
		}
		if serr := sleep(ctx, wait); serr != nil {
			return attempt, serr
		}
	}
}
