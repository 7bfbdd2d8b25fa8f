// ABOUTME: RetryPolicy is the shared backoff discipline for generation and embedding calls
// ABOUTME: Server-suggested delays win; otherwise initialDelay * 2^(attempt-1)
package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harper/kbdistill/internal/llm"
	"github.com/harper/kbdistill/internal/util"
)

// RetryPolicy bounds attempts and spaces them out. Attempt counters live in the
// caller's loop, never in the policy, so concurrent batches never share them.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	// Sleep is injectable so tests can assert exact delays
	Sleep util.Sleeper
}

// DefaultRetryPolicy returns 5 attempts starting at one second
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  5,
		InitialDelay: time.Second,
		Sleep:        util.SleepContext,
	}
}

// Delay returns how long to wait after a failed attempt (1-based)
func (p RetryPolicy) Delay(attempt int, err error) time.Duration {
	if d, ok := llm.IsRateLimited(err); ok && d > 0 {
		return d
	}
	return util.CalculateBackoff(p.InitialDelay, attempt)
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p RetryPolicy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep == nil {
		return util.SleepContext(ctx, d)
	}
	return p.Sleep(ctx, d)
}

// Do runs fn until it succeeds, the context ends, or attempts run out. Every
// error except cancellation is retried; the returned count is attempts made.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) (int, error) {
	maxAttempts := p.attempts()
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return attempt, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return attempt, ctxErr
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return attempt, perm.err
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return attempt, err
		}
		lastErr = err
		if attempt == maxAttempts {
			break
		}
		if err := p.sleep(ctx, p.Delay(attempt, err)); err != nil {
			return attempt, err
		}
	}
	return maxAttempts, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, maxAttempts, lastErr)
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err so Do returns it without retrying
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}
