// ABOUTME: Retry utilities for API calls with exponential backoff
// ABOUTME: Shared by the request executor and the embedding pass for one backoff discipline
package util

import (
	"context"
	"time"
)

// CalculateBackoff returns baseDelay * 2^(attempt-1); attempt 1 waits exactly baseDelay
func CalculateBackoff(baseDelay time.Duration, attempt int) time.Duration {
	if attempt <= 0 || baseDelay <= 0 {
		return 0
	}
	// Cap attempt to avoid overflow in bit shift
	if attempt > 30 {
		attempt = 30
	}
	return baseDelay * time.Duration(1<<uint(attempt-1))
}

// Sleeper blocks for d or until ctx is done
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the default Sleeper backed by a timer
func SleepContext(ctx context.Context, d time.Duration) error {
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
