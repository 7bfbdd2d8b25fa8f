// ABOUTME: Tests for RetryPolicy delay selection and the generic retry loop
// ABOUTME: Server delays win over exponential backoff; cancellation and permanent errors stop immediately
package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/harper/kbdistill/internal/llm"
)

func TestRetryPolicy_Delay(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, InitialDelay: time.Second}
	tests := []struct {
		name    string
		attempt int
		err     error
		want    time.Duration
	}{
		{"first backoff", 1, errors.New("x"), time.Second},
		{"third backoff", 3, errors.New("x"), 4 * time.Second},
		{"server delay wins", 3, &llm.RateLimitError{RetryAfter: 30 * time.Second}, 30 * time.Second},
		{"rate limit without delay backs off", 2, &llm.RateLimitError{}, 2 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Delay(tt.attempt, tt.err); got != tt.want {
				t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
			}
		})
	}
}

func TestRetryPolicy_DoSucceedsAfterFailures(t *testing.T) {
	sleeper := &recordingSleeper{}
	p := testRetry(sleeper, 5)
	calls := 0

	attempts, err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	if diff := cmp.Diff([]time.Duration{time.Second, 2 * time.Second}, sleeper.recorded()); diff != "" {
		t.Errorf("sleeps mismatch (-want +got):\n%s", diff)
	}
}

func TestRetryPolicy_DoExhausted(t *testing.T) {
	sleeper := &recordingSleeper{}
	p := testRetry(sleeper, 3)
	cause := errors.New("still down")

	attempts, err := p.Do(context.Background(), func(context.Context) error { return cause })
	if !errors.Is(err, ErrRetriesExhausted) || !errors.Is(err, cause) {
		t.Fatalf("Do() error = %v, want ErrRetriesExhausted wrapping cause", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	if got := len(sleeper.recorded()); got != 2 {
		t.Errorf("sleeps = %d, want 2", got)
	}
}

func TestRetryPolicy_DoPermanent(t *testing.T) {
	sleeper := &recordingSleeper{}
	p := testRetry(sleeper, 5)
	cause := errors.New("gone")

	attempts, err := p.Do(context.Background(), func(context.Context) error { return Permanent(cause) })
	if !errors.Is(err, cause) || errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("Do() error = %v, want the permanent cause", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) should be nil")
	}
}

func TestRetryPolicy_DoCancelled(t *testing.T) {
	p := testRetry(&recordingSleeper{}, 5)
	ctx, cancel := context.WithCancel(context.Background())

	_, err := p.Do(ctx, func(context.Context) error {
		cancel()
		return errors.New("interrupted")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Do() error = %v, want context.Canceled", err)
	}
}

func TestRetryPolicy_AttemptsFloor(t *testing.T) {
	p := RetryPolicy{}
	if got := p.attempts(); got != 1 {
		t.Errorf("attempts() = %d, want 1", got)
	}
}
