// ABOUTME: Executor submits planned batches to the generation service with bounded retries
// ABOUTME: Rate limits back off and retry; any other failure is terminal for the run
package core

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/harper/kbdistill/internal/llm"
	"github.com/harper/kbdistill/internal/models"
)

// ErrRetriesExhausted means every attempt for a batch was rate limited
var ErrRetriesExhausted = errors.New("retries exhausted")

// Generator produces the raw response text for a batch
type Generator interface {
	Generate(ctx context.Context, batch models.Batch) (string, error)
}

// BatchError is a terminal request failure with enough context to retry by hand
type BatchError struct {
	Index     int
	RecordIDs []string
	Attempts  int
	Err       error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch %d (%d records) failed after %d attempt(s): %v",
		e.Index, len(e.RecordIDs), e.Attempts, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// Result is the raw generation output for one batch
type Result struct {
	Batch    models.Batch
	Raw      string
	Attempts int
}

// ExecutorConfig configures concurrency and retries
type ExecutorConfig struct {
	Concurrency int
	Retry       RetryPolicy
}

// Executor runs batches against a Generator
type Executor struct {
	gen    Generator
	budget *Budget
	cfg    ExecutorConfig
	logger *zap.Logger
}

// NewExecutor creates an executor; budget may be nil
func NewExecutor(gen Generator, budget *Budget, cfg ExecutorConfig, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Executor{gen: gen, budget: budget, cfg: cfg, logger: logger}
}

// Execute generates one batch. Only rate limits are retried, up to MaxAttempts;
// there is no sleep after the final attempt.
func (e *Executor) Execute(ctx context.Context, batch models.Batch) (Result, error) {
	maxAttempts := e.cfg.Retry.attempts()
	fail := func(attempts int, err error) (Result, error) {
		return Result{}, &BatchError{Index: batch.Index, RecordIDs: batch.RecordIDs(), Attempts: attempts, Err: err}
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := e.budget.Wait(ctx, batch.EstimatedTokens); err != nil {
			return fail(attempt-1, err)
		}

		raw, err := e.gen.Generate(ctx, batch)
		if err == nil {
			e.logger.Debug("batch generated",
				zap.Int("batch", batch.Index),
				zap.Int("attempt", attempt),
				zap.Int("bytes", len(raw)))
			return Result{Batch: batch, Raw: raw, Attempts: attempt}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fail(attempt, ctxErr)
		}
		if _, limited := llm.IsRateLimited(err); !limited {
			e.logger.Error("batch failed",
				zap.Int("batch", batch.Index),
				zap.Int("attempt", attempt),
				zap.Strings("record_ids", batch.RecordIDs()),
				zap.Error(err))
			return fail(attempt, err)
		}

		lastErr = err
		if attempt == maxAttempts {
			break
		}
		delay := e.cfg.Retry.Delay(attempt, err)
		e.logger.Warn("rate limited, backing off",
			zap.Int("batch", batch.Index),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay))
		if err := e.cfg.Retry.sleep(ctx, delay); err != nil {
			return fail(attempt, err)
		}
	}

	e.logger.Error("batch retries exhausted",
		zap.Int("batch", batch.Index),
		zap.Int("attempts", maxAttempts),
		zap.Strings("record_ids", batch.RecordIDs()))
	return fail(maxAttempts, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, maxAttempts, lastErr))
}

// ExecuteAll runs batches with at most Concurrency in flight. The first terminal
// failure cancels in-flight siblings and is returned with whatever results completed.
// Results are in completion order, not batch order.
func (e *Executor) ExecuteAll(ctx context.Context, batches []models.Batch) ([]Result, error) {
	results := make([]Result, 0, len(batches))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for _, batch := range batches {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := e.Execute(gctx, batch)
			if err != nil {
				return err
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()
	return results, err
}
