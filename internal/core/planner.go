// ABOUTME: Planner partitions records into token-bounded batches using the provider's token oracle
// ABOUTME: Runs as a state machine: Planning -> Validating -> Accepted | Replanning
package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/harper/kbdistill/internal/models"
)

var (
	// ErrRecordTooLarge means a single record exceeds the token limit on its own
	ErrRecordTooLarge = errors.New("record exceeds token limit on its own")
	// ErrOracleUnavailable means the oracle kept failing after batch size reached 1
	ErrOracleUnavailable = errors.New("token oracle unavailable")
	// ErrPlanNotConverged means the iteration guard tripped before a plan was accepted
	ErrPlanNotConverged = errors.New("plan did not converge")
)

// Oracle estimates the token cost of a batch without generating
type Oracle interface {
	EstimateCost(ctx context.Context, batch models.Batch) (int, error)
}

// PlannerConfig bounds the planner's search
type PlannerConfig struct {
	TokenLimit       int
	ProbeConcurrency int
	// MaxIterations guards against a misbehaving oracle; 0 uses a bound derived from the input
	MaxIterations int
	// MaxOracleFailures is how many failed iterations are tolerated once batch size is 1
	MaxOracleFailures int
}

// DefaultPlannerConfig returns limits matching a 1M-token context window
func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		TokenLimit:        1048576,
		ProbeConcurrency:  4,
		MaxOracleFailures: 3,
	}
}

type planState int

const (
	statePlanning planState = iota
	stateValidating
	stateAccepted
	stateReplanning
)

func (s planState) String() string {
	switch s {
	case statePlanning:
		return "planning"
	case stateValidating:
		return "validating"
	case stateAccepted:
		return "accepted"
	case stateReplanning:
		return "replanning"
	}
	return "unknown"
}

// probeResult is the verdict of one validation pass over every batch
type probeResult struct {
	maxCost   int
	overIndex int // batch holding maxCost when over the limit, else -1
	failures  int
	lastErr   error
}

func (r probeResult) accepted(limit int) bool {
	return r.failures == 0 && r.maxCost <= limit
}

// Planner produces ChunkPlans
type Planner struct {
	oracle Oracle
	cfg    PlannerConfig
	logger *zap.Logger
}

// NewPlanner creates a planner; a nil logger disables logging
func NewPlanner(oracle Oracle, cfg PlannerConfig, logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ProbeConcurrency < 1 {
		cfg.ProbeConcurrency = 1
	}
	if cfg.MaxOracleFailures < 1 {
		cfg.MaxOracleFailures = 1
	}
	return &Planner{oracle: oracle, cfg: cfg, logger: logger}
}

// Seed makes one whole-set oracle call and returns a starting batch count of
// ceil(total/limit). Any oracle error falls back to 1.
func (p *Planner) Seed(ctx context.Context, records []models.Record, shared json.RawMessage) int {
	if len(records) == 0 {
		return 1
	}
	cost, err := p.oracle.EstimateCost(ctx, models.Batch{Records: records, SharedContext: shared})
	if err != nil {
		p.logger.Warn("seed estimate failed, starting from one batch", zap.Error(err))
		return 1
	}
	return clampCount(ceilDiv(cost, p.cfg.TokenLimit), len(records))
}

// Plan partitions records into contiguous batches whose estimated cost fits the token limit.
// Record order is preserved within and across batches. Empty input returns an empty plan.
func (p *Planner) Plan(ctx context.Context, records []models.Record, shared json.RawMessage, initialBatchCount int) ([]models.Batch, error) {
	n := len(records)
	if n == 0 {
		return []models.Batch{}, nil
	}

	maxIter := p.cfg.MaxIterations
	if maxIter <= 0 {
		maxIter = n + p.cfg.MaxOracleFailures + 1
	}

	count := clampCount(initialBatchCount, n)
	state := statePlanning
	var (
		batches   []models.Batch
		probe     probeResult
		iteration int
		streak    int // consecutive failed iterations at batch size 1
	)

	for {
		switch state {
		case statePlanning:
			iteration++
			if iteration > maxIter {
				return nil, fmt.Errorf("%w after %d iterations", ErrPlanNotConverged, maxIter)
			}
			batches = partition(records, shared, count)
			state = stateValidating

		case stateValidating:
			var err error
			probe, err = p.validate(ctx, batches)
			if err != nil {
				return nil, err
			}
			p.logger.Debug("plan iteration",
				zap.Int("iteration", iteration),
				zap.Int("batch_count", len(batches)),
				zap.Int("max_cost", probe.maxCost),
				zap.Int("oracle_failures", probe.failures))
			if probe.accepted(p.cfg.TokenLimit) {
				state = stateAccepted
			} else {
				state = stateReplanning
			}

		case stateAccepted:
			p.logger.Info("plan accepted",
				zap.Int("records", n),
				zap.Int("batches", len(batches)),
				zap.Int("iterations", iteration))
			return batches, nil

		case stateReplanning:
			next, err := p.replan(count, n, batches, probe, &streak)
			if err != nil {
				return nil, err
			}
			count = next
			state = statePlanning
		}
	}
}

// replan picks the next batch count from the last probe, or reports why no plan exists
func (p *Planner) replan(count, n int, batches []models.Batch, probe probeResult, streak *int) (int, error) {
	over := probe.maxCost > p.cfg.TokenLimit

	if count >= n {
		if over {
			b := batches[probe.overIndex]
			return 0, fmt.Errorf("%w: record %s costs %d tokens (limit %d)",
				ErrRecordTooLarge, b.Records[0].ID, probe.maxCost, p.cfg.TokenLimit)
		}
		*streak++
		if *streak >= p.cfg.MaxOracleFailures {
			return 0, fmt.Errorf("%w: %d failed iterations at batch size 1: %v",
				ErrOracleUnavailable, *streak, probe.lastErr)
		}
		p.logger.Warn("oracle failed at batch size 1, re-probing",
			zap.Int("attempt", *streak), zap.Error(probe.lastErr))
		return count, nil
	}

	inc := 1
	if over {
		inc = max(1, ceilDiv(probe.maxCost, p.cfg.TokenLimit))
	}
	if probe.failures > 0 {
		p.logger.Warn("oracle failed for some batches, growing batch count",
			zap.Int("failures", probe.failures), zap.Error(probe.lastErr))
	}
	return shrinkingCount(count, count+inc, n), nil
}

// shrinkingCount advances next until the batch size actually drops, so a replan
// never re-probes the identical partition
func shrinkingCount(count, next, n int) int {
	next = clampCount(next, n)
	size := ceilDiv(n, count)
	for next < n && ceilDiv(n, next) >= size {
		next++
	}
	return next
}

// validate estimates every batch, with at most ProbeConcurrency oracle calls in flight.
// Oracle errors are counted, not returned; only context cancellation aborts.
func (p *Planner) validate(ctx context.Context, batches []models.Batch) (probeResult, error) {
	res := probeResult{overIndex: -1}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.ProbeConcurrency)
	for i := range batches {
		g.Go(func() error {
			cost, err := p.oracle.EstimateCost(gctx, batches[i])
			if err != nil && gctx.Err() != nil {
				return gctx.Err()
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.failures++
				res.lastErr = err
				return nil
			}
			batches[i].EstimatedTokens = cost
			if cost > res.maxCost {
				res.maxCost = cost
				if cost > p.cfg.TokenLimit {
					res.overIndex = i
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return probeResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return probeResult{}, err
	}
	return res, nil
}

// partition splits records into contiguous batches of ceil(n/count) records
func partition(records []models.Record, shared json.RawMessage, count int) []models.Batch {
	size := ceilDiv(len(records), count)
	batches := make([]models.Batch, 0, count)
	for start := 0; start < len(records); start += size {
		end := min(start+size, len(records))
		batches = append(batches, models.Batch{
			Index:         len(batches),
			Records:       records[start:end:end],
			SharedContext: shared,
		})
	}
	return batches
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return a
	}
	return (a + b - 1) / b
}

func clampCount(count, n int) int {
	if count < 1 {
		return 1
	}
	if count > n {
		return n
	}
	return count
}
