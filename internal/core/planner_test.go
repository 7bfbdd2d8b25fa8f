// ABOUTME: Tests for the token-bounded batch planner
// ABOUTME: Covers partition exactness, overflow growth, oracle failures and termination
package core

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/harper/kbdistill/internal/models"
)

func newTestPlanner(o Oracle, limit int) *Planner {
	return NewPlanner(o, PlannerConfig{TokenLimit: limit, ProbeConcurrency: 1, MaxOracleFailures: 3}, nil)
}

func batchSizes(batches []models.Batch) []int {
	sizes := make([]int, len(batches))
	for i, b := range batches {
		sizes[i] = len(b.Records)
	}
	return sizes
}

func TestPlan_SingleRecordFits(t *testing.T) {
	oracle := &fakeOracle{perRecord: 100}
	p := newTestPlanner(oracle, 1048576)

	batches, err := p.Plan(context.Background(), makeRecords(1), nil, 1)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if len(batches) != 1 {
		t.Fatalf("len(batches) = %d, want 1", len(batches))
	}
	if batches[0].EstimatedTokens != 100 {
		t.Errorf("EstimatedTokens = %d, want 100", batches[0].EstimatedTokens)
	}
}

func TestPlan_OverflowGrowsByCeilRatio(t *testing.T) {
	// 4 x 300k = 1.2M against a 1,048,576 limit: count must grow by at least 2
	oracle := &fakeOracle{perRecord: 300000}
	p := newTestPlanner(oracle, 1048576)

	batches, err := p.Plan(context.Background(), makeRecords(4), nil, 1)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if diff := cmp.Diff([]int{2, 2}, batchSizes(batches)); diff != "" {
		t.Errorf("batch sizes mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{4, 2, 2}, oracle.sizes()); diff != "" {
		t.Errorf("probe sizes mismatch (-want +got):\n%s", diff)
	}
}

func TestPlan_OverflowSkipsIntermediateCounts(t *testing.T) {
	// 10 x 250k = 2.5M: ceil(2.5M/1M) = 3, so the second pass uses 4 batches
	oracle := &fakeOracle{perRecord: 250000}
	p := newTestPlanner(oracle, 1048576)

	batches, err := p.Plan(context.Background(), makeRecords(10), nil, 1)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if diff := cmp.Diff([]int{3, 3, 3, 1}, batchSizes(batches)); diff != "" {
		t.Errorf("batch sizes mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{10, 3, 3, 3, 1}, oracle.sizes()); diff != "" {
		t.Errorf("probe sizes mismatch (-want +got):\n%s", diff)
	}
}

func TestPlan_PartitionExactness(t *testing.T) {
	for n := 1; n <= 25; n++ {
		for _, limit := range []int{50, 120, 400, 10000} {
			t.Run(fmt.Sprintf("n=%d/limit=%d", n, limit), func(t *testing.T) {
				records := makeRecords(n)
				costs := make(map[string]int, n)
				for i, r := range records {
					costs[r.ID] = 10 + (i*37)%40
				}
				oracle := &fakeOracle{costs: costs}
				p := NewPlanner(oracle, PlannerConfig{TokenLimit: limit, ProbeConcurrency: 3, MaxOracleFailures: 3}, nil)

				batches, err := p.Plan(context.Background(), records, nil, 1)
				if err != nil {
					t.Fatalf("Plan() error = %v", err)
				}
				if len(batches) > n {
					t.Errorf("len(batches) = %d, exceeds %d records", len(batches), n)
				}

				var ids []string
				for i, b := range batches {
					if len(b.Records) == 0 {
						t.Errorf("batch %d is empty", i)
					}
					if b.Index != i {
						t.Errorf("batch %d has Index %d", i, b.Index)
					}
					sum := 0
					for _, r := range b.Records {
						sum += costs[r.ID]
						ids = append(ids, r.ID)
					}
					if b.EstimatedTokens != sum {
						t.Errorf("batch %d EstimatedTokens = %d, want %d", i, b.EstimatedTokens, sum)
					}
					if b.EstimatedTokens > limit {
						t.Errorf("batch %d costs %d, over limit %d", i, b.EstimatedTokens, limit)
					}
				}
				if diff := cmp.Diff(models.RecordIDs(records), ids); diff != "" {
					t.Errorf("record order mismatch (-want +got):\n%s", diff)
				}
			})
		}
	}
}

func TestPlan_RecordTooLarge(t *testing.T) {
	oracle := &fakeOracle{perRecord: 10, costs: map[string]int{"2": 5000}}
	p := newTestPlanner(oracle, 1000)

	_, err := p.Plan(context.Background(), makeRecords(3), nil, 1)
	if !errors.Is(err, ErrRecordTooLarge) {
		t.Fatalf("Plan() error = %v, want ErrRecordTooLarge", err)
	}
}

func TestPlan_OracleErrorGrowsBatchCount(t *testing.T) {
	oracle := &fakeOracle{
		perRecord: 1,
		fail: func(b models.Batch) error {
			if len(b.Records) > 2 {
				return errors.New("payload too large for count endpoint")
			}
			return nil
		},
	}
	p := newTestPlanner(oracle, 1000)

	batches, err := p.Plan(context.Background(), makeRecords(6), nil, 1)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if diff := cmp.Diff([]int{2, 2, 2}, batchSizes(batches)); diff != "" {
		t.Errorf("batch sizes mismatch (-want +got):\n%s", diff)
	}
}

func TestPlan_OracleUnavailable(t *testing.T) {
	oracle := &fakeOracle{fail: func(models.Batch) error { return errors.New("connection refused") }}
	p := newTestPlanner(oracle, 1000)

	_, err := p.Plan(context.Background(), makeRecords(5), nil, 1)
	if !errors.Is(err, ErrOracleUnavailable) {
		t.Fatalf("Plan() error = %v, want ErrOracleUnavailable", err)
	}

	// Passes of 1, 2, 3 batches while the size shrinks (5, 3, 2), then three passes at size 1
	if got := len(oracle.sizes()); got != 1+2+3+5*3 {
		t.Errorf("oracle calls = %d, want %d", got, 1+2+3+5*3)
	}
}

func TestPlan_NeverReprobesIdenticalPartition(t *testing.T) {
	// For 9 records counts 3 and 4 both give batches of 3, so the next count is 5
	if got := shrinkingCount(3, 4, 9); got != 5 {
		t.Errorf("shrinkingCount(3, 4, 9) = %d, want 5", got)
	}
	if got := shrinkingCount(1, 2, 9); got != 2 {
		t.Errorf("shrinkingCount(1, 2, 9) = %d, want 2", got)
	}
	if got := shrinkingCount(5, 50, 9); got != 9 {
		t.Errorf("shrinkingCount(5, 50, 9) = %d, want 9", got)
	}
}

func TestPlan_EmptyInput(t *testing.T) {
	oracle := &fakeOracle{perRecord: 1}
	p := newTestPlanner(oracle, 10)

	batches, err := p.Plan(context.Background(), nil, nil, 1)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if batches == nil || len(batches) != 0 {
		t.Errorf("Plan(nil) = %v, want empty non-nil plan", batches)
	}
	if len(oracle.sizes()) != 0 {
		t.Errorf("oracle called %d times for empty input", len(oracle.sizes()))
	}
}

func TestPlan_InitialCountClamped(t *testing.T) {
	oracle := &fakeOracle{perRecord: 1}
	p := newTestPlanner(oracle, 10)

	batches, err := p.Plan(context.Background(), makeRecords(3), nil, 100)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if len(batches) != 3 {
		t.Errorf("len(batches) = %d, want 3", len(batches))
	}
}

func TestPlan_SharedContextOnEveryBatch(t *testing.T) {
	oracle := &fakeOracle{perRecord: 1}
	p := newTestPlanner(oracle, 10)
	shared := []byte(`[{"doc":"refund policy"}]`)

	batches, err := p.Plan(context.Background(), makeRecords(4), shared, 2)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	for i, b := range batches {
		if string(b.SharedContext) != string(shared) {
			t.Errorf("batch %d SharedContext = %s, want %s", i, b.SharedContext, shared)
		}
	}
}

func TestPlan_Cancelled(t *testing.T) {
	oracle := &fakeOracle{perRecord: 1}
	p := newTestPlanner(oracle, 10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := p.Plan(ctx, makeRecords(3), nil, 1); !errors.Is(err, context.Canceled) {
		t.Errorf("Plan() error = %v, want context.Canceled", err)
	}
}

func TestPlan_IterationGuard(t *testing.T) {
	oracle := &fakeOracle{perRecord: 600}
	p := NewPlanner(oracle, PlannerConfig{TokenLimit: 1000, ProbeConcurrency: 1, MaxIterations: 1, MaxOracleFailures: 3}, nil)

	_, err := p.Plan(context.Background(), makeRecords(4), nil, 1)
	if !errors.Is(err, ErrPlanNotConverged) {
		t.Errorf("Plan() error = %v, want ErrPlanNotConverged", err)
	}
}

func TestSeed(t *testing.T) {
	tests := []struct {
		name   string
		oracle *fakeOracle
		n      int
		want   int
	}{
		{"ceil of total over limit", &fakeOracle{perRecord: 250000}, 10, 3},
		{"fits in one", &fakeOracle{perRecord: 1}, 10, 1},
		{"clamped to record count", &fakeOracle{perRecord: 5000000}, 2, 2},
		{"oracle error falls back to one", &fakeOracle{fail: func(models.Batch) error { return errors.New("down") }}, 4, 1},
		{"empty input", &fakeOracle{perRecord: 1}, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPlanner(tt.oracle, 1048576)
			if got := p.Seed(context.Background(), makeRecords(tt.n), nil); got != tt.want {
				t.Errorf("Seed() = %d, want %d", got, tt.want)
			}
		})
	}
}
