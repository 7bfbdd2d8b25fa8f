// ABOUTME: Tagger categorises records that arrive without a category via the tagging task
// ABOUTME: Plans and executes tagging batches like article batches, then merges labels by id
package core

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/harper/kbdistill/internal/models"
)

// TagReport summarises a tagging pass
type TagReport struct {
	// Records holds every categorised record: those that arrived labelled plus newly tagged ones
	Records  []models.Record
	Tagged   int
	Spam     []string
	Missing  []string
	Failures []models.BatchFailure
}

// Tagger runs uncategorised records through a tagging planner and executor
type Tagger struct {
	planner  *Planner
	executor *Executor
	logger   *zap.Logger
}

// NewTagger creates a tagger over a planner/executor pair bound to the tagging task
func NewTagger(planner *Planner, executor *Executor, logger *zap.Logger) *Tagger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tagger{planner: planner, executor: executor, logger: logger}
}

// Tag labels every record lacking a category. Records judged spam or never returned
// by the model are dropped and listed in the report.
func (t *Tagger) Tag(ctx context.Context, records []models.Record) (*TagReport, error) {
	report := &TagReport{}
	var pending []models.Record
	for _, r := range records {
		if r.HasCategory() {
			report.Records = append(report.Records, r)
		} else {
			pending = append(pending, r)
		}
	}
	if len(pending) == 0 {
		return report, nil
	}

	seed := t.planner.Seed(ctx, pending, nil)
	batches, err := t.planner.Plan(ctx, pending, nil, seed)
	if err != nil {
		return report, fmt.Errorf("plan tagging batches: %w", err)
	}

	results, err := t.executor.ExecuteAll(ctx, batches)
	if err != nil {
		return report, fmt.Errorf("execute tagging batches: %w", err)
	}

	parsed := 0
	for _, res := range results {
		tr, err := MergeTags(res.Raw, res.Batch, t.logger)
		if err != nil {
			var pe *ParseError
			if errors.As(err, &pe) {
				t.logger.Warn("tagging batch unparseable",
					zap.Int("batch", pe.Index), zap.Error(pe.Err))
				report.Failures = append(report.Failures, batchFailure(TaskGroupTagging, pe))
				continue
			}
			return report, err
		}
		parsed++
		report.Records = append(report.Records, tr.Tagged...)
		report.Tagged += len(tr.Tagged)
		report.Spam = append(report.Spam, tr.Spam...)
		report.Missing = append(report.Missing, tr.Missing...)
	}

	if len(report.Missing) > 0 {
		t.logger.Warn("records not returned by tagging", zap.Strings("record_ids", report.Missing))
	}
	t.logger.Info("tagging finished",
		zap.Int("pending", len(pending)),
		zap.Int("tagged", report.Tagged),
		zap.Int("spam", len(report.Spam)),
		zap.Int("failed_batches", len(report.Failures)))

	if parsed == 0 && len(results) > 0 && len(report.Records) == 0 {
		return report, fmt.Errorf("%w: every tagging batch failed to parse", ErrNoValidResults)
	}
	return report, nil
}

// TaskGroupTagging labels tagging batch failures in run reports
const TaskGroupTagging = "tagging"

func batchFailure(group string, pe *ParseError) models.BatchFailure {
	return models.BatchFailure{
		Group:     group,
		Index:     pe.Index,
		RecordIDs: pe.RecordIDs,
		Raw:       pe.Raw,
		Error:     pe.Err.Error(),
	}
}
