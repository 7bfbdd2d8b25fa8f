// ABOUTME: Pipeline runs filter, tag, group, plan, execute, repair, dedup and sink in order
// ABOUTME: Batch parse failures are reported; the run fails only when no batch produced output
package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/harper/kbdistill/internal/models"
	"github.com/harper/kbdistill/internal/storage"
)

// ErrNoValidResults means every batch of a run failed to parse
var ErrNoValidResults = errors.New("no batch produced a valid result")

// ContextProvider supplies the shared documentation sent with each group's batches
type ContextProvider interface {
	SharedContext(ctx context.Context, category, subcategory string) (json.RawMessage, error)
}

// StaticContext sends the same documentation with every group
type StaticContext json.RawMessage

// SharedContext implements ContextProvider
func (s StaticContext) SharedContext(context.Context, string, string) (json.RawMessage, error) {
	return json.RawMessage(s), nil
}

// CategoryContext maps a category to its documentation; unknown categories get none
type CategoryContext map[string]json.RawMessage

// SharedContext implements ContextProvider
func (c CategoryContext) SharedContext(_ context.Context, category, subcategory string) (json.RawMessage, error) {
	if doc, ok := c[category+"/"+subcategory]; ok {
		return doc, nil
	}
	return c[category], nil
}

// PipelineConfig controls a run
type PipelineConfig struct {
	Filter FilterConfig
	// Seed makes one whole-group oracle call to choose the starting batch count
	Seed bool
	// DryRun skips the sink; dedup still runs so the report shows what would be saved
	DryRun bool
}

// PipelineDeps wires the pipeline's collaborators. Tagger, Dedup, Sink and
// Contexts are optional.
type PipelineDeps struct {
	Tagger   *Tagger
	Planner  *Planner
	Executor *Executor
	Dedup    *Deduplicator
	Sink     storage.Sink
	Contexts ContextProvider
	Logger   *zap.Logger
}

// Pipeline turns records into new knowledge-base articles
type Pipeline struct {
	deps   PipelineDeps
	cfg    PipelineConfig
	logger *zap.Logger
}

// NewPipeline validates deps and creates a pipeline
func NewPipeline(deps PipelineDeps, cfg PipelineConfig) (*Pipeline, error) {
	if deps.Planner == nil || deps.Executor == nil {
		return nil, errors.New("pipeline requires a planner and an executor")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{deps: deps, cfg: cfg, logger: logger}, nil
}

// Run executes one pipeline pass. The report is returned even on error and holds
// whatever stages completed.
func (p *Pipeline) Run(ctx context.Context, records []models.Record) (*models.RunReport, error) {
	report := &models.RunReport{Records: len(records)}

	kept := Filter(records, p.cfg.Filter)
	report.Filtered = len(records) - len(kept)
	p.logger.Info("records filtered",
		zap.Int("records", len(records)),
		zap.Int("kept", len(kept)))

	categorised, err := p.categorise(ctx, kept, report)
	if err != nil {
		return report, err
	}
	categorised = SelectCategory(categorised, p.cfg.Filter)

	groups := GroupByCategory(categorised)
	report.Groups = len(groups)

	batches, groupOf, err := p.plan(ctx, groups)
	if err != nil {
		return report, err
	}
	report.Batches = len(batches)
	if len(batches) == 0 {
		p.logger.Info("nothing to generate")
		return report, nil
	}

	results, err := p.deps.Executor.ExecuteAll(ctx, batches)
	if err != nil {
		return report, fmt.Errorf("execute batches: %w", err)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Batch.Index < results[j].Batch.Index })

	var artifacts []models.Artifact
	parsed := 0
	for _, res := range results {
		got, err := RepairAndMerge(res.Raw, res.Batch, p.logger)
		if err != nil {
			var pe *ParseError
			if !errors.As(err, &pe) {
				return report, err
			}
			p.logger.Warn("batch unparseable",
				zap.Int("batch", pe.Index),
				zap.String("group", groupOf[pe.Index]),
				zap.Strings("record_ids", pe.RecordIDs),
				zap.Error(pe.Err))
			report.BatchFailures = append(report.BatchFailures, batchFailure(groupOf[pe.Index], pe))
			continue
		}
		parsed++
		artifacts = append(artifacts, got...)
	}
	if parsed == 0 {
		return report, fmt.Errorf("%w: %d batch(es) failed to parse", ErrNoValidResults, len(results))
	}
	report.Candidates = len(artifacts)

	if p.deps.Dedup == nil {
		report.New = artifacts
	} else {
		dr, err := p.deps.Dedup.Deduplicate(ctx, artifacts)
		if dr != nil {
			report.New = dr.New
			report.Merged = dr.Merged
			report.Collapsed = dr.Collapsed
			report.ArtifactFailures = dr.Failures
		}
		if err != nil {
			return report, fmt.Errorf("deduplicate: %w", err)
		}
	}

	p.logger.Info("run finished",
		zap.Int("new", len(report.New)),
		zap.Int("merged", len(report.Merged)),
		zap.Int("batch_failures", len(report.BatchFailures)),
		zap.Int("artifact_failures", len(report.ArtifactFailures)))

	if p.cfg.DryRun || p.deps.Sink == nil || len(report.New) == 0 {
		return report, nil
	}
	if err := p.deps.Sink.Save(ctx, report.New); err != nil {
		return report, fmt.Errorf("save new artifacts: %w", err)
	}
	return report, nil
}

// categorise tags uncategorised records, or drops them when no tagger is wired
func (p *Pipeline) categorise(ctx context.Context, records []models.Record, report *models.RunReport) ([]models.Record, error) {
	if p.deps.Tagger != nil {
		tr, err := p.deps.Tagger.Tag(ctx, records)
		if tr != nil {
			report.Tagged = tr.Tagged
			report.BatchFailures = append(report.BatchFailures, tr.Failures...)
		}
		if err != nil {
			return nil, fmt.Errorf("tag records: %w", err)
		}
		return tr.Records, nil
	}

	out := make([]models.Record, 0, len(records))
	var dropped []string
	for _, r := range records {
		if r.HasCategory() {
			out = append(out, r)
		} else {
			dropped = append(dropped, r.ID)
		}
	}
	if len(dropped) > 0 {
		p.logger.Warn("uncategorised records skipped, no tagger configured", zap.Strings("record_ids", dropped))
	}
	return out, nil
}

// plan partitions each group separately and numbers batches across the whole run
func (p *Pipeline) plan(ctx context.Context, groups []Group) ([]models.Batch, map[int]string, error) {
	var all []models.Batch
	groupOf := make(map[int]string)
	for _, g := range groups {
		var shared json.RawMessage
		if p.deps.Contexts != nil {
			doc, err := p.deps.Contexts.SharedContext(ctx, g.Category, g.Subcategory)
			if err != nil {
				return nil, nil, fmt.Errorf("shared context for %s: %w", g.Key(), err)
			}
			shared = doc
		}

		seed := 1
		if p.cfg.Seed {
			seed = p.deps.Planner.Seed(ctx, g.Records, shared)
		}
		batches, err := p.deps.Planner.Plan(ctx, g.Records, shared, seed)
		if err != nil {
			return nil, nil, fmt.Errorf("plan group %s: %w", g.Key(), err)
		}
		for _, b := range batches {
			b.Index = len(all)
			groupOf[b.Index] = g.Key()
			all = append(all, b)
		}
		p.logger.Info("group planned",
			zap.String("group", g.Key()),
			zap.Int("records", len(g.Records)),
			zap.Int("batches", len(batches)))
	}
	return all, groupOf, nil
}
