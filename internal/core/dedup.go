// ABOUTME: Deduplicator embeds new artifacts and matches them against the existing corpus
// ABOUTME: Matches gain provenance on the corpus entry; everything else is forwarded as new
package core

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/harper/kbdistill/internal/htmltext"
	"github.com/harper/kbdistill/internal/models"
	"github.com/harper/kbdistill/internal/storage"
	"github.com/harper/kbdistill/internal/util"
)

// Embedder computes a single embedding for text
type Embedder interface {
	Embed(ctx context.Context, text string, mode models.EmbeddingMode, dims int) ([]float32, error)
}

// DedupConfig configures matching and concurrency
type DedupConfig struct {
	// Threshold is the cosine distance at or below which a corpus entry matches
	Threshold float64
	// CollapseThreshold is the tighter distance used between artifacts of one run
	CollapseThreshold float64
	CollapseWithinRun bool
	Dimensions        int
	Concurrency       int
	AppendConcurrency int
	Retry             RetryPolicy
}

// DefaultDedupConfig returns the production defaults
func DefaultDedupConfig() DedupConfig {
	return DedupConfig{
		Threshold:         0.85,
		CollapseThreshold: 0.10,
		CollapseWithinRun: true,
		Dimensions:        1536,
		Concurrency:       8,
		AppendConcurrency: 4,
		Retry:             DefaultRetryPolicy(),
	}
}

// DedupResult partitions the input artifacts
type DedupResult struct {
	New       []models.Artifact
	Merged    []models.MergeOutcome
	Collapsed int
	Failures  []models.ArtifactFailure
}

// Deduplicator checks artifacts against a corpus
type Deduplicator struct {
	embedder Embedder
	corpus   storage.Corpus
	cfg      DedupConfig
	appends  *semaphore.Weighted
	logger   *zap.Logger
}

// NewDeduplicator creates a deduplicator
func NewDeduplicator(embedder Embedder, corpus storage.Corpus, cfg DedupConfig, logger *zap.Logger) *Deduplicator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.AppendConcurrency < 1 {
		cfg.AppendConcurrency = 1
	}
	if cfg.Dimensions < 1 {
		cfg.Dimensions = DefaultDedupConfig().Dimensions
	}
	return &Deduplicator{
		embedder: embedder,
		corpus:   corpus,
		cfg:      cfg,
		appends:  semaphore.NewWeighted(int64(cfg.AppendConcurrency)),
		logger:   logger,
	}
}

// outcome is the per-artifact verdict; exactly one of the fields is set
type outcome struct {
	isNew   bool
	merged  *models.MergeOutcome
	failure *models.ArtifactFailure
}

// Deduplicate returns the artifacts that are new to the corpus. An artifact that
// matches an article entry is merged into it; per-artifact failures are reported
// and never stop the others. The error is non-nil only when ctx ends.
func (d *Deduplicator) Deduplicate(ctx context.Context, artifacts []models.Artifact) (*DedupResult, error) {
	result := &DedupResult{}
	if len(artifacts) == 0 {
		return result, nil
	}

	work := make([]models.Artifact, len(artifacts))
	copy(work, artifacts)
	for i := range work {
		// Collapse appends to these; keep the caller's slices untouched
		work[i].SourceIDs = append([]string(nil), work[i].SourceIDs...)
		work[i].Sources = append([]models.Record(nil), work[i].Sources...)
	}

	embedFailures := d.embedAll(ctx, work)
	if err := ctx.Err(); err != nil {
		return result, err
	}

	var live []int
	for i := range work {
		if f := embedFailures[i]; f != nil {
			result.Failures = append(result.Failures, *f)
			continue
		}
		live = append(live, i)
	}

	if d.cfg.CollapseWithinRun {
		var collapsed int
		live, collapsed = d.collapse(work, live)
		result.Collapsed = collapsed
	}

	outcomes := make([]outcome, len(work))
	var g errgroup.Group
	g.SetLimit(d.cfg.Concurrency)
	for _, i := range live {
		g.Go(func() error {
			outcomes[i] = d.check(ctx, work[i])
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return result, err
	}

	for _, i := range live {
		switch o := outcomes[i]; {
		case o.failure != nil:
			result.Failures = append(result.Failures, *o.failure)
		case o.merged != nil:
			result.Merged = append(result.Merged, *o.merged)
		case o.isNew:
			result.New = append(result.New, work[i])
		}
	}

	d.logger.Info("dedup finished",
		zap.Int("artifacts", len(artifacts)),
		zap.Int("new", len(result.New)),
		zap.Int("merged", len(result.Merged)),
		zap.Int("collapsed", result.Collapsed),
		zap.Int("failed", len(result.Failures)))
	return result, nil
}

// embedAll fills Text and both embeddings in place; failures are indexed like work
func (d *Deduplicator) embedAll(ctx context.Context, work []models.Artifact) []*models.ArtifactFailure {
	failures := make([]*models.ArtifactFailure, len(work))
	var g errgroup.Group
	g.SetLimit(d.cfg.Concurrency)
	for i := range work {
		g.Go(func() error {
			if err := d.embed(ctx, &work[i]); err != nil {
				d.logger.Warn("embedding failed",
					zap.String("artifact", work[i].ID),
					zap.Strings("source_ids", work[i].SourceIDs),
					zap.Error(err))
				failures[i] = d.failure(work[i], models.StageEmbed, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return failures
}

func (d *Deduplicator) embed(ctx context.Context, a *models.Artifact) error {
	a.Text = htmltext.ToText(a.RawText())

	semantic, retrieval, err := d.EmbedText(ctx, a.Text)
	if err != nil {
		return err
	}
	a.SemanticEmbedding = semantic
	a.RetrievalEmbedding = retrieval
	return nil
}

// EmbedText returns the normalised semantic and retrieval vectors for plain text,
// retrying each call with the configured policy
func (d *Deduplicator) EmbedText(ctx context.Context, text string) (semantic, retrieval []float32, err error) {
	semantic, err = d.embedOne(ctx, text, models.ModeSemanticSimilarity)
	if err != nil {
		return nil, nil, fmt.Errorf("semantic embedding: %w", err)
	}
	retrieval, err = d.embedOne(ctx, text, models.ModeRetrievalDocument)
	if err != nil {
		return nil, nil, fmt.Errorf("retrieval embedding: %w", err)
	}
	return semantic, retrieval, nil
}

func (d *Deduplicator) embedOne(ctx context.Context, text string, mode models.EmbeddingMode) ([]float32, error) {
	var vec []float32
	_, err := d.cfg.Retry.Do(ctx, func(ctx context.Context) error {
		v, err := d.embedder.Embed(ctx, text, mode, d.cfg.Dimensions)
		if err != nil {
			return err
		}
		vec = v
		return nil
	})
	if err != nil {
		return nil, err
	}

	vec = util.Truncate(vec, d.cfg.Dimensions)
	if err := models.ValidateDimension(vec, d.cfg.Dimensions); err != nil {
		return nil, err
	}
	return util.L2Normalize(vec), nil
}

// collapse folds near-identical artifacts of this run into the first one seen.
// The survivor keeps its own text and gains the others' source ids.
func (d *Deduplicator) collapse(work []models.Artifact, live []int) ([]int, int) {
	var kept []int
	collapsed := 0
	for _, i := range live {
		merged := false
		for _, k := range kept {
			dist := util.CosineDistance(work[i].SemanticEmbedding, work[k].SemanticEmbedding)
			if dist <= d.cfg.CollapseThreshold {
				work[k].AddSources(work[i].SourceIDs...)
				work[k].Sources = append(work[k].Sources, work[i].Sources...)
				work[k].Count += work[i].Count
				d.logger.Debug("collapsed duplicate artifact",
					zap.String("artifact", work[i].ID),
					zap.String("into", work[k].ID),
					zap.Float64("distance", dist))
				collapsed++
				merged = true
				break
			}
		}
		if !merged {
			kept = append(kept, i)
		}
	}
	return kept, collapsed
}

// check queries the corpus and applies the match policy for one artifact
func (d *Deduplicator) check(ctx context.Context, a models.Artifact) outcome {
	var neighbors []models.Neighbor
	_, err := d.cfg.Retry.Do(ctx, func(ctx context.Context) error {
		n, err := d.corpus.Query(ctx, a.SemanticEmbedding, models.FieldSemantic, d.cfg.Threshold)
		if err != nil {
			return err
		}
		neighbors = n
		return nil
	})
	if err != nil {
		d.logger.Warn("corpus query failed", zap.String("artifact", a.ID), zap.Error(err))
		return outcome{failure: d.failure(a, models.StageQuery, err)}
	}

	target, ok := MatchTarget(neighbors)
	if !ok {
		if len(neighbors) > 0 {
			d.logger.Debug("only non-article neighbors, forwarding as new",
				zap.String("artifact", a.ID),
				zap.Int("neighbors", len(neighbors)))
		}
		return outcome{isNew: true}
	}

	if err := d.appendProvenance(ctx, target.EntryID, a.SourceIDs); err != nil {
		d.logger.Error("provenance append failed",
			zap.String("artifact", a.ID),
			zap.String("entry", target.EntryID),
			zap.Strings("source_ids", a.SourceIDs),
			zap.Error(err))
		return outcome{failure: d.failure(a, models.StageAppend, err)}
	}

	d.logger.Info("merged into existing entry",
		zap.String("artifact", a.ID),
		zap.String("entry", target.EntryID),
		zap.Float64("distance", target.Distance))
	return outcome{merged: &models.MergeOutcome{
		ArtifactID: a.ID,
		Question:   a.Question,
		EntryID:    target.EntryID,
		SourceIDs:  a.SourceIDs,
		Distance:   target.Distance,
	}}
}

func (d *Deduplicator) appendProvenance(ctx context.Context, entryID string, ids []string) error {
	if err := d.appends.Acquire(ctx, 1); err != nil {
		return err
	}
	defer d.appends.Release(1)

	_, err := d.cfg.Retry.Do(ctx, func(ctx context.Context) error {
		err := d.corpus.AppendProvenance(ctx, entryID, ids)
		if errors.Is(err, storage.ErrNotFound) {
			// The entry vanished between query and append
			return Permanent(err)
		}
		return err
	})
	return err
}

func (d *Deduplicator) failure(a models.Artifact, stage string, err error) *models.ArtifactFailure {
	return &models.ArtifactFailure{
		ArtifactID: a.ID,
		Stage:      stage,
		SourceIDs:  a.SourceIDs,
		Error:      err.Error(),
	}
}

// MatchTarget applies the first-candidate policy: the nearest neighbor if it is an
// article, else the first article in the list. Neighbors must be sorted nearest first.
func MatchTarget(neighbors []models.Neighbor) (models.Neighbor, bool) {
	for _, n := range neighbors {
		if n.IsArticle() {
			return n, true
		}
	}
	return models.Neighbor{}, false
}
