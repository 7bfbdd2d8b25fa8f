// ABOUTME: Tests for the dedup engine against a faked embedder and corpus
// ABOUTME: Covers the match threshold, the first-article policy, collapse and per-stage failures
package core

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/harper/kbdistill/internal/htmltext"
	"github.com/harper/kbdistill/internal/models"
	"github.com/harper/kbdistill/internal/storage"
)

func testDedupConfig(s *recordingSleeper) DedupConfig {
	return DedupConfig{
		Threshold:         0.85,
		CollapseThreshold: 0.10,
		Dimensions:        4,
		Concurrency:       2,
		AppendConcurrency: 1,
		Retry:             testRetry(s, 3),
	}
}

func artifact(id string, sources ...string) models.Artifact {
	return models.Artifact{
		ID:        id,
		SourceIDs: sources,
		Question:  "Question " + id,
		Answer:    "<p>Answer for " + id + "</p>",
	}
}

// textOf is the text the deduplicator embeds for a
func textOf(a models.Artifact) string {
	return htmltext.ToText(a.RawText())
}

func fixedNeighbors(ns ...models.Neighbor) func([]float32) []models.Neighbor {
	return func([]float32) []models.Neighbor { return ns }
}

func TestDeduplicate_Threshold(t *testing.T) {
	tests := []struct {
		name      string
		distance  float64
		wantMerge bool
	}{
		{"within threshold merges", 0.80, true},
		{"at threshold merges", 0.85, true},
		{"beyond threshold is new", 0.90, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			corpus := newFakeCorpus(fixedNeighbors(models.Neighbor{EntryID: "kb-1", Distance: tt.distance, Type: models.EntryTypeArticle}))
			d := NewDeduplicator(newFakeEmbedder(), corpus, testDedupConfig(&recordingSleeper{}), nil)

			res, err := d.Deduplicate(t.Context(), []models.Artifact{artifact("a1", "101", "102")})
			if err != nil {
				t.Fatalf("Deduplicate() error = %v", err)
			}

			if tt.wantMerge {
				if len(res.New) != 0 || len(res.Merged) != 1 {
					t.Fatalf("got %d new, %d merged, want 0 and 1", len(res.New), len(res.Merged))
				}
				m := res.Merged[0]
				if m.EntryID != "kb-1" || m.Distance != tt.distance {
					t.Errorf("merge = %+v, want entry kb-1 at %v", m, tt.distance)
				}
				if diff := cmp.Diff([]string{"101", "102"}, corpus.appended["kb-1"]); diff != "" {
					t.Errorf("appended ids mismatch (-want +got):\n%s", diff)
				}
				return
			}
			if len(res.New) != 1 || len(res.Merged) != 0 {
				t.Fatalf("got %d new, %d merged, want 1 and 0", len(res.New), len(res.Merged))
			}
			if len(corpus.appended) != 0 {
				t.Errorf("appended = %v, want none", corpus.appended)
			}
		})
	}
}

func TestDeduplicate_FirstArticleWins(t *testing.T) {
	corpus := newFakeCorpus(fixedNeighbors(
		models.Neighbor{EntryID: "doc-1", Distance: 0.10, Type: models.EntryTypeDocChunk},
		models.Neighbor{EntryID: "kb-2", Distance: 0.40, Type: models.EntryTypeGeneratedArticle},
		models.Neighbor{EntryID: "kb-1", Distance: 0.30, Type: models.EntryTypeArticle},
	))
	d := NewDeduplicator(newFakeEmbedder(), corpus, testDedupConfig(&recordingSleeper{}), nil)

	res, err := d.Deduplicate(t.Context(), []models.Artifact{artifact("a1", "101")})
	if err != nil {
		t.Fatalf("Deduplicate() error = %v", err)
	}
	if len(res.Merged) != 1 || res.Merged[0].EntryID != "kb-1" {
		t.Fatalf("Merged = %+v, want the nearest article kb-1", res.Merged)
	}
}

func TestDeduplicate_OnlyDocChunksIsNew(t *testing.T) {
	corpus := newFakeCorpus(fixedNeighbors(models.Neighbor{EntryID: "doc-1", Distance: 0.05, Type: models.EntryTypeDocChunk}))
	d := NewDeduplicator(newFakeEmbedder(), corpus, testDedupConfig(&recordingSleeper{}), nil)

	res, err := d.Deduplicate(t.Context(), []models.Artifact{artifact("a1", "101")})
	if err != nil {
		t.Fatalf("Deduplicate() error = %v", err)
	}
	if len(res.New) != 1 || len(res.Merged) != 0 {
		t.Errorf("got %d new, %d merged, want 1 and 0", len(res.New), len(res.Merged))
	}
}

func TestMatchTarget(t *testing.T) {
	if _, ok := MatchTarget(nil); ok {
		t.Error("MatchTarget(nil) should not match")
	}
	n, ok := MatchTarget([]models.Neighbor{
		{EntryID: "kb-1", Distance: 0.1, Type: "help_article"},
		{EntryID: "kb-2", Distance: 0.2, Type: models.EntryTypeArticle},
	})
	if !ok || n.EntryID != "kb-1" {
		t.Errorf("MatchTarget() = %v, %v, want kb-1", n, ok)
	}
}

func TestDeduplicate_AppendFailureIsReported(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantSleeps int
	}{
		{"transient error retried", errors.New("database is locked"), 2},
		{"missing entry not retried", fmt.Errorf("%w: kb-1", storage.ErrNotFound), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			corpus := newFakeCorpus(fixedNeighbors(models.Neighbor{EntryID: "kb-1", Distance: 0.2, Type: models.EntryTypeArticle}))
			corpus.appendErr = tt.err
			s := &recordingSleeper{}
			d := NewDeduplicator(newFakeEmbedder(), corpus, testDedupConfig(s), nil)

			res, err := d.Deduplicate(t.Context(), []models.Artifact{artifact("a1", "101")})
			if err != nil {
				t.Fatalf("Deduplicate() error = %v", err)
			}
			if len(res.New) != 0 || len(res.Merged) != 0 {
				t.Errorf("got %d new, %d merged, want neither", len(res.New), len(res.Merged))
			}
			if len(res.Failures) != 1 {
				t.Fatalf("len(Failures) = %d, want 1", len(res.Failures))
			}
			f := res.Failures[0]
			if f.Stage != models.StageAppend || f.ArtifactID != "a1" {
				t.Errorf("failure = %+v, want append failure for a1", f)
			}
			if diff := cmp.Diff([]string{"101"}, f.SourceIDs); diff != "" {
				t.Errorf("failure SourceIDs mismatch (-want +got):\n%s", diff)
			}
			if got := len(s.recorded()); got != tt.wantSleeps {
				t.Errorf("sleeps = %d, want %d", got, tt.wantSleeps)
			}
		})
	}
}

func TestDeduplicate_QueryFailure(t *testing.T) {
	corpus := newFakeCorpus(nil)
	corpus.queryErr = errors.New("connection refused")
	d := NewDeduplicator(newFakeEmbedder(), corpus, testDedupConfig(&recordingSleeper{}), nil)

	res, err := d.Deduplicate(t.Context(), []models.Artifact{artifact("a1", "101")})
	if err != nil {
		t.Fatalf("Deduplicate() error = %v", err)
	}
	if len(res.Failures) != 1 || res.Failures[0].Stage != models.StageQuery {
		t.Fatalf("Failures = %+v, want one query failure", res.Failures)
	}
	if corpus.queries != 3 {
		t.Errorf("queries = %d, want 3 attempts", corpus.queries)
	}
}

func TestDeduplicate_EmbedRetryAndFailure(t *testing.T) {
	flaky := artifact("flaky", "1")
	broken := artifact("broken", "2")

	emb := newFakeEmbedder()
	emb.vectors[textOf(flaky)] = []float32{0, 1, 0, 0}
	emb.vectors[textOf(broken)] = []float32{0, 0, 1, 0}
	emb.errs[textOf(flaky)] = []error{errors.New("503 unavailable")}
	emb.errs[textOf(broken)] = []error{errors.New("boom"), errors.New("boom"), errors.New("boom")}

	s := &recordingSleeper{}
	d := NewDeduplicator(emb, newFakeCorpus(nil), testDedupConfig(s), nil)

	res, err := d.Deduplicate(t.Context(), []models.Artifact{flaky, broken})
	if err != nil {
		t.Fatalf("Deduplicate() error = %v", err)
	}
	if len(res.New) != 1 || res.New[0].ID != "flaky" {
		t.Fatalf("New = %+v, want only flaky", res.New)
	}
	if len(res.Failures) != 1 || res.Failures[0].ArtifactID != "broken" || res.Failures[0].Stage != models.StageEmbed {
		t.Errorf("Failures = %+v, want an embed failure for broken", res.Failures)
	}
	if !strings.Contains(res.Failures[0].Error, ErrRetriesExhausted.Error()) {
		t.Errorf("failure error = %q, want retries exhausted", res.Failures[0].Error)
	}
}

func TestDeduplicate_EmbeddingShape(t *testing.T) {
	a := artifact("a1", "1")
	emb := newFakeEmbedder()
	emb.vectors[textOf(a)] = []float32{3, 4, 0, 0, 9, 9}

	d := NewDeduplicator(emb, newFakeCorpus(nil), testDedupConfig(&recordingSleeper{}), nil)
	res, err := d.Deduplicate(t.Context(), []models.Artifact{a})
	if err != nil {
		t.Fatalf("Deduplicate() error = %v", err)
	}
	if len(res.New) != 1 {
		t.Fatalf("len(New) = %d, want 1", len(res.New))
	}

	got := res.New[0]
	want := []float32{0.6, 0.8, 0, 0}
	for _, vec := range [][]float32{got.SemanticEmbedding, got.RetrievalEmbedding} {
		if len(vec) != len(want) {
			t.Fatalf("len(vec) = %d, want %d", len(vec), len(want))
		}
		for i := range want {
			if math.Abs(float64(vec[i]-want[i])) > 1e-6 {
				t.Errorf("vec[%d] = %v, want %v", i, vec[i], want[i])
			}
		}
	}
	if strings.Contains(got.Text, "<p>") || !strings.Contains(got.Text, "Answer for a1") {
		t.Errorf("Text = %q, want plain text of question and answer", got.Text)
	}
	if emb.calls[models.ModeSemanticSimilarity] != 1 || emb.calls[models.ModeRetrievalDocument] != 1 {
		t.Errorf("embed calls = %v, want one per mode", emb.calls)
	}
}

func TestDeduplicate_ShortVectorFails(t *testing.T) {
	a := artifact("a1", "1")
	emb := newFakeEmbedder()
	emb.vectors[textOf(a)] = []float32{1, 0}

	d := NewDeduplicator(emb, newFakeCorpus(nil), testDedupConfig(&recordingSleeper{}), nil)
	res, err := d.Deduplicate(t.Context(), []models.Artifact{a})
	if err != nil {
		t.Fatalf("Deduplicate() error = %v", err)
	}
	if len(res.Failures) != 1 || res.Failures[0].Stage != models.StageEmbed {
		t.Errorf("Failures = %+v, want a dimension failure", res.Failures)
	}
}

func TestDeduplicate_CollapseWithinRun(t *testing.T) {
	first := artifact("a1", "1", "2")
	twin := artifact("a2", "2", "3")
	other := artifact("a3", "4")
	first.Count, twin.Count = 2, 2

	emb := newFakeEmbedder()
	emb.vectors[textOf(other)] = []float32{0, 1, 0, 0}

	cfg := testDedupConfig(&recordingSleeper{})
	cfg.CollapseWithinRun = true
	d := NewDeduplicator(emb, newFakeCorpus(nil), cfg, nil)

	input := []models.Artifact{first, twin, other}
	res, err := d.Deduplicate(t.Context(), input)
	if err != nil {
		t.Fatalf("Deduplicate() error = %v", err)
	}
	if res.Collapsed != 1 {
		t.Errorf("Collapsed = %d, want 1", res.Collapsed)
	}
	if len(res.New) != 2 {
		t.Fatalf("len(New) = %d, want 2", len(res.New))
	}
	survivor := res.New[0]
	if survivor.ID != "a1" || survivor.Count != 4 {
		t.Errorf("survivor = %s count %d, want a1 count 4", survivor.ID, survivor.Count)
	}
	if diff := cmp.Diff([]string{"1", "2", "3"}, survivor.SourceIDs); diff != "" {
		t.Errorf("survivor SourceIDs mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"1", "2"}, input[0].SourceIDs); diff != "" {
		t.Errorf("caller's artifact was modified (-want +got):\n%s", diff)
	}
}

func TestDeduplicate_Empty(t *testing.T) {
	d := NewDeduplicator(newFakeEmbedder(), newFakeCorpus(nil), testDedupConfig(&recordingSleeper{}), nil)
	res, err := d.Deduplicate(t.Context(), nil)
	if err != nil {
		t.Fatalf("Deduplicate() error = %v", err)
	}
	if len(res.New)+len(res.Merged)+len(res.Failures) != 0 {
		t.Errorf("Deduplicate(nil) = %+v, want empty result", res)
	}
}
