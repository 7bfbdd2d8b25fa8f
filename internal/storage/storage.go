// ABOUTME: Corpus store contracts shared by the SQLite and Charm backends
// ABOUTME: Provides brute-force cosine ranking and artifact-to-entry conversion
package storage

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/harper/kbdistill/internal/models"
	"github.com/harper/kbdistill/internal/util"
)

// ErrNotFound is returned when an entry id does not exist in the corpus
var ErrNotFound = errors.New("corpus entry not found")

// Corpus is the vector store the dedup engine queries and appends provenance to
type Corpus interface {
	Query(ctx context.Context, embedding []float32, field models.EmbeddingField, threshold float64) ([]models.Neighbor, error)
	AppendProvenance(ctx context.Context, entryID string, ids []string) error
}

// Sink receives the final list of new artifacts from a run
type Sink interface {
	Save(ctx context.Context, artifacts []models.Artifact) error
}

// Store is a full corpus backend managed by the CLI and MCP server
type Store interface {
	Corpus
	Sink
	Insert(ctx context.Context, entry models.CorpusEntry) error
	Get(ctx context.Context, id string) (*models.CorpusEntry, error)
	List(ctx context.Context, entryType string, limit int) ([]models.CorpusEntry, error)
	CountByType(ctx context.Context) (map[string]int, error)
	Close() error
}

// Rank returns entries whose vector for field lies within threshold cosine distance
// of query, nearest first and ties broken by entry id. Entries with no vector or
// a different dimension are skipped.
func Rank(query []float32, entries []models.CorpusEntry, field models.EmbeddingField, threshold float64) []models.Neighbor {
	if len(query) == 0 {
		return nil
	}

	var neighbors []models.Neighbor
	for _, e := range entries {
		vec := e.Vector(field)
		if len(vec) != len(query) {
			continue
		}
		d := util.CosineDistance(query, vec)
		if d > threshold {
			continue
		}
		neighbors = append(neighbors, models.Neighbor{EntryID: e.ID, Distance: d, Type: e.Type})
	}

	sort.Slice(neighbors, func(i, j int) bool {
		if neighbors[i].Distance != neighbors[j].Distance {
			return neighbors[i].Distance < neighbors[j].Distance
		}
		return neighbors[i].EntryID < neighbors[j].EntryID
	})
	return neighbors
}

// EntryFromArtifact converts a new artifact into a generated_article entry
func EntryFromArtifact(a models.Artifact, now time.Time) models.CorpusEntry {
	id := a.ID
	if id == "" {
		id = uuid.New().String()
	}
	return models.CorpusEntry{
		ID:                 id,
		Type:               models.EntryTypeGeneratedArticle,
		Title:              a.Question,
		Body:               a.Answer,
		Category:           a.Category,
		Subcategory:        a.Subcategory,
		SourceIDs:          append([]string(nil), a.SourceIDs...),
		SemanticEmbedding:  a.SemanticEmbedding,
		RetrievalEmbedding: a.RetrievalEmbedding,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// MergeIDs appends ids not already present in existing, keeping order
func MergeIDs(existing []string, ids []string) []string {
	seen := make(map[string]bool, len(existing)+len(ids))
	out := append([]string(nil), existing...)
	for _, id := range existing {
		seen[id] = true
	}
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
