// ABOUTME: Corpus store over a JSON key-value backend such as Charm KV
// ABOUTME: Entries live under entry: keys; similarity search is brute-force cosine
package storage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/harper/kbdistill/internal/charm"
	"github.com/harper/kbdistill/internal/models"
)

// KV is the subset of the charm client the vector storage needs
type KV interface {
	SetJSON(key string, value any) error
	GetJSON(key string, dest any) error
	UpdateJSON(key string, dest any, fn func() error) error
	ListKeys(prefix string) ([]string, error)
	Has(key string) (bool, error)
	Batch(fn func() error) error
	Sync() error
	Close() error
}

var (
	_ KV    = (*charm.Client)(nil)
	_ Store = (*VectorStorage)(nil)
)

// VectorStorage is a corpus Store backed by a KV
type VectorStorage struct {
	kv  KV
	now func() time.Time
}

// NewVectorStorage creates a VectorStorage over kv (typically a *charm.Client)
func NewVectorStorage(kv KV) *VectorStorage {
	return &VectorStorage{kv: kv, now: time.Now}
}

// Insert stores or replaces an entry
func (vs *VectorStorage) Insert(ctx context.Context, entry models.CorpusEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := entry.Validate(); err != nil {
		return err
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = vs.now()
	}
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = entry.CreatedAt
	}
	return vs.kv.SetJSON(charm.EntryKey(entry.ID), entry)
}

// Get retrieves an entry by id
func (vs *VectorStorage) Get(ctx context.Context, id string) (*models.CorpusEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := charm.EntryKey(id)
	ok, err := vs.kv.Has(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	var entry models.CorpusEntry
	if err := vs.kv.GetJSON(key, &entry); err != nil {
		return nil, fmt.Errorf("failed to read entry %s: %w", id, err)
	}
	return &entry, nil
}

// Query ranks every stored entry against embedding
func (vs *VectorStorage) Query(ctx context.Context, embedding []float32, field models.EmbeddingField, threshold float64) ([]models.Neighbor, error) {
	entries, err := vs.all(ctx)
	if err != nil {
		return nil, err
	}
	return Rank(embedding, entries, field, threshold), nil
}

// AppendProvenance merges ids into the entry's source ids; repeated ids are ignored
func (vs *VectorStorage) AppendProvenance(ctx context.Context, entryID string, ids []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := charm.EntryKey(entryID)
	ok, err := vs.kv.Has(key)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, entryID)
	}

	var entry models.CorpusEntry
	return vs.kv.UpdateJSON(key, &entry, func() error {
		entry.SourceIDs = MergeIDs(entry.SourceIDs, ids)
		entry.UpdatedAt = vs.now()
		return nil
	})
}

// Save inserts new artifacts as generated_article entries with a single sync at the end
func (vs *VectorStorage) Save(ctx context.Context, artifacts []models.Artifact) error {
	if len(artifacts) == 0 {
		return nil
	}
	now := vs.now()
	return vs.kv.Batch(func() error {
		for _, a := range artifacts {
			if err := vs.Insert(ctx, EntryFromArtifact(a, now)); err != nil {
				return fmt.Errorf("failed to save artifact %s: %w", a.ID, err)
			}
		}
		return nil
	})
}

// List returns entries oldest first, optionally filtered by type; limit <= 0 means all
func (vs *VectorStorage) List(ctx context.Context, entryType string, limit int) ([]models.CorpusEntry, error) {
	entries, err := vs.all(ctx)
	if err != nil {
		return nil, err
	}

	var out []models.CorpusEntry
	for _, e := range entries {
		if entryType != "" && e.Type != entryType {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CountByType returns entry counts keyed by type
func (vs *VectorStorage) CountByType(ctx context.Context) (map[string]int, error) {
	entries, err := vs.all(ctx)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, e := range entries {
		counts[e.Type]++
	}
	return counts, nil
}

// Sync pushes and pulls entries with the remote KV
func (vs *VectorStorage) Sync() error {
	return vs.kv.Sync()
}

// Close closes the underlying KV
func (vs *VectorStorage) Close() error {
	return vs.kv.Close()
}

func (vs *VectorStorage) all(ctx context.Context) ([]models.CorpusEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	keys, err := vs.kv.ListKeys(charm.EntryPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list entry keys: %w", err)
	}

	entries := make([]models.CorpusEntry, 0, len(keys))
	for _, key := range keys {
		var entry models.CorpusEntry
		if err := vs.kv.GetJSON(key, &entry); err != nil {
			// A key removed by a concurrent sync is not fatal for a scan
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
