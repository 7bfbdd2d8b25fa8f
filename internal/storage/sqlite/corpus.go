// ABOUTME: SQLite-backed corpus store implementing query, provenance append and sink
// ABOUTME: Similarity search loads vectors for one field and ranks them in process
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/harper/kbdistill/internal/models"
	"github.com/harper/kbdistill/internal/storage"
)

var _ storage.Store = (*CorpusStore)(nil)

// CorpusStore manages corpus entries and their provenance in SQLite
type CorpusStore struct {
	db  *DB
	now func() time.Time
}

// NewCorpusStore creates a corpus store over an open database
func NewCorpusStore(db *DB) *CorpusStore {
	return &CorpusStore{db: db, now: time.Now}
}

// OpenCorpus opens the database at path and returns a corpus store that owns it
func OpenCorpus(path string) (*CorpusStore, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	return NewCorpusStore(db), nil
}

// Close closes the underlying database
func (s *CorpusStore) Close() error {
	return s.db.Close()
}

// Insert creates or updates an entry and adds its source ids to the provenance set
func (s *CorpusStore) Insert(ctx context.Context, entry models.CorpusEntry) error {
	if err := entry.Validate(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.insertEntry(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit()
}

// Save inserts new artifacts as generated_article entries in one transaction
func (s *CorpusStore) Save(ctx context.Context, artifacts []models.Artifact) error {
	if len(artifacts) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now()
	for _, a := range artifacts {
		if err := s.insertEntry(ctx, tx, storage.EntryFromArtifact(a, now)); err != nil {
			return fmt.Errorf("failed to save artifact %s: %w", a.ID, err)
		}
	}
	return tx.Commit()
}

func (s *CorpusStore) insertEntry(ctx context.Context, tx *sql.Tx, e models.CorpusEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = e.CreatedAt
	}

	// Upsert rather than REPLACE so existing provenance rows survive
	_, err := tx.ExecContext(ctx, `
		INSERT INTO entries (id, type, title, body, category, subcategory,
			semantic_embedding, retrieval_embedding, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			title = excluded.title,
			body = excluded.body,
			category = excluded.category,
			subcategory = excluded.subcategory,
			semantic_embedding = excluded.semantic_embedding,
			retrieval_embedding = excluded.retrieval_embedding,
			updated_at = excluded.updated_at
	`, e.ID, e.Type, e.Title, e.Body, e.Category, e.Subcategory,
		vectorToBlob(e.SemanticEmbedding), vectorToBlob(e.RetrievalEmbedding),
		e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert entry %s: %w", e.ID, err)
	}

	return appendIDs(ctx, tx, e.ID, e.SourceIDs)
}

// AppendProvenance adds ids to an entry's provenance; ids already present are ignored
func (s *CorpusStore) AppendProvenance(ctx context.Context, entryID string, ids []string) error {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var one int
	err = tx.QueryRowContext(ctx, "SELECT 1 FROM entries WHERE id = ?", entryID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, entryID)
	}
	if err != nil {
		return err
	}

	if err := appendIDs(ctx, tx, entryID, ids); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "UPDATE entries SET updated_at = ? WHERE id = ?", s.now(), entryID); err != nil {
		return fmt.Errorf("failed to touch entry %s: %w", entryID, err)
	}
	return tx.Commit()
}

func appendIDs(ctx context.Context, tx *sql.Tx, entryID string, ids []string) error {
	for _, id := range ids {
		if id == "" {
			continue
		}
		_, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO provenance (entry_id, record_id, position)
			SELECT ?, ?, COALESCE(MAX(position), -1) + 1 FROM provenance WHERE entry_id = ?
		`, entryID, id, entryID)
		if err != nil {
			return fmt.Errorf("failed to append provenance to %s: %w", entryID, err)
		}
	}
	return nil
}

// Query ranks every entry that has a vector for field against embedding
func (s *CorpusStore) Query(ctx context.Context, embedding []float32, field models.EmbeddingField, threshold float64) ([]models.Neighbor, error) {
	column, err := fieldColumn(field)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, type, "+column+" FROM entries WHERE "+column+" IS NOT NULL")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var candidates []models.CorpusEntry
	for rows.Next() {
		var (
			e    models.CorpusEntry
			blob []byte
		)
		if err := rows.Scan(&e.ID, &e.Type, &blob); err != nil {
			return nil, err
		}
		if field == models.FieldRetrieval {
			e.RetrievalEmbedding = blobToVector(blob)
		} else {
			e.SemanticEmbedding = blobToVector(blob)
		}
		candidates = append(candidates, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return storage.Rank(embedding, candidates, field, threshold), nil
}

// Get retrieves an entry and its provenance by id
func (s *CorpusStore) Get(ctx context.Context, id string) (*models.CorpusEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, type, title, body, category, subcategory,
			semantic_embedding, retrieval_embedding, created_at, updated_at
		FROM entries WHERE id = ?
	`, id)

	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	if e.SourceIDs, err = s.sourceIDs(ctx, id); err != nil {
		return nil, err
	}
	return &e, nil
}

// List returns entries oldest first, optionally filtered by type; limit <= 0 means all
func (s *CorpusStore) List(ctx context.Context, entryType string, limit int) ([]models.CorpusEntry, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, title, body, category, subcategory,
			semantic_embedding, retrieval_embedding, created_at, updated_at
		FROM entries
		WHERE ? = '' OR type = ?
		ORDER BY created_at ASC, id ASC
		LIMIT ?
	`, entryType, entryType, limit)
	if err != nil {
		return nil, err
	}

	var entries []models.CorpusEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	// Release the single pooled connection before the provenance lookups
	_ = rows.Close()

	for i := range entries {
		if entries[i].SourceIDs, err = s.sourceIDs(ctx, entries[i].ID); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

// Count returns the total number of entries
func (s *CorpusStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM entries").Scan(&n)
	return n, err
}

// CountByType returns entry counts keyed by type
func (s *CorpusStore) CountByType(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT type, COUNT(*) FROM entries GROUP BY type")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			t string
			n int
		)
		if err := rows.Scan(&t, &n); err != nil {
			return nil, err
		}
		counts[t] = n
	}
	return counts, rows.Err()
}

func (s *CorpusStore) sourceIDs(ctx context.Context, entryID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT record_id FROM provenance WHERE entry_id = ? ORDER BY position ASC", entryID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (models.CorpusEntry, error) {
	var (
		e                     models.CorpusEntry
		title, body           sql.NullString
		category, subcategory sql.NullString
		semantic, retrieval   []byte
	)
	if err := row.Scan(&e.ID, &e.Type, &title, &body, &category, &subcategory,
		&semantic, &retrieval, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return e, err
	}
	e.Title = title.String
	e.Body = body.String
	e.Category = category.String
	e.Subcategory = subcategory.String
	e.SemanticEmbedding = blobToVector(semantic)
	e.RetrievalEmbedding = blobToVector(retrieval)
	return e, nil
}
