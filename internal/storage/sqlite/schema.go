// ABOUTME: SQLite database schema for the knowledge-base corpus
// ABOUTME: Creates the entries and provenance tables plus their indexes
package sqlite

// Schema contains all SQL statements for database initialization
const Schema = `
-- Corpus entries (articles, generated articles, documentation chunks)
CREATE TABLE IF NOT EXISTS entries (
    id TEXT PRIMARY KEY,
    type TEXT NOT NULL,
    title TEXT,
    body TEXT,
    category TEXT,
    subcategory TEXT,
    semantic_embedding BLOB,
    retrieval_embedding BLOB,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Provenance (source record ids merged into an entry); the key makes appends idempotent
CREATE TABLE IF NOT EXISTS provenance (
    entry_id TEXT NOT NULL REFERENCES entries(id) ON DELETE CASCADE,
    record_id TEXT NOT NULL,
    position INTEGER NOT NULL,
    added_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (entry_id, record_id)
);

-- Indexes for efficient querying
CREATE INDEX IF NOT EXISTS idx_entries_type ON entries(type);
CREATE INDEX IF NOT EXISTS idx_entries_category ON entries(category, subcategory);
CREATE INDEX IF NOT EXISTS idx_provenance_entry ON provenance(entry_id, position);
`

// SchemaVersion is stamped into PRAGMA user_version by migrate
const SchemaVersion = 1
