// ABOUTME: CorpusEntry is a persisted article or documentation chunk in the vector store
// ABOUTME: Entries accumulate provenance as new near-duplicate artifacts are merged into them
package models

import (
	"errors"
	"strings"
	"time"
)

// Entry types written by this module; other stores may use their own
const (
	EntryTypeArticle          = "article"
	EntryTypeGeneratedArticle = "generated_article"
	EntryTypeDocChunk         = "doc_chunk"
)

// CorpusEntry is an existing Artifact-like object owned by the vector store
type CorpusEntry struct {
	ID                 string    `json:"id"`
	Type               string    `json:"type"`
	Title              string    `json:"title"`
	Body               string    `json:"body"`
	Category           string    `json:"category,omitempty"`
	Subcategory        string    `json:"subcategory,omitempty"`
	SourceIDs          []string  `json:"source_ids,omitempty"`
	SemanticEmbedding  []float32 `json:"semantic_embedding,omitempty"`
	RetrievalEmbedding []float32 `json:"retrieval_embedding,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// IsArticle reports whether the entry is an article-type entry (any type containing "article")
func (e CorpusEntry) IsArticle() bool {
	return isArticleType(e.Type)
}

// Vector returns the stored embedding for a field
func (e CorpusEntry) Vector(field EmbeddingField) []float32 {
	if field == FieldRetrieval {
		return e.RetrievalEmbedding
	}
	return e.SemanticEmbedding
}

// Validate checks required fields
func (e CorpusEntry) Validate() error {
	if e.ID == "" {
		return errors.New("entry ID cannot be empty")
	}
	if e.Type == "" {
		return errors.New("entry type cannot be empty")
	}
	return nil
}

func isArticleType(t string) bool {
	return strings.Contains(t, "article")
}
