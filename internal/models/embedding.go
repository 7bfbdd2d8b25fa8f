// ABOUTME: Embedding fields and modes shared by the dedup engine and corpus stores
// ABOUTME: Defines Neighbor, the result shape of a corpus similarity query
package models

import (
	"errors"
	"fmt"
)

// EmbeddingField names which stored vector a query runs against
type EmbeddingField string

const (
	FieldSemantic  EmbeddingField = "semantic_embedding"
	FieldRetrieval EmbeddingField = "retrieval_embedding"
)

// EmbeddingMode is the intent an embedding is computed for
type EmbeddingMode string

const (
	ModeSemanticSimilarity EmbeddingMode = "SEMANTIC_SIMILARITY"
	ModeRetrievalDocument  EmbeddingMode = "RETRIEVAL_DOCUMENT"
	ModeRetrievalQuery     EmbeddingMode = "RETRIEVAL_QUERY"
)

// Neighbor is one corpus hit; lower Distance means more similar
type Neighbor struct {
	EntryID  string  `json:"entry_id"`
	Distance float64 `json:"distance"`
	Type     string  `json:"type"`
}

// IsArticle reports whether the neighbor is an article-type entry
func (n Neighbor) IsArticle() bool {
	return isArticleType(n.Type)
}

// ValidateDimension checks a vector is non-empty and has the expected length
func ValidateDimension(vector []float32, expected int) error {
	if len(vector) == 0 {
		return errors.New("embedding vector cannot be empty")
	}
	if len(vector) != expected {
		return fmt.Errorf("embedding dimension mismatch: expected %d, got %d", expected, len(vector))
	}
	return nil
}
