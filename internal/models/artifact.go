// ABOUTME: Artifact is one generated knowledge-base article extracted from a generation result
// ABOUTME: Carries provenance (source record ids), category labels and embeddings
package models

import "strings"

// Artifact is a structured unit extracted from a GenerationResult
type Artifact struct {
	ID                 string    `json:"id"`
	SourceIDs          []string  `json:"source_ids"`
	Category           string    `json:"category,omitempty"`
	Subcategory        string    `json:"subcategory,omitempty"`
	Question           string    `json:"question"`
	Answer             string    `json:"answer"`
	Count              int       `json:"count,omitempty"`
	Text               string    `json:"text,omitempty"`
	Sources            []Record  `json:"sources,omitempty"`
	SemanticEmbedding  []float32 `json:"semantic_embedding,omitempty"`
	RetrievalEmbedding []float32 `json:"retrieval_embedding,omitempty"`
}

// RawText joins question and answer the way they are embedded
func (a Artifact) RawText() string {
	return strings.TrimSpace(a.Question + " \n\n " + a.Answer)
}

// AddSources merges ids into SourceIDs, keeping first-seen order and skipping duplicates
func (a *Artifact) AddSources(ids ...string) {
	seen := make(map[string]bool, len(a.SourceIDs))
	for _, id := range a.SourceIDs {
		seen[id] = true
	}
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		a.SourceIDs = append(a.SourceIDs, id)
	}
}
