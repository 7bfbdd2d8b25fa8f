// ABOUTME: Record is one support ticket (or any text unit) fed into the pipeline
// ABOUTME: Records are immutable once fetched and owned by the pipeline caller
package models

import "time"

// CategoryNone marks a record the tagger judged to be spam or off-product
const CategoryNone = "none"

// Record is an opaque content-bearing unit with caller-supplied metadata
type Record struct {
	ID          string            `json:"id"`
	Subject     string            `json:"subject,omitempty"`
	Content     string            `json:"content"`
	Tags        []string          `json:"tags,omitempty"`
	Category    string            `json:"category,omitempty"`
	Subcategory string            `json:"subcategory,omitempty"`
	CreatedAt   time.Time         `json:"created_at,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// HasCategory reports whether both category levels are set
func (r Record) HasCategory() bool {
	return r.Category != "" && r.Subcategory != ""
}

// HasTag reports whether the record carries the given tag
func (r Record) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// RecordIDs returns the ids of records in order
func RecordIDs(records []Record) []string {
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	return ids
}
