// ABOUTME: Batch is an ordered group of records submitted to the generation service together
// ABOUTME: A validated batch carries the oracle's token estimate for rate accounting
package models

import (
	"encoding/json"
	"errors"
)

// Batch is an ordered, non-empty slice of records plus optional shared context
type Batch struct {
	Index           int             `json:"index"`
	Records         []Record        `json:"records"`
	SharedContext   json.RawMessage `json:"shared_context,omitempty"`
	EstimatedTokens int             `json:"estimated_tokens"`
}

// RecordIDs returns the ids of the batch's records in order
func (b Batch) RecordIDs() []string {
	return RecordIDs(b.Records)
}

// Validate checks the batch is non-empty
func (b Batch) Validate() error {
	if len(b.Records) == 0 {
		return errors.New("batch must contain at least one record")
	}
	return nil
}
