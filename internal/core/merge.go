// ABOUTME: Merges repaired generation output back onto the batch's original records
// ABOUTME: Ids the model invented are dropped with a warning; provenance only names real records
package core

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/harper/kbdistill/internal/llm"
	"github.com/harper/kbdistill/internal/models"
)

// ParseError is a batch whose output could not be repaired; Raw keeps the offending text
type ParseError struct {
	Index     int
	RecordIDs []string
	Raw       string
	Err       error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("batch %d: parse result: %v", e.Index, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// decodeList repairs raw and decodes it as a JSON array; a lone object becomes a one-element array
func decodeList[T any](raw string) ([]T, error) {
	fixed, err := Repair(raw)
	if err != nil {
		return nil, err
	}
	if strings.HasPrefix(fixed, "{") {
		fixed = "[" + fixed + "]"
	}
	var items []T
	if err := json.Unmarshal([]byte(fixed), &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnrepairable, err)
	}
	return items, nil
}

// RepairAndMerge parses article output for a batch and reattaches subject, tags and
// content of the records each article cites
func RepairAndMerge(raw string, batch models.Batch, logger *zap.Logger) ([]models.Artifact, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	articles, err := decodeList[llm.Article](raw)
	if err != nil {
		return nil, &ParseError{Index: batch.Index, RecordIDs: batch.RecordIDs(), Raw: raw, Err: err}
	}

	byID := indexRecords(batch.Records)
	artifacts := make([]models.Artifact, 0, len(articles))
	for _, a := range articles {
		if strings.TrimSpace(a.Question) == "" && strings.TrimSpace(a.Answer) == "" {
			logger.Warn("dropping empty article", zap.Int("batch", batch.Index))
			continue
		}

		art := models.Artifact{
			ID:          uuid.NewString(),
			Category:    a.Category,
			Subcategory: a.Subcategory,
			Question:    strings.TrimSpace(a.Question),
			Answer:      strings.TrimSpace(a.Answer),
			Count:       int(a.Count),
		}
		for _, id := range a.RecordIDs {
			id = strings.TrimSpace(id)
			rec, ok := byID[id]
			if !ok {
				logger.Warn("dropping unknown record id from article",
					zap.Int("batch", batch.Index),
					zap.String("record_id", id),
					zap.String("question", art.Question))
				continue
			}
			before := len(art.SourceIDs)
			art.AddSources(id)
			if len(art.SourceIDs) > before {
				art.Sources = append(art.Sources, rec)
			}
		}
		if len(art.SourceIDs) == 0 {
			logger.Warn("dropping article with no known source records",
				zap.Int("batch", batch.Index),
				zap.String("question", art.Question))
			continue
		}

		first := art.Sources[0]
		if art.Category == "" {
			art.Category = first.Category
		}
		if art.Subcategory == "" {
			art.Subcategory = first.Subcategory
		}
		if art.Count <= 0 {
			art.Count = len(art.SourceIDs)
		}
		artifacts = append(artifacts, art)
	}
	return artifacts, nil
}

// TagResult is the outcome of merging one tagging batch
type TagResult struct {
	Tagged []models.Record
	// Spam holds ids the model categorised as "none"
	Spam []string
	// Missing holds ids the model never returned
	Missing []string
}

// MergeTags parses tagging output and applies category labels to the batch's records
func MergeTags(raw string, batch models.Batch, logger *zap.Logger) (TagResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	tags, err := decodeList[llm.Tag](raw)
	if err != nil {
		return TagResult{}, &ParseError{Index: batch.Index, RecordIDs: batch.RecordIDs(), Raw: raw, Err: err}
	}

	byID := indexRecords(batch.Records)
	seen := make(map[string]bool, len(tags))
	var res TagResult
	for _, t := range tags {
		id := string(t.ID)
		rec, ok := byID[id]
		if !ok {
			logger.Warn("dropping tag for unknown record id",
				zap.Int("batch", batch.Index), zap.String("record_id", id))
			continue
		}
		if seen[id] {
			continue
		}
		seen[id] = true

		cat := strings.TrimSpace(t.Category)
		if cat == "" || strings.EqualFold(cat, models.CategoryNone) {
			res.Spam = append(res.Spam, id)
			continue
		}
		rec.Category = cat
		rec.Subcategory = strings.TrimSpace(t.Subcategory)
		res.Tagged = append(res.Tagged, rec)
	}
	for _, r := range batch.Records {
		if !seen[r.ID] {
			res.Missing = append(res.Missing, r.ID)
		}
	}
	return res, nil
}

func indexRecords(records []models.Record) map[string]models.Record {
	byID := make(map[string]models.Record, len(records))
	for _, r := range records {
		byID[r.ID] = r
	}
	return byID
}
