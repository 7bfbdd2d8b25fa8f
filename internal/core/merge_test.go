// ABOUTME: Tests for merging repaired output back onto batch records
// ABOUTME: Covers article provenance, label fallback, unknown ids and tagging merges
package core

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/harper/kbdistill/internal/models"
)

func mergeBatch() models.Batch {
	return models.Batch{
		Index: 2,
		Records: []models.Record{
			{ID: "101", Subject: "Refund", Content: "Where is my refund?", Category: "Billing", Subcategory: "Refunds"},
			{ID: "102", Subject: "Refund again", Content: "Still no refund", Category: "Billing", Subcategory: "Refunds"},
			{ID: "103", Subject: "Login", Content: "Cannot log in", Tags: []string{"web"}},
		},
	}
}

func TestRepairAndMerge(t *testing.T) {
	raw := "```json\n" + `[
		{"record_ids": ["101", 102, "999"], "question": " How long do refunds take? ", "answer": "<p>Five days.</p>", "count": "2"},
		{"record_ids": "103", "question": "How do I reset my password?", "answer": "Use the link.", "category": "Account", "subcategory": "Login"},
		{"record_ids": ["999"], "question": "Invented", "answer": "Nope"},
		{"record_ids": ["101"], "question": "", "answer": " "},
	]` + "\n```"

	artifacts, err := RepairAndMerge(raw, mergeBatch(), nil)
	if err != nil {
		t.Fatalf("RepairAndMerge() error = %v", err)
	}
	if len(artifacts) != 2 {
		t.Fatalf("len(artifacts) = %d, want 2", len(artifacts))
	}

	first := artifacts[0]
	if first.ID == "" || first.ID == artifacts[1].ID {
		t.Errorf("artifact ids should be unique and non-empty, got %q and %q", first.ID, artifacts[1].ID)
	}
	if diff := cmp.Diff([]string{"101", "102"}, first.SourceIDs); diff != "" {
		t.Errorf("SourceIDs mismatch (-want +got):\n%s", diff)
	}
	if first.Question != "How long do refunds take?" {
		t.Errorf("Question = %q, want trimmed question", first.Question)
	}
	if first.Category != "Billing" || first.Subcategory != "Refunds" {
		t.Errorf("labels = %s/%s, want fallback Billing/Refunds", first.Category, first.Subcategory)
	}
	if first.Count != 2 {
		t.Errorf("Count = %d, want 2", first.Count)
	}
	if len(first.Sources) != 2 || first.Sources[1].Content != "Still no refund" {
		t.Errorf("Sources = %+v, want the two cited records", first.Sources)
	}

	second := artifacts[1]
	if second.Category != "Account" || second.Subcategory != "Login" {
		t.Errorf("labels = %s/%s, want Account/Login", second.Category, second.Subcategory)
	}
	if second.Count != 1 {
		t.Errorf("Count = %d, want 1 (defaults to source count)", second.Count)
	}
	if second.Sources[0].Tags[0] != "web" {
		t.Errorf("Sources[0].Tags = %v, want record metadata reattached", second.Sources[0].Tags)
	}
}

func TestRepairAndMerge_SingleObject(t *testing.T) {
	artifacts, err := RepairAndMerge(`{"record_ids":["101"],"question":"Q","answer":"A"}`, mergeBatch(), nil)
	if err != nil {
		t.Fatalf("RepairAndMerge() error = %v", err)
	}
	if len(artifacts) != 1 {
		t.Errorf("len(artifacts) = %d, want 1", len(artifacts))
	}
}

func TestRepairAndMerge_ParseError(t *testing.T) {
	raw := "Sorry, I cannot help with that."
	_, err := RepairAndMerge(raw, mergeBatch(), nil)

	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("RepairAndMerge() error = %v, want *ParseError", err)
	}
	if pe.Index != 2 || pe.Raw != raw {
		t.Errorf("ParseError = index %d raw %q, want 2 and the original text", pe.Index, pe.Raw)
	}
	if diff := cmp.Diff([]string{"101", "102", "103"}, pe.RecordIDs); diff != "" {
		t.Errorf("RecordIDs mismatch (-want +got):\n%s", diff)
	}
	if !errors.Is(err, ErrUnrepairable) {
		t.Errorf("error should wrap ErrUnrepairable")
	}
}

func TestRepairAndMerge_WrongShape(t *testing.T) {
	if _, err := RepairAndMerge(`[1, 2]`, mergeBatch(), nil); err == nil {
		t.Error("RepairAndMerge() of a number array should fail")
	}
}

func TestMergeTags(t *testing.T) {
	batch := models.Batch{Records: []models.Record{
		{ID: "1", Content: "refund please"},
		{ID: "2", Content: "buy cheap watches"},
		{ID: "3", Content: "login broken"},
		{ID: "4", Content: "never answered"},
	}}
	raw := `[
		{"id": 1, "category": "Billing", "subcategory": "Refunds"},
		{"id": "2", "category": "None"},
		{"id": "3", "category": " Account ", "subcategory": "Login"},
		{"id": "3", "category": "Other"},
		{"id": "77", "category": "Billing"}
	]`

	res, err := MergeTags(raw, batch, nil)
	if err != nil {
		t.Fatalf("MergeTags() error = %v", err)
	}

	var got []string
	for _, r := range res.Tagged {
		got = append(got, r.ID+":"+r.Category+"/"+r.Subcategory)
	}
	want := []string{"1:Billing/Refunds", "3:Account/Login"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Tagged mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"2"}, res.Spam); diff != "" {
		t.Errorf("Spam mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"4"}, res.Missing); diff != "" {
		t.Errorf("Missing mismatch (-want +got):\n%s", diff)
	}
	if res.Tagged[0].Content != "refund please" {
		t.Errorf("Content = %q, want original record content", res.Tagged[0].Content)
	}
}
