// ABOUTME: The two generation tasks: knowledge-base article synthesis and record tagging
// ABOUTME: Also defines the JSON shapes the model is asked to answer with
package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/harper/kbdistill/internal/models"
)

// Task names
const (
	TaskArticles = "articles"
	TaskTagging  = "tagging"
)

// Article is one element of the article task's answer array
type Article struct {
	RecordIDs   IDList   `json:"record_ids"`
	Question    string   `json:"question"`
	Answer      string   `json:"answer"`
	Count       FlexInt  `json:"count"`
	Category    string   `json:"category"`
	Subcategory string   `json:"subcategory"`
}

// Tag is one element of the tagging task's answer array
type Tag struct {
	ID          ID     `json:"id"`
	Category    string `json:"category"`
	Subcategory string `json:"subcategory"`
}

// CategoryOption is one allowed category with its subcategories
type CategoryOption struct {
	Category      string   `json:"category"`
	Subcategories []string `json:"subcategories"`
}

// FlexInt decodes a count the model may send as a number or a numeric string
type FlexInt int

func (f *FlexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	var n float64
	if err := json.Unmarshal([]byte(s), &n); err != nil {
		// Non-numeric counts are not worth failing a batch over
		*f = 0
		return nil
	}
	*f = FlexInt(n)
	return nil
}

// ID decodes a record id the model may send as a string or a number
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	v, err := decodeNumberAware(b)
	if err != nil {
		return err
	}
	*id = ID(idString(v))
	return nil
}

// IDList decodes record ids sent singly or as an array, as strings or numbers
type IDList []string

func (l *IDList) UnmarshalJSON(b []byte) error {
	v, err := decodeNumberAware(b)
	if err != nil {
		return err
	}
	*l = nil
	items, ok := v.([]any)
	if !ok {
		items = []any{v}
	}
	for _, item := range items {
		if s := idString(item); s != "" {
			*l = append(*l, s)
		}
	}
	return nil
}

func decodeNumberAware(b []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func idString(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case json.Number:
		return x.String()
	}
	return ""
}

// promptRecord is the subset of a record the model sees
type promptRecord struct {
	ID          string   `json:"id"`
	Subject     string   `json:"subject,omitempty"`
	Content     string   `json:"content"`
	Tags        []string `json:"tags,omitempty"`
	Category    string   `json:"category,omitempty"`
	Subcategory string   `json:"subcategory,omitempty"`
}

func toPromptRecords(records []models.Record, withLabels bool) []promptRecord {
	out := make([]promptRecord, len(records))
	for i, r := range records {
		pr := promptRecord{ID: r.ID, Subject: r.Subject, Content: r.Content}
		if withLabels {
			pr.Tags = r.Tags
			pr.Category = r.Category
			pr.Subcategory = r.Subcategory
		}
		out[i] = pr
	}
	return out
}

// ArticleTask asks for consolidated Q&A articles covering a batch of records
type ArticleTask struct{}

func (ArticleTask) Name() string { return TaskArticles }

const articleSystemPrompt = `You write consolidated knowledge base articles from related support records.
Review the documentation and the records. For each distinct question not already covered by the documentation, produce one object:
{"record_ids": [ids of the records it is based on], "question": "...", "answer": "HTML answer", "count": number of records raising it, "category": "...", "subcategory": "..."}
Copy category and subcategory from the records unchanged. Skip spam. Leave out customer names, emails and ticket numbers.
Answer with a single JSON array and nothing else.`

// Render embeds shared documentation and the batch records into the prompt
func (ArticleTask) Render(batch models.Batch) (Prompt, error) {
	recs, err := json.MarshalIndent(toPromptRecords(batch.Records, true), "", "  ")
	if err != nil {
		return Prompt{}, fmt.Errorf("failed to encode records: %w", err)
	}
	docs := "[]"
	if len(batch.SharedContext) > 0 {
		docs = string(batch.SharedContext)
	}

	var sb strings.Builder
	sb.WriteString("<documentation>\n")
	sb.WriteString(docs)
	sb.WriteString("\n</documentation>\n\n<records>\n")
	sb.Write(recs)
	sb.WriteString("\n</records>")

	return Prompt{System: articleSystemPrompt, User: sb.String(), JSON: true}, nil
}

// TaggingTask asks for a category and subcategory for each uncategorised record
type TaggingTask struct {
	Categories []CategoryOption
}

func (TaggingTask) Name() string { return TaskTagging }

const taggingSystemPrompt = `You categorise support records for a software company.
For every record pick the single best category and subcategory from the allowed options.
Use "none" as the category for spam or records unrelated to the product.
Answer with a JSON array of {"id": "...", "category": "...", "subcategory": "..."} and nothing else.`

// Render lists the records and the allowed category catalogue
func (t TaggingTask) Render(batch models.Batch) (Prompt, error) {
	recs, err := json.MarshalIndent(toPromptRecords(batch.Records, false), "", "  ")
	if err != nil {
		return Prompt{}, fmt.Errorf("failed to encode records: %w", err)
	}
	cats, err := json.MarshalIndent(t.Categories, "", "  ")
	if err != nil {
		return Prompt{}, fmt.Errorf("failed to encode categories: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("<records>\n")
	sb.Write(recs)
	sb.WriteString("\n</records>\n\n<categories>\n")
	sb.Write(cats)
	sb.WriteString("\n</categories>")

	return Prompt{System: taggingSystemPrompt, User: sb.String(), JSON: true}, nil
}
