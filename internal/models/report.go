// ABOUTME: Run report types summarising what the pipeline produced and what failed
// ABOUTME: Failures keep enough context (batch, record ids, raw text) to retry by hand
package models

// MergeOutcome records a provenance append into an existing corpus entry
type MergeOutcome struct {
	ArtifactID string   `json:"artifact_id"`
	Question   string   `json:"question"`
	EntryID    string   `json:"entry_id"`
	SourceIDs  []string `json:"source_ids"`
	Distance   float64  `json:"distance"`
}

// Dedup stages at which an artifact can fail
const (
	StageEmbed  = "embed"
	StageQuery  = "query"
	StageAppend = "append"
)

// ArtifactFailure is a per-artifact dedup failure (embedding, query or append)
type ArtifactFailure struct {
	ArtifactID string   `json:"artifact_id"`
	Stage      string   `json:"stage"`
	SourceIDs  []string `json:"source_ids"`
	Error      string   `json:"error"`
}

// BatchFailure is a batch whose result could not be repaired and parsed
type BatchFailure struct {
	Group     string   `json:"group,omitempty"`
	Index     int      `json:"index"`
	RecordIDs []string `json:"record_ids"`
	Raw       string   `json:"raw"`
	Error     string   `json:"error"`
}

// RunReport summarises one pipeline run
type RunReport struct {
	Records          int               `json:"records"`
	Filtered         int               `json:"filtered"`
	Tagged           int               `json:"tagged"`
	Groups           int               `json:"groups"`
	Batches          int               `json:"batches"`
	Candidates       int               `json:"candidates"`
	New              []Artifact        `json:"new"`
	Merged           []MergeOutcome    `json:"merged"`
	Collapsed        int               `json:"collapsed"`
	BatchFailures    []BatchFailure    `json:"batch_failures,omitempty"`
	ArtifactFailures []ArtifactFailure `json:"artifact_failures,omitempty"`
}
