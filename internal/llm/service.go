// ABOUTME: Contracts between the pipeline and a text-generation/embedding provider
// ABOUTME: A Task renders a batch into a Prompt; a Backend counts, generates and embeds
package llm

import (
	"context"
	"errors"

	"github.com/harper/kbdistill/internal/models"
)

// ErrNoCandidates is returned when the provider answers with an empty result set.
// Only the first candidate (or first embedding) of a response is ever used.
var ErrNoCandidates = errors.New("no candidates returned")

// Prompt is the provider-neutral request body for one batch
type Prompt struct {
	System string
	User   string
	// JSON asks the provider to answer with application/json when it supports it
	JSON bool
}

// Task turns a batch into a prompt; the rendered text is what gets counted and sent
type Task interface {
	Name() string
	Render(batch models.Batch) (Prompt, error)
}

// Backend is a generation and embedding provider
type Backend interface {
	// CountTokens is the token oracle: the provider's own count of the rendered prompt
	CountTokens(ctx context.Context, model string, p Prompt) (int, error)
	// Generate returns the raw text of the first candidate
	Generate(ctx context.Context, model string, p Prompt) (string, error)
	// Embed returns the first embedding of text for the given intent, at most dims long
	Embed(ctx context.Context, text string, mode models.EmbeddingMode, dims int) ([]float32, error)
}
