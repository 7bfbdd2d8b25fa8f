// ABOUTME: Gemini backend over google.golang.org/genai: token counting, generation and embeddings
// ABOUTME: Maps genai.APIError into RateLimitError (with RetryInfo delay) or StatusError
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/harper/kbdistill/internal/models"
)

// DefaultGeminiEmbeddingModel is used when no embedding model is configured
const DefaultGeminiEmbeddingModel = "gemini-embedding-001"

// GeminiConfig holds configuration for the Gemini backend
type GeminiConfig struct {
	APIKey         string
	EmbeddingModel string
	// BaseURL overrides the API endpoint (tests, proxies)
	BaseURL    string
	HTTPClient *http.Client
}

// GeminiBackend implements Backend with the Gemini Developer API
type GeminiBackend struct {
	client         *genai.Client
	embeddingModel string
}

// NewGeminiBackend creates a Gemini backend
func NewGeminiBackend(ctx context.Context, cfg GeminiConfig) (*GeminiBackend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}
	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	model := cfg.EmbeddingModel
	if model == "" {
		model = DefaultGeminiEmbeddingModel
	}
	return &GeminiBackend{client: client, embeddingModel: model}, nil
}

func geminiContents(p Prompt) []*genai.Content {
	return []*genai.Content{genai.NewContentFromText(p.User, genai.RoleUser)}
}

// CountTokens returns the provider's count for the system instruction and user prompt
func (g *GeminiBackend) CountTokens(ctx context.Context, model string, p Prompt) (int, error) {
	contents := geminiContents(p)
	if p.System != "" {
		// countTokens on the Developer API does not accept a system instruction
		contents = append([]*genai.Content{genai.NewContentFromText(p.System, genai.RoleUser)}, contents...)
	}
	resp, err := g.client.Models.CountTokens(ctx, model, contents, nil)
	if err != nil {
		return 0, classifyGeminiError(fmt.Errorf("count tokens: %w", err))
	}
	return int(resp.TotalTokens), nil
}

// Generate returns the concatenated text parts of the first candidate
func (g *GeminiBackend) Generate(ctx context.Context, model string, p Prompt) (string, error) {
	cfg := &genai.GenerateContentConfig{}
	if p.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(p.System, genai.RoleUser)
	}
	if p.JSON {
		cfg.ResponseMIMEType = "application/json"
	}

	resp, err := g.client.Models.GenerateContent(ctx, model, geminiContents(p), cfg)
	if err != nil {
		return "", classifyGeminiError(fmt.Errorf("generate content: %w", err))
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", ErrNoCandidates
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		sb.WriteString(part.Text)
	}
	return sb.String(), nil
}

// Embed returns the first embedding for text with the given task type
func (g *GeminiBackend) Embed(ctx context.Context, text string, mode models.EmbeddingMode, dims int) ([]float32, error) {
	cfg := &genai.EmbedContentConfig{TaskType: string(mode)}
	if dims > 0 {
		d := int32(dims)
		cfg.OutputDimensionality = &d
	}

	resp, err := g.client.Models.EmbedContent(ctx, g.embeddingModel,
		[]*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}, cfg)
	if err != nil {
		return nil, classifyGeminiError(fmt.Errorf("embed content: %w", err))
	}
	if len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
		return nil, ErrNoCandidates
	}
	return resp.Embeddings[0].Values, nil
}

// classifyGeminiError wraps genai API errors into the package's typed errors
func classifyGeminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.Code, apiErr.Status, apiErr.Message, apiErr.Details, err)
	}
	return err
}
