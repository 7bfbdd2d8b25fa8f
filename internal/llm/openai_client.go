// ABOUTME: OpenAI backend for generation and embeddings (text-embedding-3-small, gpt-4o by default)
// ABOUTME: Token counts are estimated locally since the API has no counting endpoint
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/harper/kbdistill/internal/models"
)

const (
	// DefaultEmbeddingModel is the default model for embeddings
	DefaultEmbeddingModel = openai.SmallEmbedding3
	// bytesPerToken is the rough English ratio used by the local estimate
	bytesPerToken = 4
)

// ClientConfig holds configuration for the OpenAI client
type ClientConfig struct {
	APIKey         string
	EmbeddingModel openai.EmbeddingModel
	// BaseURL overrides the API endpoint (tests, proxies)
	BaseURL string
}

// DefaultConfig returns the default client configuration
func DefaultConfig(apiKey string) *ClientConfig {
	return &ClientConfig{
		APIKey:         apiKey,
		EmbeddingModel: DefaultEmbeddingModel,
	}
}

// OpenAIClient implements Backend on the OpenAI API
type OpenAIClient struct {
	client         *openai.Client
	embeddingModel openai.EmbeddingModel
}

// NewOpenAIClient creates a new OpenAI client with the given API key using default configuration
func NewOpenAIClient(apiKey string) (*OpenAIClient, error) {
	return NewOpenAIClientWithConfig(DefaultConfig(apiKey))
}

// NewOpenAIClientWithConfig creates a new OpenAI client with custom configuration
func NewOpenAIClientWithConfig(config *ClientConfig) (*OpenAIClient, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	oc := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		oc.BaseURL = config.BaseURL
	}
	model := config.EmbeddingModel
	if model == "" {
		model = DefaultEmbeddingModel
	}

	return &OpenAIClient{
		client:         openai.NewClientWithConfig(oc),
		embeddingModel: model,
	}, nil
}

// CountTokens estimates ceil(bytes/4) of the rendered prompt
func (c *OpenAIClient) CountTokens(_ context.Context, _ string, p Prompt) (int, error) {
	return approxTokens(p.System) + approxTokens(p.User), nil
}

func approxTokens(s string) int {
	return (len(s) + bytesPerToken - 1) / bytesPerToken
}

// Generate runs a chat completion and returns the first choice's content
func (c *OpenAIClient) Generate(ctx context.Context, model string, p Prompt) (string, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, 2)
	if p.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: p.System,
		})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: p.User,
	})

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    msgs,
		Temperature: 0.2,
	})
	if err != nil {
		return "", classifyOpenAIError(fmt.Errorf("chat completion: %w", err))
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoCandidates
	}
	return resp.Choices[0].Message.Content, nil
}

// Embed generates an embedding at the requested dimensionality. OpenAI has a single
// embedding intent, so mode is ignored.
func (c *OpenAIClient) Embed(ctx context.Context, text string, _ models.EmbeddingMode, dims int) ([]float32, error) {
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input:      []string{text},
		Model:      c.embeddingModel,
		Dimensions: dims,
	})
	if err != nil {
		return nil, classifyOpenAIError(fmt.Errorf("create embeddings: %w", err))
	}
	if len(resp.Data) == 0 {
		return nil, ErrNoCandidates
	}
	return resp.Data[0].Embedding, nil
}

// classifyOpenAIError maps go-openai errors onto RateLimitError / StatusError
func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.HTTPStatusCode, "", apiErr.Message, nil, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		msg := http.StatusText(reqErr.HTTPStatusCode)
		if reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		return classifyStatus(reqErr.HTTPStatusCode, "", msg, nil, err)
	}
	return err
}
