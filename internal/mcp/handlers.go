// ABOUTME: MCP tool handler implementations for the kbdistill corpus server
// ABOUTME: Tool failures are returned as error results so the agent sees the message
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/harper/kbdistill/internal/core"
	"github.com/harper/kbdistill/internal/htmltext"
	"github.com/harper/kbdistill/internal/models"
	"github.com/harper/kbdistill/internal/util"
)

// Corpus is the part of a corpus store the tools read
type Corpus interface {
	Query(ctx context.Context, embedding []float32, field models.EmbeddingField, threshold float64) ([]models.Neighbor, error)
	CountByType(ctx context.Context) (map[string]int, error)
}

// Config holds the match settings shared with the dedup engine
type Config struct {
	Threshold  float64
	Dimensions int
}

// Handlers contains the handler functions for all MCP tools
type Handlers struct {
	corpus   Corpus
	embedder core.Embedder
	cfg      Config
	logger   *zap.Logger
}

// NewHandlers creates handlers over a corpus and embedder
func NewHandlers(corpus Corpus, embedder core.Embedder, cfg Config, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Dimensions < 1 {
		cfg.Dimensions = core.DefaultDedupConfig().Dimensions
	}
	return &Handlers{corpus: corpus, embedder: embedder, cfg: cfg, logger: logger}
}

// CheckDuplicate handles the check_duplicate tool
func (h *Handlers) CheckDuplicate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := request.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError("question argument is required and must be a string"), nil
	}
	answer := request.GetString("answer", "")
	maxResults := request.GetInt("max_results", 5)

	text := htmltext.ToText(models.Artifact{Question: question, Answer: answer}.RawText())
	if strings.TrimSpace(text) == "" {
		return mcp.NewToolResultError("question and answer are empty after normalisation"), nil
	}

	vec, err := h.embedder.Embed(ctx, text, models.ModeSemanticSimilarity, h.cfg.Dimensions)
	if err != nil {
		h.logger.Warn("check_duplicate embedding failed", zap.Error(err))
		return mcp.NewToolResultError(fmt.Sprintf("embedding failed: %v", err)), nil
	}
	vec = util.Truncate(vec, h.cfg.Dimensions)
	if err := models.ValidateDimension(vec, h.cfg.Dimensions); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("embedding failed: %v", err)), nil
	}

	neighbors, err := h.corpus.Query(ctx, util.L2Normalize(vec), models.FieldSemantic, h.cfg.Threshold)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("corpus query failed: %v", err)), nil
	}

	response := map[string]interface{}{
		"duplicate": false,
		"threshold": h.cfg.Threshold,
	}
	if target, ok := core.MatchTarget(neighbors); ok {
		response["duplicate"] = true
		response["entry_id"] = target.EntryID
		response["distance"] = target.Distance
	}
	if maxResults > 0 && len(neighbors) > maxResults {
		neighbors = neighbors[:maxResults]
	}
	if neighbors == nil {
		neighbors = []models.Neighbor{}
	}
	response["neighbors"] = neighbors

	return jsonResult(response)
}

// CorpusStats handles the corpus_stats tool
func (h *Handlers) CorpusStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	counts, err := h.corpus.CountByType(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to count entries: %v", err)), nil
	}

	total := 0
	for _, n := range counts {
		total += n
	}

	return jsonResult(map[string]interface{}{
		"total":   total,
		"by_type": counts,
	})
}

func jsonResult(response any) (*mcp.CallToolResult, error) {
	responseJSON, err := json.Marshal(response)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal response: %v", err)), nil
	}
	return mcp.NewToolResultText(string(responseJSON)), nil
}
