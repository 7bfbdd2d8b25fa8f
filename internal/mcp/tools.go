// ABOUTME: MCP tool definitions and registration for the kbdistill corpus server
// ABOUTME: Exposes duplicate checking and corpus statistics to LLM agents
package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/harper/kbdistill/internal/core"
)

// RegisterTools registers all MCP tools with the server
func RegisterTools(server *mcpserver.MCPServer, corpus Corpus, embedder core.Embedder, cfg Config, logger *zap.Logger) *Handlers {
	handlers := NewHandlers(corpus, embedder, cfg, logger)

	// 1. check_duplicate - Would this article be merged into an existing entry?
	server.AddTool(mcp.Tool{
		Name:        "check_duplicate",
		Description: "Check whether a question/answer article duplicates an existing knowledge base entry. Returns the matching entry, if any, and the nearest neighbours.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"question": map[string]interface{}{
					"type":        "string",
					"description": "Article question or title",
				},
				"answer": map[string]interface{}{
					"type":        "string",
					"description": "Article answer body (HTML allowed)",
				},
				"max_results": map[string]interface{}{
					"type":        "number",
					"description": "Maximum number of neighbours to return (default: 5)",
					"default":     5,
				},
			},
			Required: []string{"question"},
		},
	}, handlers.CheckDuplicate)

	// 2. corpus_stats - Entry counts by type
	server.AddTool(mcp.Tool{
		Name:        "corpus_stats",
		Description: "Report how many corpus entries exist for each entry type.",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, handlers.CorpusStats)

	return handlers
}
