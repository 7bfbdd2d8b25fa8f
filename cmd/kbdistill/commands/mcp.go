// ABOUTME: MCP command starts the Model Context Protocol server
// ABOUTME: Lets LLM agents check drafts against the corpus via stdio
package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/harper/kbdistill/internal/mcp"
)

// NewMCPCmd creates the MCP command
func NewMCPCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start MCP server for LLM agents",
		Long: `Start MCP server for LLM agents

Runs kbdistill as an MCP (Model Context Protocol) server, letting LLM
agents check whether a draft article duplicates the corpus and read
corpus statistics via stdio.

Tools: check_duplicate, corpus_stats.`,
		RunE: runMCP,
		Example: `  # Start MCP server (typically called by Claude Desktop)
  kbdistill mcp

  # Configure in claude_desktop_config.json:
  # {
  #   "mcpServers": {
  #     "kbdistill": {
  #       "command": "kbdistill",
  #       "args": ["mcp"]
  #     }
  #   }
  # }`,
	}

	return cmd
}

// runMCP starts the MCP server
func runMCP(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger()
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := newBackend(ctx, cfg)
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	server := mcpserver.NewMCPServer("kbdistill", versionInfo.Version)
	mcp.RegisterTools(server, store, backend, mcp.Config{
		Threshold:  cfg.SimilarityThreshold,
		Dimensions: cfg.EmbeddingDimensions,
	}, logger)

	logger.Info("MCP server starting on stdio", zap.String("backend", cfg.CorpusBackend))

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- mcpserver.ServeStdio(server)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}
	return nil
}
