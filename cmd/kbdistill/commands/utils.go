// ABOUTME: Shared helpers for CLI commands: config, logging, input files and component wiring
// ABOUTME: Builds the backend, corpus store, planners, executors and dedup engine from config
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	openai "github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/harper/kbdistill/internal/charm"
	"github.com/harper/kbdistill/internal/config"
	"github.com/harper/kbdistill/internal/core"
	"github.com/harper/kbdistill/internal/llm"
	"github.com/harper/kbdistill/internal/models"
	"github.com/harper/kbdistill/internal/storage"
	"github.com/harper/kbdistill/internal/storage/sqlite"
)

// loadConfig loads .env (if present) and the validated environment configuration
func loadConfig() (*config.Config, error) {
	if err := godotenv.Load(); err != nil && verbose {
		fmt.Fprintf(os.Stderr, "No .env file found (this is okay for production): %v\n", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newLogger builds a JSON logger on stderr; --verbose switches to a debug console logger
func newLogger() (*zap.Logger, error) {
	var zc zap.Config
	if verbose {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
		if quiet {
			zc.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
		}
	}
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	return zc.Build()
}

// commandContext is cancelled on SIGINT/SIGTERM and after timeout when positive
func commandContext(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	if timeout <= 0 {
		return ctx, stop
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

func readJSONFile(path string, dest any) error {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// loadRecords reads a JSON array of records; "-" reads stdin
func loadRecords(path string) ([]models.Record, error) {
	if path == "" {
		return nil, fmt.Errorf("--records is required")
	}
	var records []models.Record
	if err := readJSONFile(path, &records); err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(records))
	for i, r := range records {
		if r.ID == "" {
			return nil, fmt.Errorf("record %d has no id", i)
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("duplicate record id %q", r.ID)
		}
		seen[r.ID] = true
	}
	return records, nil
}

// loadCategories reads the tagging catalogue
func loadCategories(path string) ([]llm.CategoryOption, error) {
	var cats []llm.CategoryOption
	if err := readJSONFile(path, &cats); err != nil {
		return nil, err
	}
	if len(cats) == 0 {
		return nil, fmt.Errorf("%s lists no categories", path)
	}
	return cats, nil
}

// loadContexts builds the shared documentation provider. A per-category map wins over
// a single static document; with neither, batches carry no documentation.
func loadContexts(staticPath, byCategoryPath string) (core.ContextProvider, error) {
	if byCategoryPath != "" {
		var byCat map[string]json.RawMessage
		if err := readJSONFile(byCategoryPath, &byCat); err != nil {
			return nil, err
		}
		return core.CategoryContext(byCat), nil
	}
	if staticPath != "" {
		var doc json.RawMessage
		if err := readJSONFile(staticPath, &doc); err != nil {
			return nil, err
		}
		return core.StaticContext(doc), nil
	}
	return nil, nil
}

// newBackend creates the generation and embedding provider chosen by KB_PROVIDER
func newBackend(ctx context.Context, cfg *config.Config) (llm.Backend, error) {
	if err := cfg.RequireAPIKey(); err != nil {
		return nil, err
	}
	if cfg.Provider == config.ProviderOpenAI {
		oc := llm.DefaultConfig(cfg.OpenAIKey)
		oc.EmbeddingModel = openai.EmbeddingModel(cfg.EmbeddingModel)
		client, err := llm.NewOpenAIClientWithConfig(oc)
		if err != nil {
			return nil, err
		}
		return client, nil
	}

	backend, err := llm.NewGeminiBackend(ctx, llm.GeminiConfig{
		APIKey:         cfg.GoogleAPIKey,
		EmbeddingModel: cfg.EmbeddingModel,
	})
	if err != nil {
		return nil, err
	}
	return backend, nil
}

// openStore opens the corpus backend chosen by KB_CORPUS_BACKEND
func openStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.CorpusBackend {
	case config.BackendCharm:
		client, err := charm.NewClient(&charm.Config{
			Host:     cfg.CharmHost,
			DBName:   cfg.CharmDBName,
			AutoSync: cfg.AutoSync,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Charm: %w", err)
		}
		return storage.NewVectorStorage(client), nil
	default:
		path := cfg.DBPath
		if path == "" {
			path = sqlite.DefaultDBPath()
		}
		store, err := sqlite.OpenCorpus(path)
		if err != nil {
			return nil, fmt.Errorf("initializing corpus: %w", err)
		}
		return store, nil
	}
}

func retryPolicy(cfg *config.Config) core.RetryPolicy {
	p := core.DefaultRetryPolicy()
	p.MaxAttempts = cfg.MaxAttempts
	p.InitialDelay = cfg.InitialDelay
	return p
}

func dedupConfig(cfg *config.Config) core.DedupConfig {
	dc := core.DefaultDedupConfig()
	dc.Threshold = cfg.SimilarityThreshold
	dc.CollapseThreshold = cfg.CollapseThreshold
	dc.CollapseWithinRun = cfg.CollapseWithinRun
	dc.Dimensions = cfg.EmbeddingDimensions
	dc.Concurrency = cfg.DedupConcurrency
	dc.Retry = retryPolicy(cfg)
	return dc
}

// stage is a planner/executor pair bound to one task and model
type stage struct {
	planner  *core.Planner
	executor *core.Executor
}

func newStage(backend llm.Backend, task llm.Task, model string, budget *core.Budget, cfg *config.Config, logger *zap.Logger) stage {
	tc := llm.NewTaskClient(backend, task, model, cfg.RequestTimeout)
	named := logger.With(zap.String("task", task.Name()))

	pc := core.DefaultPlannerConfig()
	pc.TokenLimit = cfg.TokenLimit
	pc.ProbeConcurrency = cfg.ProbeConcurrency

	return stage{
		planner: core.NewPlanner(tc, pc, named),
		executor: core.NewExecutor(tc, budget, core.ExecutorConfig{
			Concurrency: cfg.Concurrency,
			Retry:       retryPolicy(cfg),
		}, named),
	}
}

// newTagger builds a tagger when a category catalogue is available
func newTagger(backend llm.Backend, categories []llm.CategoryOption, budget *core.Budget, cfg *config.Config, logger *zap.Logger) *core.Tagger {
	if len(categories) == 0 {
		return nil
	}
	s := newStage(backend, llm.TaggingTask{Categories: categories}, cfg.TaggingModel, budget, cfg, logger)
	return core.NewTagger(s.planner, s.executor, logger)
}

// printJSON writes v as indented JSON
func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s\n", data)
	return nil
}

// parseDay parses a YYYY-MM-DD flag; empty means unbounded
func parseDay(name, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s must be YYYY-MM-DD, got %q", name, value)
	}
	return t, nil
}

// truncate shortens a string to maxLen, adding "..." if truncated
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

// validatePositiveInt returns error if n is not positive
func validatePositiveInt(n int, name string) error {
	if n <= 0 {
		return fmt.Errorf("%s must be positive, got %d", name, n)
	}
	return nil
}
