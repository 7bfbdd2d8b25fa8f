// ABOUTME: Run command executes the full pipeline over a file of records
// ABOUTME: Prints the JSON run report; new articles are saved to the corpus unless --dry-run
package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/harper/kbdistill/internal/core"
	"github.com/harper/kbdistill/internal/llm"
	"github.com/harper/kbdistill/internal/models"
)

type runOptions struct {
	records          string
	context          string
	categoryContext  string
	categories       string
	dryRun           bool
	noDedup          bool
	seed             bool
	timeout          time.Duration
	category         string
	subcategory      string
	since            string
	until            string
	requireTag       string
	includeEscalated bool
}

// NewRunCmd creates the run command
func NewRunCmd() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Generate knowledge base articles from records",
		Long: `Run the full pipeline over a JSON array of records.

Records are filtered (spam and intent tags, escalations, date window),
tagged when they arrive without a category and --categories is given,
grouped by category, planned into token-bounded batches and generated
concurrently. Each generated article is embedded and compared with the
corpus: matches extend the existing entry's provenance, everything else
is saved as a new generated_article entry.

Examples:
  kbdistill run --records tickets.json
  kbdistill run --records tickets.json --context docs.json --dry-run
  kbdistill run --records tickets.json --categories cats.json --category Billing
  kbdistill run --records tickets.json --since 2024-03-01 --until 2024-03-31`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.records, "records", "", "JSON file of records (- for stdin)")
	cmd.Flags().StringVar(&opts.context, "context", "", "JSON documentation sent with every batch")
	cmd.Flags().StringVar(&opts.categoryContext, "category-context", "", "JSON object mapping \"Category\" or \"Category/Subcategory\" to documentation")
	cmd.Flags().StringVar(&opts.categories, "categories", "", "JSON category catalogue; enables tagging of uncategorised records")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Report new articles without saving them")
	cmd.Flags().BoolVar(&opts.noDedup, "no-dedup", false, "Skip the corpus comparison and treat every article as new")
	cmd.Flags().BoolVar(&opts.seed, "seed", true, "Estimate each group once to pick the starting batch count")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "Abort the run after this long (default KB_RUN_TIMEOUT)")
	cmd.Flags().StringVar(&opts.category, "category", "", "Only generate articles for this category")
	cmd.Flags().StringVar(&opts.subcategory, "subcategory", "", "Only generate articles for this subcategory")
	cmd.Flags().StringVar(&opts.since, "since", "", "Only records created on or after this day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.until, "until", "", "Only records created on or before this day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.requireTag, "require-tag", "", "Only records carrying this tag")
	cmd.Flags().BoolVar(&opts.includeEscalated, "include-escalated", false, "Keep records already escalated to engineering")
	_ = cmd.MarkFlagRequired("records")

	return cmd
}

// filterConfig turns the selection flags into a FilterConfig
func (o *runOptions) filterConfig() (core.FilterConfig, error) {
	fc := core.DefaultFilterConfig()
	from, err := parseDay("since", o.since)
	if err != nil {
		return fc, err
	}
	to, err := parseDay("until", o.until)
	if err != nil {
		return fc, err
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return fc, errors.New("--until is before --since")
	}
	fc.Since, fc.Until = core.DayWindow(from, to)
	fc.RequireTag = o.requireTag
	fc.IncludeEscalated = o.includeEscalated
	fc.Category = o.category
	fc.Subcategory = o.subcategory
	return fc, nil
}

func runPipeline(cmd *cobra.Command, opts *runOptions) error {
	fc, err := opts.filterConfig()
	if err != nil {
		return err
	}
	records, err := loadRecords(opts.records)
	if err != nil {
		return err
	}
	contexts, err := loadContexts(opts.context, opts.categoryContext)
	if err != nil {
		return err
	}
	var categories []llm.CategoryOption
	if opts.categories != "" {
		if categories, err = loadCategories(opts.categories); err != nil {
			return err
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger()
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	timeout := opts.timeout
	if timeout == 0 {
		timeout = cfg.RunTimeout
	}
	ctx, cancel := commandContext(cmd.Context(), timeout)
	defer cancel()

	backend, err := newBackend(ctx, cfg)
	if err != nil {
		return err
	}

	budget := core.NewBudget(cfg.RequestsPerMin, cfg.TokensPerMin)
	articles := newStage(backend, llm.ArticleTask{}, cfg.GenerationModel, budget, cfg, logger)
	deps := core.PipelineDeps{
		Tagger:   newTagger(backend, categories, budget, cfg, logger),
		Planner:  articles.planner,
		Executor: articles.executor,
		Contexts: contexts,
		Logger:   logger,
	}

	if !opts.noDedup {
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()
		deps.Dedup = core.NewDeduplicator(backend, store, dedupConfig(cfg), logger)
		deps.Sink = store
	}

	pipeline, err := core.NewPipeline(deps, core.PipelineConfig{
		Filter: fc,
		Seed:   opts.seed,
		DryRun: opts.dryRun,
	})
	if err != nil {
		return err
	}

	report, runErr := pipeline.Run(ctx, records)
	if report != nil {
		if err := printJSON(cmd, report); err != nil {
			return err
		}
		if !quiet {
			printRunSummary(cmd, report, opts.dryRun)
		}
	}
	if runErr != nil {
		logger.Error("run failed", zap.Error(runErr))
		return runErr
	}
	return nil
}

func printRunSummary(cmd *cobra.Command, r *models.RunReport, dryRun bool) {
	w := cmd.ErrOrStderr()
	saved := "saved"
	if dryRun {
		saved = "not saved (dry run)"
	}
	fmt.Fprintf(w, "\nRecords: %d (%d filtered out, %d tagged)\n", r.Records, r.Filtered, r.Tagged)
	fmt.Fprintf(w, "Batches: %d across %d group(s)\n", r.Batches, r.Groups)
	fmt.Fprintf(w, "Articles: %d new %s, %d merged into existing entries, %d collapsed\n",
		len(r.New), saved, len(r.Merged), r.Collapsed)
	if n := len(r.BatchFailures) + len(r.ArtifactFailures); n > 0 {
		fmt.Fprintf(w, "Warning: %d batch failure(s), %d article failure(s); see the report for details\n",
			len(r.BatchFailures), len(r.ArtifactFailures))
	}
}
