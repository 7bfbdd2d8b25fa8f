// ABOUTME: Plan command partitions records into batches without generating
// ABOUTME: Shows batch sizes and the token oracle's estimates per group
package commands

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/harper/kbdistill/internal/core"
	"github.com/harper/kbdistill/internal/llm"
	"github.com/harper/kbdistill/internal/models"
)

// plannedBatch is one row of plan output
type plannedBatch struct {
	Group           string   `json:"group"`
	Index           int      `json:"index"`
	Records         int      `json:"records"`
	EstimatedTokens int      `json:"estimated_tokens"`
	RecordIDs       []string `json:"record_ids"`
}

var (
	planRecords    string
	planTask       string
	planContext    string
	planCategories string
	planSeed       bool
)

// NewPlanCmd creates the plan command
func NewPlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show how records would be batched",
		Long: `Partition records into token-bounded batches using the provider's token
counter, without generating anything.

For the articles task, categorised records are planned per category group.
For the tagging task, uncategorised records are planned as one set.

Examples:
  kbdistill plan --records tickets.json
  kbdistill plan --records tickets.json --task tagging --categories cats.json
  kbdistill plan --records tickets.json --format json`,
		RunE: runPlan,
	}

	cmd.Flags().StringVar(&planRecords, "records", "", "JSON file of records (- for stdin)")
	cmd.Flags().StringVar(&planTask, "task", llm.TaskArticles, "Task to plan: articles or tagging")
	cmd.Flags().StringVar(&planContext, "context", "", "JSON documentation sent with every article batch")
	cmd.Flags().StringVar(&planCategories, "categories", "", "JSON category catalogue for the tagging task")
	cmd.Flags().BoolVar(&planSeed, "seed", true, "Estimate each group once to pick the starting batch count")
	_ = cmd.MarkFlagRequired("records")

	return cmd
}

// planGroups returns the record groups to plan and the task to render them with
func planGroups(task string, records []models.Record, categories []llm.CategoryOption) ([]core.Group, llm.Task, error) {
	switch task {
	case llm.TaskArticles:
		var labelled []models.Record
		for _, r := range records {
			if r.HasCategory() {
				labelled = append(labelled, r)
			}
		}
		return core.GroupByCategory(labelled), llm.ArticleTask{}, nil
	case llm.TaskTagging:
		var pending []models.Record
		for _, r := range records {
			if !r.HasCategory() {
				pending = append(pending, r)
			}
		}
		if len(pending) == 0 {
			return nil, nil, nil
		}
		return []core.Group{{Category: llm.TaskTagging, Records: pending}}, llm.TaggingTask{Categories: categories}, nil
	}
	return nil, nil, fmt.Errorf("--task must be %q or %q, got %q", llm.TaskArticles, llm.TaskTagging, task)
}

func runPlan(cmd *cobra.Command, args []string) error {
	records, err := loadRecords(planRecords)
	if err != nil {
		return err
	}
	var categories []llm.CategoryOption
	if planCategories != "" {
		if categories, err = loadCategories(planCategories); err != nil {
			return err
		}
	}
	groups, task, err := planGroups(planTask, records, categories)
	if err != nil {
		return err
	}
	if len(groups) == 0 {
		if !quiet {
			fmt.Fprintf(cmd.OutOrStdout(), "No records to plan for the %s task\n", planTask)
		}
		return nil
	}

	var shared json.RawMessage
	if planContext != "" && planTask == llm.TaskArticles {
		if err := readJSONFile(planContext, &shared); err != nil {
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

	ctx, cancel := commandContext(cmd.Context(), cfg.RunTimeout)
	defer cancel()

	backend, err := newBackend(ctx, cfg)
	if err != nil {
		return err
	}
	model := cfg.GenerationModel
	if planTask == llm.TaskTagging {
		model = cfg.TaggingModel
	}
	s := newStage(backend, task, model, nil, cfg, logger)

	var rows []plannedBatch
	for _, g := range groups {
		seed := 1
		if planSeed {
			seed = s.planner.Seed(ctx, g.Records, shared)
		}
		batches, err := s.planner.Plan(ctx, g.Records, shared, seed)
		if err != nil {
			return fmt.Errorf("plan group %s: %w", g.Key(), err)
		}
		for _, b := range batches {
			rows = append(rows, plannedBatch{
				Group:           g.Key(),
				Index:           len(rows),
				Records:         len(b.Records),
				EstimatedTokens: b.EstimatedTokens,
				RecordIDs:       b.RecordIDs(),
			})
		}
	}

	if outputFormat == "json" {
		return printJSON(cmd, rows)
	}
	printPlanTable(cmd, rows, cfg.TokenLimit)
	return nil
}

func printPlanTable(cmd *cobra.Command, rows []plannedBatch, limit int) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "BATCH\tGROUP\tRECORDS\tTOKENS\n")
	fmt.Fprintf(w, "-----\t-----\t-------\t------\n")
	for _, r := range rows {
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\n", r.Index, truncate(r.Group, 40), r.Records, r.EstimatedTokens)
	}
	w.Flush()

	if !quiet {
		fmt.Fprintf(cmd.OutOrStdout(), "\nTotal: %d batch(es), token limit %d\n", len(rows), limit)
	}
}
