// ABOUTME: Tag command categorises uncategorised records with the tagging model
// ABOUTME: Prints every categorised record as JSON; spam and unanswered ids go to stderr
package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harper/kbdistill/internal/core"
)

var (
	tagRecords    string
	tagCategories string
)

// NewTagCmd creates the tag command
func NewTagCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tag",
		Short: "Categorise records without a category",
		Long: `Assign a category and subcategory from the catalogue to every record
that arrives without one. Records already categorised pass through unchanged.
Records the model judges to be spam are dropped.

Examples:
  kbdistill tag --records tickets.json --categories cats.json
  kbdistill tag --records - --categories cats.json < tickets.json`,
		RunE: runTag,
	}

	cmd.Flags().StringVar(&tagRecords, "records", "", "JSON file of records (- for stdin)")
	cmd.Flags().StringVar(&tagCategories, "categories", "", "JSON category catalogue")
	_ = cmd.MarkFlagRequired("records")
	_ = cmd.MarkFlagRequired("categories")

	return cmd
}

func runTag(cmd *cobra.Command, args []string) error {
	records, err := loadRecords(tagRecords)
	if err != nil {
		return err
	}
	categories, err := loadCategories(tagCategories)
	if err != nil {
		return err
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
	budget := core.NewBudget(cfg.RequestsPerMin, cfg.TokensPerMin)
	tagger := newTagger(backend, categories, budget, cfg, logger)

	report, err := tagger.Tag(ctx, records)
	if report != nil {
		if perr := printJSON(cmd, report.Records); perr != nil {
			return perr
		}
		if !quiet {
			w := cmd.ErrOrStderr()
			fmt.Fprintf(w, "\nTagged %d record(s)\n", report.Tagged)
			if len(report.Spam) > 0 {
				fmt.Fprintf(w, "Dropped as spam: %s\n", strings.Join(report.Spam, ", "))
			}
			if len(report.Missing) > 0 {
				fmt.Fprintf(w, "Warning: not returned by the model: %s\n", strings.Join(report.Missing, ", "))
			}
		}
	}
	return err
}
