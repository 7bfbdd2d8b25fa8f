// ABOUTME: Root command for the kbdistill CLI with global output flags
// ABOUTME: Registers run, plan, tag, corpus, mcp and version subcommands
package commands

import (
	"github.com/spf13/cobra"
)

var (
	verbose      bool
	quiet        bool
	outputFormat string
)

const banner = `
██╗  ██╗██████╗
██║ ██╔╝██╔══██╗
█████╔╝ ██████╔╝
██╔═██╗ ██╔══██╗
██║  ██╗██████╔╝
╚═╝  ╚═╝╚═════╝  distill
`

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kbdistill",
		Short: "Distill support records into knowledge base articles",
		Long: banner + `
Turn batches of support records into consolidated Q&A knowledge base
articles. Records are grouped by category, packed into batches that fit
the model's token limit, generated concurrently under a rate budget, and
checked against the existing corpus so near-duplicates extend an existing
article's provenance instead of being saved twice.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output with debug logging")
	cmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Only log warnings and errors")
	cmd.PersistentFlags().StringVar(&outputFormat, "format", "auto", "Output format: auto, json or table")
	cmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	cmd.AddCommand(NewRunCmd())
	cmd.AddCommand(NewPlanCmd())
	cmd.AddCommand(NewTagCmd())
	cmd.AddCommand(NewCorpusCmd())
	cmd.AddCommand(NewMCPCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command
func Execute() error {
	return NewRootCmd().Execute()
}
