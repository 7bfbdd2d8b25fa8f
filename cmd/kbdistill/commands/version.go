// ABOUTME: Version command reporting the build and the toolchain it came from
// ABOUTME: Also lists the models each provider falls back to when none are configured
package commands

import (
	"fmt"
	"io"
	"runtime"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/harper/kbdistill/internal/config"
)

var (
	versionInfo = VersionInfo{
		Version: "dev",
		Commit:  "none",
		Date:    "unknown",
	}
)

// VersionInfo contains build information
type VersionInfo struct {
	Version string
	Commit  string
	Date    string
}

// SetVersion sets the version information (called from main)
func SetVersion(version, commit, date string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.Date = date
}

// NewVersionCmd creates the version command
func NewVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long: `Display the kbdistill build information, the Go toolchain and platform it
was built for, and the default models per provider. Models can be
overridden with KB_GENERATION_MODEL, KB_TAGGING_MODEL and KB_EMBEDDING_MODEL.`,
		Run: func(cmd *cobra.Command, args []string) {
			printVersion(cmd.OutOrStdout())
		},
	}

	return cmd
}

func printVersion(out io.Writer) {
	fmt.Fprintf(out, "kbdistill %s\n", versionInfo.Version)
	fmt.Fprintf(out, "Commit: %s\n", versionInfo.Commit)
	fmt.Fprintf(out, "Built:  %s\n", versionInfo.Date)
	fmt.Fprintf(out, "Go:     %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)

	fmt.Fprintln(out, "\nDefault models:")
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  PROVIDER\tGENERATION\tTAGGING\tEMBEDDING")
	for _, provider := range []string{config.ProviderGemini, config.ProviderOpenAI} {
		gen, tag, emb := config.ModelDefaults(provider)
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n", provider, gen, tag, emb)
	}
	w.Flush()
}
