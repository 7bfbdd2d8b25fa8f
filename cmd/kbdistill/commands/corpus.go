// ABOUTME: Corpus commands manage the knowledge base entries used for dedup
// ABOUTME: Provides import (with embedding), list, stats and Charm sync
package commands

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/harper/kbdistill/internal/core"
	"github.com/harper/kbdistill/internal/htmltext"
	"github.com/harper/kbdistill/internal/models"
)

// NewCorpusCmd creates the corpus command group
func NewCorpusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "corpus",
		Short: "Manage the knowledge base corpus",
		Long: `Manage the corpus that generated articles are compared against.

The corpus lives in SQLite by default (KB_CORPUS_BACKEND=sqlite, KB_DB_PATH)
or in Charm KV with cloud sync (KB_CORPUS_BACKEND=charm).`,
	}

	cmd.AddCommand(newCorpusImportCmd())
	cmd.AddCommand(newCorpusListCmd())
	cmd.AddCommand(newCorpusStatsCmd())
	cmd.AddCommand(newCorpusSyncCmd())

	return cmd
}

// importEntry is one element of an import file
type importEntry struct {
	ID          string   `json:"id"`
	Type        string   `json:"type"`
	Title       string   `json:"title"`
	Body        string   `json:"body"`
	Category    string   `json:"category"`
	Subcategory string   `json:"subcategory"`
	SourceIDs   []string `json:"source_ids"`
}

type entryInserter interface {
	Insert(ctx context.Context, entry models.CorpusEntry) error
}

type textEmbedder interface {
	EmbedText(ctx context.Context, text string) (semantic, retrieval []float32, err error)
}

// importEntries embeds and inserts entries, stopping at the first failure
func importEntries(ctx context.Context, store entryInserter, emb textEmbedder, entries []importEntry, defaultType string, now time.Time) (int, error) {
	imported := 0
	for i, in := range entries {
		text := htmltext.ToText(strings.TrimSpace(in.Title + " \n\n " + in.Body))
		if text == "" {
			return imported, fmt.Errorf("entry %d (%s) has no text", i, in.ID)
		}
		semantic, retrieval, err := emb.EmbedText(ctx, text)
		if err != nil {
			return imported, fmt.Errorf("embedding entry %d (%s): %w", i, in.ID, err)
		}

		entry := models.CorpusEntry{
			ID:                 in.ID,
			Type:               in.Type,
			Title:              in.Title,
			Body:               in.Body,
			Category:           in.Category,
			Subcategory:        in.Subcategory,
			SourceIDs:          in.SourceIDs,
			SemanticEmbedding:  semantic,
			RetrievalEmbedding: retrieval,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if entry.ID == "" {
			entry.ID = uuid.New().String()
		}
		if entry.Type == "" {
			entry.Type = defaultType
		}
		if err := store.Insert(ctx, entry); err != nil {
			return imported, fmt.Errorf("inserting entry %s: %w", entry.ID, err)
		}
		imported++
	}
	return imported, nil
}

func newCorpusImportCmd() *cobra.Command {
	var (
		file      string
		entryType string
	)

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Embed and import corpus entries from a JSON file",
		Long: `Import articles or documentation chunks into the corpus.

The file is a JSON array of {id, type, title, body, category, subcategory,
source_ids}. Both embeddings are computed with the configured provider so
the entries take part in dedup immediately. Existing ids are replaced
and keep their provenance.

Examples:
  kbdistill corpus import --file articles.json
  kbdistill corpus import --file docs.json --type doc_chunk`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var entries []importEntry
			if err := readJSONFile(file, &entries); err != nil {
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
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			dedup := core.NewDeduplicator(backend, store, dedupConfig(cfg), logger)
			n, err := importEntries(ctx, store, dedup, entries, entryType, time.Now())
			if !quiet {
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %d of %d entries\n", n, len(entries))
			}
			return err
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "JSON file of entries (- for stdin)")
	cmd.Flags().StringVar(&entryType, "type", models.EntryTypeArticle, "Entry type for entries that do not set one")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func newCorpusListCmd() *cobra.Command {
	var (
		entryType string
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List corpus entries",
		Long: `List corpus entries oldest first.

Examples:
  kbdistill corpus list
  kbdistill corpus list --type generated_article --limit 20
  kbdistill corpus list --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validatePositiveInt(limit, "--limit"); err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.List(cmd.Context(), entryType, limit)
			if err != nil {
				return fmt.Errorf("listing entries: %w", err)
			}
			if len(entries) == 0 {
				if !quiet {
					fmt.Fprintf(cmd.OutOrStdout(), "No entries found\n")
				}
				return nil
			}

			if outputFormat == "json" {
				for i := range entries {
					entries[i].SemanticEmbedding = nil
					entries[i].RetrievalEmbedding = nil
				}
				return printJSON(cmd, entries)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "ID\tTYPE\tTITLE\tSOURCES\tCREATED\n")
			fmt.Fprintf(w, "--\t----\t-----\t-------\t-------\n")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
					truncate(e.ID, 36),
					e.Type,
					truncate(e.Title, 50),
					len(e.SourceIDs),
					e.CreatedAt.Format("2006-01-02"))
			}
			w.Flush()

			if !quiet {
				fmt.Fprintf(cmd.OutOrStdout(), "\nTotal: %d entr(ies)\n", len(entries))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&entryType, "type", "", "Only entries of this type")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum entries to show")

	return cmd
}

func newCorpusStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show entry counts by type",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			counts, err := store.CountByType(cmd.Context())
			if err != nil {
				return fmt.Errorf("counting entries: %w", err)
			}
			if outputFormat == "json" {
				return printJSON(cmd, counts)
			}

			types := make([]string, 0, len(counts))
			total := 0
			for t, n := range counts {
				types = append(types, t)
				total += n
			}
			sort.Strings(types)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "TYPE\tENTRIES\n")
			for _, t := range types {
				fmt.Fprintf(w, "%s\t%d\n", t, counts[t])
			}
			fmt.Fprintf(w, "total\t%d\n", total)
			w.Flush()
			return nil
		},
	}
}

// syncer is implemented by backends with a remote copy
type syncer interface {
	Sync() error
}

func newCorpusSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Force immediate sync with Charm cloud",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			s, ok := store.(syncer)
			if !ok {
				return fmt.Errorf("the %s corpus backend does not sync; set KB_CORPUS_BACKEND=charm", cfg.CorpusBackend)
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Syncing...")
			if err := s.Sync(); err != nil {
				return fmt.Errorf("sync failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Sync complete")
			return nil
		},
	}
}
