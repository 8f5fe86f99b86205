package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sw33tLie/airscope/internal/utils"
	"github.com/sw33tLie/airscope/pkg/gate"
	"github.com/sw33tLie/airscope/pkg/report"
	"github.com/sw33tLie/airscope/pkg/storage"
)

// baselineCmd groups the baseline subcommands
var baselineCmd = &cobra.Command{
	Use:   "baseline",
	Short: "Save and inspect CI baselines",
}

// baselineSaveCmd implements: airscope baseline save <url>
var baselineSaveCmd = &cobra.Command{
	Use:     "save <url>",
	Short:   "Audit a URL and store its scores as the new baseline",
	Args:    cobra.ExactArgs(1),
	PreRunE: bindFlags,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		useDB, _ := cmd.Flags().GetBool("db")
		dbPath, _ := cmd.Flags().GetString("dbpath")
		single, _ := cmd.Flags().GetBool("single")

		engine, cleanup, err := newEngine()
		if err != nil {
			return err
		}
		defer cleanup()

		ctx := context.Background()
		var card report.Scorecard
		if single {
			page, err := engine.AuditSingle(ctx, args[0])
			if err != nil {
				return err
			}
			card = page.Scorecard()
		} else {
			site, err := engine.AuditSite(ctx, args[0], 0)
			if err != nil {
				return err
			}
			card = site.Scorecard()
		}

		b := gate.SaveBaseline(card)
		if useDB {
			db, err := openDB(dbPath)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := db.SaveBaseline(ctx, b); err != nil {
				return err
			}
			utils.Log.Infof("Baseline for %s saved to database", b.URL)
		} else {
			if err := storage.NewFileStore(file).Save(b); err != nil {
				return err
			}
			utils.Log.Infof("Baseline for %s saved to %s", b.URL, file)
		}
		printBaseline(b)
		return nil
	},
}

// baselineShowCmd implements: airscope baseline show [url]
var baselineShowCmd = &cobra.Command{
	Use:   "show [url]",
	Short: "Print a saved baseline (from --file, or from the database by URL)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		useDB, _ := cmd.Flags().GetBool("db")
		dbPath, _ := cmd.Flags().GetString("dbpath")

		if !useDB {
			b, err := storage.NewFileStore(file).Load()
			if err != nil {
				return err
			}
			printBaseline(*b)
			return nil
		}

		db, err := openDB(dbPath)
		if err != nil {
			return err
		}
		defer db.Close()

		ctx := context.Background()
		if len(args) == 1 {
			b, err := db.GetBaseline(ctx, args[0])
			if err != nil {
				return err
			}
			printBaseline(*b)
			return nil
		}
		all, err := db.ListBaselines(ctx)
		if err != nil {
			return err
		}
		if len(all) == 0 {
			fmt.Println("No baselines in the database.")
			return nil
		}
		for i, b := range all {
			if i > 0 {
				fmt.Println()
			}
			printBaseline(b)
		}
		return nil
	},
}

func printBaseline(b gate.Baseline) {
	fmt.Printf("Baseline: %s (scoring %s, captured %s)\n", b.URL, valueOr(b.ScoringVersion, "unknown"), b.CapturedAt.Format(time.RFC3339))

	names := make([]string, 0, len(b.Scores))
	for name := range b.Scores {
		if name != report.Overall {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	for _, name := range names {
		fmt.Fprintf(w, "  %s\t%.1f\n", name, b.Scores[name])
	}
	if overall, ok := b.Scores[report.Overall]; ok {
		fmt.Fprintf(w, "  %s\t%.1f\n", report.Overall, overall)
	}
	w.Flush()
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func init() {
	rootCmd.AddCommand(baselineCmd)
	baselineCmd.AddCommand(baselineSaveCmd, baselineShowCmd)

	baselineCmd.PersistentFlags().String("file", ".airscope-baseline.json", "Baseline JSON file")
	baselineCmd.PersistentFlags().Bool("db", false, "Use the database instead of a file")
	baselineCmd.PersistentFlags().String("dbpath", "", "Path to SQLite DB file (default: ~/.config/airscope/airscope.sqlite)")

	addAuditFlags(baselineSaveCmd)
	baselineSaveCmd.Flags().Bool("single", false, "Only audit the given URL, skip page discovery")
}
