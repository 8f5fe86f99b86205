package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sw33tLie/airscope/internal/utils"
	"github.com/sw33tLie/airscope/pkg/discovery"
	"github.com/sw33tLie/airscope/pkg/gate"
	"github.com/sw33tLie/airscope/pkg/report"
	"github.com/sw33tLie/airscope/pkg/storage"
)

var errGateFailed = errors.New("CI gate failed")

// auditCmd implements: airscope audit <url>
var auditCmd = &cobra.Command{
	Use:   "audit <url>",
	Short: "Audit a page or a whole site and optionally gate on the result",
	Example: `  airscope audit https://example.com
  airscope audit https://example.com/docs --single --format json
  airscope audit https://example.com --threshold overall=60 --baseline .airscope-baseline.json`,
	Args:    cobra.ExactArgs(1),
	PreRunE: bindFlags,
	RunE: func(cmd *cobra.Command, args []string) error {
		single, _ := cmd.Flags().GetBool("single")
		format, _ := cmd.Flags().GetString("format")
		baselinePath, _ := cmd.Flags().GetString("baseline")
		saveBaseline, _ := cmd.Flags().GetBool("save-baseline")
		useDB, _ := cmd.Flags().GetBool("db")
		dbPath, _ := cmd.Flags().GetString("dbpath")

		if format != "text" && format != "json" {
			return configError("--format %q: want text or json", format)
		}
		if useDB && baselinePath != "" {
			return configError("--baseline and --db are mutually exclusive")
		}
		if saveBaseline && baselinePath == "" && !useDB {
			return configError("--save-baseline needs --baseline <file> or --db")
		}

		// Everything that can be misconfigured is checked before any request.
		thresholds, err := gateThresholds(cmd)
		if err != nil {
			return err
		}
		var base *gate.Baseline
		var store *storage.FileStore
		if baselinePath != "" {
			store = storage.NewFileStore(baselinePath)
			base, err = store.Load()
			if errors.Is(err, storage.ErrNotFound) && saveBaseline {
				utils.Log.Infof("No baseline at %s yet, it will be created", baselinePath)
				base, err = nil, nil
			}
			if err != nil {
				return err
			}
		}

		var db *storage.DB
		if useDB {
			if db, err = openDB(dbPath); err != nil {
				return err
			}
			defer db.Close()
			key := discovery.NormalizeURL(strings.TrimSpace(args[0]))
			base, err = db.GetBaseline(context.Background(), key)
			if errors.Is(err, storage.ErrNotFound) {
				utils.Log.Infof("No baseline stored for %s, skipping regression check", key)
				base, err = nil, nil
			}
			if err != nil {
				return err
			}
		}

		engine, cleanup, err := newEngine()
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		var (
			card report.Scorecard
			out  auditOutput
		)
		if single {
			page, err := engine.AuditSingle(ctx, args[0])
			if err != nil {
				return err
			}
			card = page.Scorecard()
			out.Page = &page
		} else {
			site, err := engine.AuditSite(ctx, args[0], 0)
			if err != nil {
				return err
			}
			card = site.Scorecard()
			out.Site = &site
		}

		utils.Log.Debugf("Audit run %s finished for %s", card.RunID, card.URL)

		res, err := gate.Evaluate(card, thresholds, base)
		if err != nil {
			return err
		}
		out.Gate = res

		if format == "json" {
			if err := printJSON(os.Stdout, out); err != nil {
				return err
			}
		} else {
			if out.Page != nil {
				printPage(os.Stdout, *out.Page)
			} else {
				printSite(os.Stdout, *out.Site)
			}
			printGate(os.Stdout, res)
		}

		if saveBaseline {
			b := gate.SaveBaseline(card)
			if db != nil {
				if err := db.SaveBaseline(ctx, b); err != nil {
					return fmt.Errorf("could not save baseline: %w", err)
				}
				utils.Log.Infof("Baseline for %s saved to database", b.URL)
			} else {
				if err := store.Save(b); err != nil {
					return fmt.Errorf("could not save baseline: %w", err)
				}
				utils.Log.Infof("Baseline saved to %s", baselinePath)
			}
		}

		if !res.Passed {
			return fmt.Errorf("%w: %d violations", errGateFailed, len(res.Violations))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(auditCmd)

	addAuditFlags(auditCmd)
	addGateFlags(auditCmd)
	auditCmd.Flags().Bool("single", false, "Only audit the given URL, skip page discovery")
	auditCmd.Flags().StringP("format", "f", "text", "Output format: text or json")
	auditCmd.Flags().String("baseline", "", "Baseline JSON file to check for regressions")
	auditCmd.Flags().Bool("save-baseline", false, "Write this run's scores to --baseline (or the database with --db) afterwards")
	auditCmd.Flags().Bool("db", false, "Read and save the baseline in the SQLite database instead of a file")
	auditCmd.Flags().String("dbpath", "", "Path to SQLite DB file (default: ~/.config/airscope/airscope.sqlite)")
}
