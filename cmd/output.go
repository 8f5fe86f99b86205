package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/sw33tLie/airscope/pkg/gate"
	"github.com/sw33tLie/airscope/pkg/report"
)

// auditOutput is the JSON document written by --format json.
type auditOutput struct {
	Page *report.PageReport `json:"page,omitempty"`
	Site *report.SiteReport `json:"site,omitempty"`
	Gate gate.GateResult    `json:"gate"`
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printPillars(w io.Writer, order []string, lookup func(string) (report.PillarResult, bool), overall float64) {
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "PILLAR\tSCORE\tMAX\tDETAIL")
	for _, name := range order {
		p, ok := lookup(name)
		if !ok {
			continue
		}
		fmt.Fprintf(tw, "%s\t%.1f\t%g\t%s\n", name, p.Score, p.MaxPoints, p.Detail)
	}
	fmt.Fprintf(tw, "%s\t%.1f\t%d\t\n", strings.ToUpper(report.Overall), overall, 100)
	tw.Flush()
}

func printPage(w io.Writer, p report.PageReport) {
	fmt.Fprintf(w, "Page: %s (scoring %s)\n", p.URL, p.ScoringVersion)
	if p.Title != "" {
		fmt.Fprintf(w, "Title: %s\n", p.Title)
	}
	fmt.Fprintln(w)
	printPillars(w, p.PillarOrder, func(name string) (report.PillarResult, bool) {
		r, ok := p.Pillars[name]
		return r, ok
	}, p.OverallScore)
	printErrors(w, p.Errors)
}

func printSite(w io.Writer, s report.SiteReport) {
	fmt.Fprintf(w, "Site: %s (scoring %s, %d pages via %s, %d candidates found)\n\n",
		s.SeedURL, s.ScoringVersion, len(s.Pages), s.Discovery.Method, s.Discovery.Found)
	printPillars(w, s.PillarOrder, s.Pillar, s.OverallScore)

	fmt.Fprintln(w, "\nPages:")
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, p := range s.Pages {
		status := ""
		if !p.Fetched {
			status = "not fetched"
		}
		fmt.Fprintf(tw, "  %.1f\tdepth %d\t%s\t%s\n", p.OverallScore, p.Depth, p.URL, status)
	}
	tw.Flush()

	for _, p := range s.Pages {
		if len(p.Errors) > 0 {
			fmt.Fprintf(w, "\n%s:\n", p.URL)
			printErrors(w, p.Errors)
		}
	}
}

func printErrors(w io.Writer, errs []string) {
	for _, e := range errs {
		fmt.Fprintf(w, "  ! %s\n", e)
	}
}

func printGate(w io.Writer, res gate.GateResult) {
	fmt.Fprintln(w)
	if res.Passed {
		fmt.Fprintln(w, "Gate: PASS")
		return
	}
	fmt.Fprintf(w, "Gate: FAIL (%d violations)\n", len(res.Violations))
	for _, v := range res.Violations {
		fmt.Fprintf(w, "  - [%s] %s\n", v.Kind, v.Message)
	}
}
