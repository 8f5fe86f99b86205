package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/sw33tLie/airscope/pkg/audit"
	"github.com/sw33tLie/airscope/pkg/gate"
	"github.com/sw33tLie/airscope/pkg/scoring"
)

func main() {
	// Usage: go run *.go -url "https://example.com" -min 60

	urlFlag := flag.String("url", "", "Site to audit")
	minFlag := flag.Float64("min", 0, "Minimum overall score")

	// Parse the command-line flags
	flag.Parse()

	if *urlFlag == "" {
		fmt.Println("URL is required. Please provide it using the -url flag.")
		return
	}

	// Both scoring versions are supported, V3 adds agent readiness
	engine, err := audit.New(audit.Options{Scoring: scoring.V3, MaxPages: 5})
	if err != nil {
		fmt.Println(err)
		return
	}

	site, err := engine.AuditSite(context.Background(), *urlFlag, 0)
	if err != nil {
		fmt.Println(err)
		return
	}

	for _, name := range site.PillarOrder {
		p, _ := site.Pillar(name)
		fmt.Printf("%-16s %5.1f / %g  %s\n", name, p.Score, p.MaxPoints, p.Detail)
	}
	fmt.Printf("%-16s %5.1f / 100\n", "overall", site.OverallScore)

	t := gate.DefaultThresholds()
	t.OverallMinimum = minFlag
	res, err := gate.Evaluate(site.Scorecard(), t, nil)
	if err != nil {
		fmt.Println(err)
		return
	}
	for _, v := range res.Violations {
		fmt.Println("FAIL:", v.Message)
	}
}
