package scoring

import (
	"context"
	"fmt"

	"github.com/sw33tLie/airscope/pkg/checks"
	"github.com/sw33tLie/airscope/pkg/discovery"
	"github.com/sw33tLie/airscope/pkg/report"
)

// ScorePage runs every pillar of v against in. Check failures and panics
// become a zero score plus an entry in Errors; the overall score is the
// exact sum of the pillar scores.
func ScorePage(ctx context.Context, in *checks.Input, v Version) report.PageReport {
	pr := report.PageReport{
		URL:            in.URL,
		Depth:          discovery.Depth(in.URL),
		ScoringVersion: v.Name,
		Pillars:        make(map[string]report.PillarResult, len(v.Pillars)),
		PillarOrder:    v.Names(),
		Fetched:        in.Page != nil,
	}
	if in.Page != nil {
		pr.Title = in.Page.Title
	}

	total := 0.0
	for _, p := range v.Pillars {
		res, err := runCheck(ctx, p, in)
		if err != nil {
			pr.Errors = append(pr.Errors, err.Error())
			res = report.PillarResult{Detail: err.Error()}
		}
		res.MaxPoints = p.MaxPoints
		res = res.Clamp()
		pr.Pillars[p.Name] = res
		total += res.Score
	}
	pr.OverallScore = total
	return pr
}

func runCheck(ctx context.Context, p Pillar, in *checks.Input) (res report.PillarResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s check failed: %v", p.Name, r)
		}
	}()
	return p.Check.Run(ctx, in, p.MaxPoints)
}
