package scoring

import (
	"fmt"

	"github.com/sw33tLie/airscope/pkg/report"
)

// DepthWeight is the aggregation weight of a page with the given number of
// path segments.
func DepthWeight(depth int) float64 {
	switch {
	case depth <= 1:
		return 3
	case depth == 2:
		return 2
	default:
		return 1
	}
}

// Aggregate folds page reports into a site report. Site-scope pillars are
// taken from the first (seed) page. Page-scope pillars are depth-weighted
// averages over the pages that were fetched, or over all pages when none
// were. A single participating page is copied through unchanged.
func Aggregate(seed string, pages []report.PageReport, v Version) report.SiteReport {
	sr := report.SiteReport{
		SeedURL:        seed,
		ScoringVersion: v.Name,
		Pages:          pages,
		SitePillars:    make(map[string]report.PillarResult),
		PagePillars:    make(map[string]report.PillarResult),
		PillarOrder:    v.Names(),
	}

	participating := make([]report.PageReport, 0, len(pages))
	for _, p := range pages {
		if p.Fetched {
			participating = append(participating, p)
		}
	}
	if len(participating) == 0 {
		participating = pages
	}

	total := 0.0
	for _, p := range v.Pillars {
		var res report.PillarResult
		switch {
		case len(pages) == 0:
			res = report.PillarResult{MaxPoints: p.MaxPoints, Detail: "No pages audited"}
		case p.Scope == SiteScope:
			res = pillarOf(pages[0], p)
		case len(participating) == 1:
			res = pillarOf(participating[0], p)
		default:
			res = weightedPillar(participating, p)
		}

		if p.Scope == SiteScope {
			sr.SitePillars[p.Name] = res
		} else {
			sr.PagePillars[p.Name] = res
		}
		total += res.Score
	}
	sr.OverallScore = total
	return sr
}

func pillarOf(page report.PageReport, p Pillar) report.PillarResult {
	res, ok := page.Pillars[p.Name]
	if !ok {
		return report.PillarResult{MaxPoints: p.MaxPoints, Detail: "Pillar missing from page report"}
	}
	return res
}

func weightedPillar(pages []report.PageReport, p Pillar) report.PillarResult {
	var sum, weights float64
	perPage := make([]map[string]interface{}, 0, len(pages))
	for _, page := range pages {
		w := DepthWeight(page.Depth)
		score := page.Pillars[p.Name].Score
		sum += score * w
		weights += w
		perPage = append(perPage, map[string]interface{}{
			"url":    page.URL,
			"depth":  page.Depth,
			"weight": w,
			"score":  score,
		})
	}
	res := report.PillarResult{
		Score:     sum / weights,
		MaxPoints: p.MaxPoints,
		Detail:    fmt.Sprintf("Depth-weighted average across %d pages", len(pages)),
		Evidence:  map[string]interface{}{"pages": perPage},
	}
	return res.Clamp()
}
