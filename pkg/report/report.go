package report

import (
	"math"
	"sort"
)

// Pillar names shared by the built-in scoring versions.
const (
	PillarContent        = "content"
	PillarSchema         = "schema_org"
	PillarRobots         = "robots"
	PillarLlmsTxt        = "llms_txt"
	PillarAgentReadiness = "agent_readiness"

	// Overall is the pseudo-pillar used for total scores in thresholds
	// and baselines.
	Overall = "overall"
)

type PillarResult struct {
	Score     float64                `json:"score"`
	MaxPoints float64                `json:"max_points"`
	Detail    string                 `json:"detail"`
	Evidence  map[string]interface{} `json:"evidence,omitempty"`
}

// Clamp returns p with Score bounded to [0, MaxPoints]. NaN becomes 0.
func (p PillarResult) Clamp() PillarResult {
	switch {
	case math.IsNaN(p.Score) || p.Score < 0:
		p.Score = 0
	case p.Score > p.MaxPoints:
		p.Score = p.MaxPoints
	}
	return p
}

type PageReport struct {
	RunID          string                  `json:"run_id,omitempty"`
	URL            string                  `json:"url"`
	Depth          int                     `json:"depth"`
	Title          string                  `json:"title,omitempty"`
	ScoringVersion string                  `json:"scoring_version"`
	Pillars        map[string]PillarResult `json:"pillars"`
	PillarOrder    []string                `json:"pillar_order"`
	OverallScore   float64                 `json:"overall_score"`
	Fetched        bool                    `json:"fetched"`
	Errors         []string                `json:"errors"`
}

// Discovery describes how the pages of a site audit were chosen.
type Discovery struct {
	Method  string   `json:"method"`
	Found   int      `json:"urls_found"`
	Sampled []string `json:"urls_sampled"`
}

type SiteReport struct {
	RunID          string                  `json:"run_id,omitempty"`
	SeedURL        string                  `json:"seed_url"`
	ScoringVersion string                  `json:"scoring_version"`
	Discovery      Discovery               `json:"discovery"`
	Pages          []PageReport            `json:"pages"`
	SitePillars    map[string]PillarResult `json:"site_pillars"`
	PagePillars    map[string]PillarResult `json:"aggregated_page_pillars"`
	PillarOrder    []string                `json:"pillar_order"`
	OverallScore   float64                 `json:"overall_score"`
}

// Pillar looks a pillar up in either map.
func (s SiteReport) Pillar(name string) (PillarResult, bool) {
	if p, ok := s.SitePillars[name]; ok {
		return p, true
	}
	p, ok := s.PagePillars[name]
	return p, ok
}

// Scorecard is the flat view of a page or site report that gating and
// baselines work on.
type Scorecard struct {
	RunID          string
	URL            string
	ScoringVersion string
	Order          []string // pillar names in scoring-version order
	Scores         map[string]float64
	MaxPoints      map[string]float64
	Overall        float64

	// Facts the CI requirements look at, read from pillar evidence.
	RobotsFound       bool
	BotsBlocked       int
	InstructionsFound bool
}

// Score returns the score of a pillar, or the overall score for Overall.
func (c Scorecard) Score(name string) (float64, bool) {
	if name == Overall {
		return c.Overall, true
	}
	s, ok := c.Scores[name]
	return s, ok
}

func (p PageReport) Scorecard() Scorecard {
	c := newScorecard(p.URL, p.ScoringVersion, p.PillarOrder, p.OverallScore, p.Pillars)
	c.RunID = p.RunID
	return c
}

func (s SiteReport) Scorecard() Scorecard {
	all := make(map[string]PillarResult, len(s.SitePillars)+len(s.PagePillars))
	for k, v := range s.SitePillars {
		all[k] = v
	}
	for k, v := range s.PagePillars {
		all[k] = v
	}
	c := newScorecard(s.SeedURL, s.ScoringVersion, s.PillarOrder, s.OverallScore, all)
	c.RunID = s.RunID
	return c
}

func newScorecard(url, version string, order []string, overall float64, pillars map[string]PillarResult) Scorecard {
	c := Scorecard{
		URL:            url,
		ScoringVersion: version,
		Order:          order,
		Scores:         make(map[string]float64, len(pillars)),
		MaxPoints:      make(map[string]float64, len(pillars)),
		Overall:        overall,
	}
	for name, p := range pillars {
		c.Scores[name] = p.Score
		c.MaxPoints[name] = p.MaxPoints
	}
	if len(c.Order) == 0 {
		c.Order = sortedKeys(pillars)
	}
	if r, ok := pillars[PillarRobots]; ok {
		c.RobotsFound = evidenceBool(r.Evidence, "found")
		c.BotsBlocked = evidenceInt(r.Evidence, "total") - evidenceInt(r.Evidence, "allowed")
	}
	if l, ok := pillars[PillarLlmsTxt]; ok {
		c.InstructionsFound = evidenceBool(l.Evidence, "found")
	}
	return c
}

func evidenceBool(ev map[string]interface{}, key string) bool {
	b, _ := ev[key].(bool)
	return b
}

// evidenceInt accepts both in-memory ints and numbers decoded from JSON.
func evidenceInt(ev map[string]interface{}, key string) int {
	switch n := ev[key].(type) {
	case int:
		return n
	case float64:
		return int(n)
	}
	return 0
}

func sortedKeys(m map[string]PillarResult) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
