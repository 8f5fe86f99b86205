package gate

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	"github.com/sw33tLie/airscope/pkg/report"
)

// Baseline is a saved snapshot of scores that later runs are compared
// against. Saving again replaces it wholesale.
type Baseline struct {
	CapturedAt     time.Time          `json:"captured_at"`
	RunID          string             `json:"run_id,omitempty"`
	ScoringVersion string             `json:"scoring_version,omitempty"`
	URL            string             `json:"url,omitempty"`
	Scores         map[string]float64 `json:"scores"`
}

var now = time.Now

// SaveBaseline snapshots card. It does no I/O; persisting the result is up
// to the caller.
func SaveBaseline(card report.Scorecard) Baseline {
	b := Baseline{
		CapturedAt:     now().UTC(),
		RunID:          card.RunID,
		ScoringVersion: card.ScoringVersion,
		URL:            card.URL,
		Scores:         make(map[string]float64, len(card.Scores)+1),
	}
	for name, score := range card.Scores {
		b.Scores[name] = score
	}
	b.Scores[report.Overall] = card.Overall
	return b
}

func (b Baseline) Marshal() ([]byte, error) {
	return json.MarshalIndent(b, "", "  ")
}

// legacyPillars are the top-level score keys of the flat baseline format
// written by earlier releases.
var legacyPillars = []string{report.Overall, report.PillarRobots, report.PillarSchema, report.PillarContent, report.PillarLlmsTxt}

// ParseBaseline decodes a baseline file. Both the current
// {"captured_at", "scores": {...}} shape and the older flat shape
// ({"overall": n, "robots": n, ..., "timestamp": "..."}) are accepted.
// Anything else is an ErrConfiguration.
func ParseBaseline(data []byte) (*Baseline, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: baseline is not valid JSON", ErrConfiguration)
	}
	doc := gjson.ParseBytes(data)
	if !doc.IsObject() {
		return nil, fmt.Errorf("%w: baseline must be a JSON object", ErrConfiguration)
	}

	b := &Baseline{
		RunID:          doc.Get("run_id").String(),
		ScoringVersion: doc.Get("scoring_version").String(),
		URL:            doc.Get("url").String(),
		Scores:         make(map[string]float64),
	}

	captured := doc.Get("captured_at")
	if !captured.Exists() {
		captured = doc.Get("timestamp")
	}
	if captured.Type != gjson.String {
		return nil, fmt.Errorf("%w: baseline has no captured_at timestamp", ErrConfiguration)
	}
	t, err := time.Parse(time.RFC3339Nano, captured.String())
	if err != nil {
		return nil, fmt.Errorf("%w: bad captured_at %q: %v", ErrConfiguration, captured.String(), err)
	}
	b.CapturedAt = t

	var scoreErr error
	addScore := func(name string, v gjson.Result) bool {
		if v.Type != gjson.Number || !validPoints(v.Float()) {
			scoreErr = fmt.Errorf("%w: baseline score for %q must be a non-negative number, got %s", ErrConfiguration, name, v.Raw)
			return false
		}
		b.Scores[name] = v.Float()
		return true
	}

	if scores := doc.Get("scores"); scores.Exists() {
		if !scores.IsObject() {
			return nil, fmt.Errorf("%w: baseline scores must be an object", ErrConfiguration)
		}
		scores.ForEach(func(k, v gjson.Result) bool {
			return addScore(k.String(), v)
		})
	} else {
		for _, name := range legacyPillars {
			if v := doc.Get(name); v.Exists() && !addScore(name, v) {
				break
			}
		}
	}
	if scoreErr != nil {
		return nil, scoreErr
	}
	if len(b.Scores) == 0 {
		return nil, fmt.Errorf("%w: baseline has no scores", ErrConfiguration)
	}
	return b, nil
}

// compatible rejects comparing scores produced by different scoring
// versions. A baseline that does not record its version is taken as-is.
func (b *Baseline) compatible(card report.Scorecard) error {
	if b.ScoringVersion != "" && card.ScoringVersion != "" && b.ScoringVersion != card.ScoringVersion {
		return fmt.Errorf("%w: baseline was captured with scoring %s, current report uses %s", ErrConfiguration, b.ScoringVersion, card.ScoringVersion)
	}
	for name, v := range b.Scores {
		if !validPoints(v) {
			return fmt.Errorf("%w: baseline score for %q must be a non-negative number, got %v", ErrConfiguration, name, v)
		}
	}
	return nil
}
