// Package gate turns an audit scorecard into a CI pass/fail verdict using
// per-pillar minimums, extra requirements and regression against a saved
// baseline.
package gate

import (
	"errors"
	"fmt"
	"math"

	"github.com/sw33tLie/airscope/pkg/report"
)

// DefaultRegressionThreshold is the drop in points that counts as a
// regression when nothing else is configured.
const DefaultRegressionThreshold = 5.0

// drops within this distance of the threshold are treated as equal to it
const epsilon = 1e-9

// ErrConfiguration marks invalid thresholds or baselines. It is never
// defaulted away: a misconfigured gate must not pass silently.
var ErrConfiguration = errors.New("invalid gate configuration")

type Thresholds struct {
	PillarMinimums      map[string]float64
	OverallMinimum      *float64
	RegressionThreshold float64

	RequireBotAccess        bool
	RequireInstructionsFile bool
}

func DefaultThresholds() Thresholds {
	return Thresholds{RegressionThreshold: DefaultRegressionThreshold}
}

type Kind string

const (
	KindThreshold   Kind = "threshold"
	KindRequirement Kind = "requirement"
	KindRegression  Kind = "regression"
)

// Violation is one failed gate condition. For thresholds Expected is the
// configured minimum, for regressions it is the baseline score.
type Violation struct {
	Kind     Kind    `json:"kind"`
	Pillar   string  `json:"pillar"`
	Actual   float64 `json:"actual"`
	Expected float64 `json:"expected"`
	Message  string  `json:"message"`
}

func (v Violation) String() string {
	return v.Message
}

type GateResult struct {
	Passed     bool        `json:"passed"`
	Violations []Violation `json:"violations"`
}

// Evaluate applies t and, when base is not nil, the regression check to
// card. Violations come out as thresholds, requirements, regressions, each
// in pillar order with overall last.
func Evaluate(card report.Scorecard, t Thresholds, base *Baseline) (GateResult, error) {
	if err := t.Validate(card.Order); err != nil {
		return GateResult{}, err
	}
	if base != nil {
		if err := base.compatible(card); err != nil {
			return GateResult{}, err
		}
	}

	var violations []Violation

	for _, name := range card.Order {
		minimum, ok := t.PillarMinimums[name]
		if !ok {
			continue
		}
		if score := card.Scores[name]; score < minimum {
			violations = append(violations, Violation{
				Kind:     KindThreshold,
				Pillar:   name,
				Actual:   score,
				Expected: minimum,
				Message:  fmt.Sprintf("%s score %.1f is below minimum %.1f", name, score, minimum),
			})
		}
	}
	if t.OverallMinimum != nil && card.Overall < *t.OverallMinimum {
		violations = append(violations, Violation{
			Kind:     KindThreshold,
			Pillar:   report.Overall,
			Actual:   card.Overall,
			Expected: *t.OverallMinimum,
			Message:  fmt.Sprintf("overall score %.1f is below minimum %.1f", card.Overall, *t.OverallMinimum),
		})
	}

	if t.RequireBotAccess && card.RobotsFound && card.BotsBlocked > 0 {
		violations = append(violations, Violation{
			Kind:    KindRequirement,
			Pillar:  report.PillarRobots,
			Actual:  float64(card.BotsBlocked),
			Message: fmt.Sprintf("robots.txt blocks %d AI bots (bot access required)", card.BotsBlocked),
		})
	}
	if t.RequireInstructionsFile && !card.InstructionsFound {
		violations = append(violations, Violation{
			Kind:     KindRequirement,
			Pillar:   report.PillarLlmsTxt,
			Expected: 1,
			Message:  "no llms.txt found (llms.txt required)",
		})
	}

	if base != nil {
		names := append(append([]string{}, card.Order...), report.Overall)
		for _, name := range names {
			prev, ok := base.Scores[name]
			if !ok {
				continue
			}
			cur, ok := card.Score(name)
			if !ok {
				continue
			}
			if drop := prev - cur; drop > t.RegressionThreshold+epsilon {
				violations = append(violations, Violation{
					Kind:     KindRegression,
					Pillar:   name,
					Actual:   cur,
					Expected: prev,
					Message: fmt.Sprintf("%s dropped from %.1f to %.1f (-%.1f, threshold %.1f)",
						name, prev, cur, drop, t.RegressionThreshold),
				})
			}
		}
	}

	return GateResult{Passed: len(violations) == 0, Violations: violations}, nil
}

// Validate checks t against the pillar names of a scoring version. It needs
// no scorecard, so callers can reject a bad configuration before auditing.
func (t Thresholds) Validate(pillars []string) error {
	known := make(map[string]bool, len(pillars))
	for _, name := range pillars {
		known[name] = true
	}
	for name, minimum := range t.PillarMinimums {
		if name == report.Overall {
			return fmt.Errorf("%w: use the overall minimum instead of a pillar named %q", ErrConfiguration, name)
		}
		if !known[name] {
			return fmt.Errorf("%w: unknown pillar %q in thresholds (known: %v)", ErrConfiguration, name, pillars)
		}
		if !validPoints(minimum) {
			return fmt.Errorf("%w: minimum for %s must be a non-negative number, got %v", ErrConfiguration, name, minimum)
		}
	}
	if t.OverallMinimum != nil && !validPoints(*t.OverallMinimum) {
		return fmt.Errorf("%w: overall minimum must be a non-negative number, got %v", ErrConfiguration, *t.OverallMinimum)
	}
	if !validPoints(t.RegressionThreshold) {
		return fmt.Errorf("%w: regression threshold must be a non-negative number, got %v", ErrConfiguration, t.RegressionThreshold)
	}
	return nil
}

func validPoints(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}
