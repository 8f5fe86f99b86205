package scoring

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/sw33tLie/airscope/pkg/checks"
	"github.com/sw33tLie/airscope/pkg/report"
)

// Scope says whether a pillar depends on the individual page or only on
// the site it belongs to.
type Scope int

const (
	PageScope Scope = iota
	SiteScope
)

func (s Scope) String() string {
	if s == SiteScope {
		return "site"
	}
	return "page"
}

// TotalPoints is what the pillars of every version must add up to.
const TotalPoints = 100.0

type Pillar struct {
	Name      string
	MaxPoints float64
	Scope     Scope
	Check     checks.Check
}

// Version is a data-driven scoring table: the scorer and aggregator only
// ever iterate over Pillars.
type Version struct {
	Name    string
	Pillars []Pillar
}

var (
	V2 = Version{
		Name: "v2",
		Pillars: []Pillar{
			{Name: report.PillarContent, MaxPoints: 40, Scope: PageScope, Check: checks.Content},
			{Name: report.PillarSchema, MaxPoints: 25, Scope: PageScope, Check: checks.Schema},
			{Name: report.PillarRobots, MaxPoints: 25, Scope: SiteScope, Check: checks.Robots},
			{Name: report.PillarLlmsTxt, MaxPoints: 10, Scope: SiteScope, Check: checks.LlmsTxt},
		},
	}

	V3 = Version{
		Name: "v3",
		Pillars: []Pillar{
			{Name: report.PillarContent, MaxPoints: 35, Scope: PageScope, Check: checks.Content},
			{Name: report.PillarSchema, MaxPoints: 20, Scope: PageScope, Check: checks.Schema},
			{Name: report.PillarRobots, MaxPoints: 20, Scope: SiteScope, Check: checks.Robots},
			{Name: report.PillarAgentReadiness, MaxPoints: 20, Scope: PageScope, Check: checks.AgentReadiness},
			{Name: report.PillarLlmsTxt, MaxPoints: 5, Scope: SiteScope, Check: checks.LlmsTxt},
		},
	}

	DefaultVersion = V2
)

var ErrUnknownVersion = errors.New("unknown scoring version")

// Validate checks that pillar names are unique and that max points are
// positive and sum to exactly 100.
func (v Version) Validate() error {
	if v.Name == "" {
		return errors.New("scoring version has no name")
	}
	if len(v.Pillars) == 0 {
		return fmt.Errorf("scoring version %s has no pillars", v.Name)
	}
	seen := make(map[string]bool, len(v.Pillars))
	total := 0.0
	for _, p := range v.Pillars {
		switch {
		case p.Name == "" || p.Name == report.Overall:
			return fmt.Errorf("scoring version %s: invalid pillar name %q", v.Name, p.Name)
		case seen[p.Name]:
			return fmt.Errorf("scoring version %s: duplicate pillar %q", v.Name, p.Name)
		case p.Check == nil:
			return fmt.Errorf("scoring version %s: pillar %q has no check", v.Name, p.Name)
		case math.IsNaN(p.MaxPoints) || math.IsInf(p.MaxPoints, 0) || p.MaxPoints <= 0:
			return fmt.Errorf("scoring version %s: pillar %q has invalid max points %v", v.Name, p.Name, p.MaxPoints)
		}
		seen[p.Name] = true
		total += p.MaxPoints
	}
	if math.Abs(total-TotalPoints) > 1e-9 {
		return fmt.Errorf("scoring version %s: max points sum to %v, want %v", v.Name, total, TotalPoints)
	}
	return nil
}

// Names returns the pillar names in table order.
func (v Version) Names() []string {
	names := make([]string, len(v.Pillars))
	for i, p := range v.Pillars {
		names[i] = p.Name
	}
	return names
}

func (v Version) Pillar(name string) (Pillar, bool) {
	for _, p := range v.Pillars {
		if p.Name == name {
			return p, true
		}
	}
	return Pillar{}, false
}

// WithPillar returns a copy of v under a new name with p appended and the
// existing pillars rescaled so the total stays at 100.
func (v Version) WithPillar(name string, p Pillar) Version {
	out := Version{Name: name, Pillars: make([]Pillar, 0, len(v.Pillars)+1)}
	for _, existing := range v.Pillars {
		existing.MaxPoints = existing.MaxPoints * (TotalPoints - p.MaxPoints) / TotalPoints
		out.Pillars = append(out.Pillars, existing)
	}
	out.Pillars = append(out.Pillars, p)
	return out
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Version{}
)

func init() {
	for _, v := range []Version{V2, V3} {
		if err := Register(v); err != nil {
			panic(err)
		}
	}
}

// Register adds or replaces a scoring version after validating it.
func Register(v Version) error {
	if err := v.Validate(); err != nil {
		return err
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[strings.ToLower(v.Name)] = v
	return nil
}

// Lookup returns a registered version by name (case-insensitive). An empty
// name yields DefaultVersion.
func Lookup(name string) (Version, error) {
	if name == "" {
		return DefaultVersion, nil
	}
	registryMu.RLock()
	defer registryMu.RUnlock()
	v, ok := registry[strings.ToLower(name)]
	if !ok {
		return Version{}, fmt.Errorf("%w: %q (available: %s)", ErrUnknownVersion, name, strings.Join(versionNamesLocked(), ", "))
	}
	return v, nil
}

// Versions lists the registered version names.
func Versions() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return versionNamesLocked()
}

func versionNamesLocked() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
