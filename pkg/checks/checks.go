package checks

import (
	"context"
	"net/url"
	"strings"

	"github.com/sw33tLie/airscope/pkg/convert"
	"github.com/sw33tLie/airscope/pkg/report"
	"github.com/sw33tLie/airscope/pkg/robots"
	"github.com/sw33tLie/airscope/pkg/whttp"
)

// Input is everything a check may look at for one page.
type Input struct {
	URL     string
	Page    *whttp.Response // nil when the page could not be fetched
	Content convert.Result
	Fetcher whttp.Fetcher // shared by all checks of one audit
	Robots  *robots.Cache // shared by all checks of one audit
	Bots    []string      // overrides DefaultBots when set
}

// Origin returns scheme://host of the page URL.
func (in *Input) Origin() string {
	u, err := url.Parse(in.URL)
	if err != nil {
		return strings.TrimRight(in.URL, "/")
	}
	return u.Scheme + "://" + u.Host
}

// HTML returns the page body, or "" if the page was not fetched.
func (in *Input) HTML() string {
	if in.Page == nil {
		return ""
	}
	return in.Page.Body
}

// Check computes one pillar. Returned errors become a zero score plus a
// page error; they never abort the audit.
type Check interface {
	Run(ctx context.Context, in *Input, maxPoints float64) (report.PillarResult, error)
}

// CheckFunc adapts a function to Check.
type CheckFunc func(ctx context.Context, in *Input, maxPoints float64) (report.PillarResult, error)

func (f CheckFunc) Run(ctx context.Context, in *Input, maxPoints float64) (report.PillarResult, error) {
	return f(ctx, in, maxPoints)
}

func capAt(score, limit float64) float64 {
	if score > limit {
		return limit
	}
	return score
}

// probe fetches origin+path through the shared fetcher.
func probe(ctx context.Context, in *Input, method, path string, headers ...whttp.Header) (*whttp.Response, error) {
	return in.Fetcher.Fetch(ctx, &whttp.Request{URL: in.Origin() + path, Method: method, Headers: headers})
}
