package audit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sw33tLie/airscope/pkg/report"
	"github.com/sw33tLie/airscope/pkg/retry"
	"github.com/sw33tLie/airscope/pkg/scoring"
	"github.com/sw33tLie/airscope/pkg/whttp"
)

const pageHTML = `<html><head><title>%s</title>
<script type="application/ld+json">{"@context":"https://schema.org","@type":"Organization","name":"Example"}</script>
</head><body><h1>%s</h1><p>%s</p><ul><li>one</li><li>two</li></ul></body></html>`

type site struct {
	srv  *httptest.Server
	hits sync.Map // path -> *int64

	inflight    int64
	maxInflight int64
	delay       time.Duration
}

func (s *site) hit(path string) int64 {
	v, _ := s.hits.LoadOrStore(path, new(int64))
	return atomic.AddInt64(v.(*int64), 1)
}

func (s *site) count(path string) int64 {
	v, ok := s.hits.Load(path)
	if !ok {
		return 0
	}
	return atomic.LoadInt64(v.(*int64))
}

func newSite(t *testing.T, sitemap string) *site {
	t.Helper()
	s := &site{}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hit(r.URL.Path)
		n := atomic.AddInt64(&s.inflight, 1)
		defer atomic.AddInt64(&s.inflight, -1)
		for {
			m := atomic.LoadInt64(&s.maxInflight)
			if n <= m || atomic.CompareAndSwapInt64(&s.maxInflight, m, n) {
				break
			}
		}
		if s.delay > 0 {
			time.Sleep(s.delay)
		}

		switch r.URL.Path {
		case "/robots.txt":
			fmt.Fprint(w, "User-agent: *\nAllow: /\n")
		case "/llms.txt":
			fmt.Fprint(w, "# Example\n\n> An example site.\n\n- [Docs](/docs/a)\n")
		case "/sitemap.xml":
			if sitemap == "" {
				http.NotFound(w, r)
				return
			}
			w.Header().Set("Content-Type", "application/xml")
			fmt.Fprint(w, strings.ReplaceAll(sitemap, "{base}", s.srv.URL))
		case "/missing":
			http.NotFound(w, r)
		case "/", "/docs/a", "/docs/b", "/blog/x":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			words := strings.Repeat("readable words for language models ", 60)
			fmt.Fprintf(w, pageHTML, r.URL.Path, r.URL.Path, words+`<a href="/docs/a">a</a> <a href="/blog/x#top">x</a>`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(s.srv.Close)
	return s
}

const fullSitemap = `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>{base}/docs/a</loc></url>
  <url><loc>{base}/docs/b</loc></url>
  <url><loc>{base}/blog/x</loc></url>
  <url><loc>{base}/missing</loc></url>
</urlset>`

func newEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	if opts.Timeout == 0 {
		opts.Timeout = 2 * time.Second
	}
	opts.Retry = retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
	e, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func checkBounds(t *testing.T, pillars map[string]report.PillarResult) {
	t.Helper()
	for name, p := range pillars {
		if p.Score < 0 || p.Score > p.MaxPoints || math.IsNaN(p.Score) {
			t.Errorf("pillar %s out of bounds: %+v", name, p)
		}
	}
}

func TestAuditSite(t *testing.T) {
	s := newSite(t, fullSitemap)
	var scored int64
	e := newEngine(t, Options{OnPage: func(report.PageReport) { atomic.AddInt64(&scored, 1) }})

	sr, err := e.AuditSite(context.Background(), s.srv.URL, 10)
	if err != nil {
		t.Fatalf("AuditSite: %v", err)
	}

	base := s.srv.URL
	var got []string
	for _, p := range sr.Pages {
		got = append(got, p.URL)
		checkBounds(t, p.Pillars)
	}
	want := []string{base + "/", base + "/docs/a", base + "/blog/x", base + "/missing", base + "/docs/b"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("pages = %v\nwant    %v", got, want)
	}
	if sr.Discovery.Method != "sitemap" || sr.Discovery.Found != 4 || !reflect.DeepEqual(sr.Discovery.Sampled, want) {
		t.Fatalf("discovery = %+v", sr.Discovery)
	}
	if scored != int64(len(want)) {
		t.Fatalf("OnPage called %d times", scored)
	}

	missing := sr.Pages[3]
	if missing.Fetched || len(missing.Errors) == 0 || missing.Errors[0] != "page fetch failed: HTTP 404" {
		t.Fatalf("missing page = %+v", missing)
	}
	if sr.Pages[0].Title != "/" || !sr.Pages[0].Fetched {
		t.Fatalf("seed page = %+v", sr.Pages[0])
	}

	// Site-scope pillars come from the seed and are measured once.
	if robots := sr.SitePillars[report.PillarRobots]; robots.Score != robots.MaxPoints {
		t.Fatalf("robots = %+v", robots)
	}
	if n := s.count("/robots.txt"); n != 1 {
		t.Fatalf("robots.txt fetched %d times", n)
	}
	if n := s.count("/llms.txt"); n != 1 {
		t.Fatalf("llms.txt fetched %d times", n)
	}

	var keys []string
	sum := 0.0
	for k, p := range sr.SitePillars {
		keys = append(keys, k)
		sum += p.Score
	}
	for k, p := range sr.PagePillars {
		keys = append(keys, k)
		sum += p.Score
	}
	sort.Strings(keys)
	wantKeys := scoring.V2.Names()
	sort.Strings(wantKeys)
	if !reflect.DeepEqual(keys, wantKeys) {
		t.Fatalf("pillar keys = %v, want %v", keys, wantKeys)
	}
	if math.Abs(sum-sr.OverallScore) > 1e-9 {
		t.Fatalf("overall %v != pillar sum %v", sr.OverallScore, sum)
	}

	// The 404 page does not drag the content average down.
	if content := sr.PagePillars[report.PillarContent]; math.Abs(content.Score-sr.Pages[0].Pillars[report.PillarContent].Score) > 1e-9 {
		t.Fatalf("content = %+v, seed content = %+v", content, sr.Pages[0].Pillars[report.PillarContent])
	}
}

func TestAuditSiteConcurrencyLimit(t *testing.T) {
	s := newSite(t, fullSitemap)
	s.delay = 20 * time.Millisecond
	e := newEngine(t, Options{Concurrency: 2, Scoring: scoring.V3})

	sr, err := e.AuditSite(context.Background(), s.srv.URL, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(sr.Pages) != 5 {
		t.Fatalf("got %d pages", len(sr.Pages))
	}
	if m := atomic.LoadInt64(&s.maxInflight); m > 2 {
		t.Fatalf("saw %d concurrent requests with concurrency 2", m)
	}
	if _, ok := sr.PagePillars[report.PillarAgentReadiness]; !ok {
		t.Fatal("v3 report lacks agent readiness")
	}
}

func TestAuditSingleMatchesOnePageSite(t *testing.T) {
	s := newSite(t, fullSitemap)
	e := newEngine(t, Options{})

	page, err := e.AuditSingle(context.Background(), s.srv.URL+"/docs/a")
	if err != nil {
		t.Fatal(err)
	}
	checkBounds(t, page.Pillars)
	if page.Depth != 2 || len(page.Errors) != 0 {
		t.Fatalf("page = %+v", page)
	}

	sr, err := e.AuditSite(context.Background(), s.srv.URL+"/docs/a", 1)
	if err != nil {
		t.Fatal(err)
	}
	if page.RunID == "" || sr.RunID == "" || page.RunID == sr.RunID {
		t.Fatalf("each audit call needs its own run id: page %q, site %q", page.RunID, sr.RunID)
	}
	if sr.Scorecard().RunID != sr.RunID {
		t.Fatal("scorecard lost the run id")
	}
	if len(sr.Pages) != 1 || sr.OverallScore != page.OverallScore {
		t.Fatalf("one-page site %v != single %v", sr.OverallScore, page.OverallScore)
	}
	for name, want := range page.Pillars {
		got, _ := sr.Pillar(name)
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("pillar %s: site %+v, page %+v", name, got, want)
		}
	}
}

func TestAuditSiteDiscoveryErrorsLandOnSeed(t *testing.T) {
	s := newSite(t, `<urlset><url><loc>`)
	e := newEngine(t, Options{})

	sr, err := e.AuditSite(context.Background(), s.srv.URL, 5)
	if err != nil {
		t.Fatal(err)
	}
	if sr.Discovery.Method != "spider" {
		t.Fatalf("method = %s", sr.Discovery.Method)
	}
	if len(sr.Pages) != 3 {
		t.Fatalf("pages = %d, want seed plus two spidered links", len(sr.Pages))
	}
	found := false
	for _, msg := range sr.Pages[0].Errors {
		if strings.HasPrefix(msg, "sitemap parse failed") {
			found = true
		}
	}
	if !found {
		t.Fatalf("seed errors = %v", sr.Pages[0].Errors)
	}
	for _, p := range sr.Pages[1:] {
		if len(p.Errors) != 0 {
			t.Fatalf("discovery errors leaked onto %s: %v", p.URL, p.Errors)
		}
	}
}

type dnsFailure struct{}

func (dnsFailure) Fetch(ctx context.Context, req *whttp.Request) (*whttp.Response, error) {
	return nil, &url.Error{Op: "Get", URL: req.URL, Err: &net.DNSError{Err: "no such host", Name: "nope.invalid", IsNotFound: true}}
}

func TestSeedUnreachable(t *testing.T) {
	e := newEngine(t, Options{Fetcher: dnsFailure{}})
	for _, seed := range []string{"https://nope.invalid/", "not a url", "ftp://example.com/"} {
		if _, err := e.AuditSite(context.Background(), seed, 3); !errors.Is(err, ErrSeedUnreachable) {
			t.Errorf("AuditSite(%q) = %v, want ErrSeedUnreachable", seed, err)
		}
		if _, err := e.AuditSingle(context.Background(), seed); !errors.Is(err, ErrSeedUnreachable) {
			t.Errorf("AuditSingle(%q) = %v, want ErrSeedUnreachable", seed, err)
		}
	}
}

func TestNewRejectsBadOptions(t *testing.T) {
	bad := []Options{
		{Concurrency: -1},
		{MaxPages: -3},
		{Timeout: -time.Second},
		{Scoring: scoring.Version{Name: "broken"}},
	}
	for _, opts := range bad {
		if _, err := New(opts); !errors.Is(err, ErrConfiguration) {
			t.Errorf("New(%+v) = %v, want ErrConfiguration", opts, err)
		}
	}
}

type hangingFetcher struct{}

func (hangingFetcher) Fetch(ctx context.Context, req *whttp.Request) (*whttp.Response, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestAuditSiteTimeout(t *testing.T) {
	if e := newEngine(t, Options{}); e.opts.SiteTimeout != DefaultSiteTimeout {
		t.Fatalf("SiteTimeout default = %v, want %v", e.opts.SiteTimeout, DefaultSiteTimeout)
	}

	e := newEngine(t, Options{Fetcher: hangingFetcher{}, SiteTimeout: 100 * time.Millisecond})
	start := time.Now()
	sr, err := e.AuditSite(context.Background(), "https://example.com/", 3)
	if err != nil {
		t.Fatalf("AuditSite: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("site audit ran for %v despite a 100ms budget", elapsed)
	}
	if len(sr.Pages) == 0 || sr.Pages[0].Fetched || len(sr.Pages[0].Errors) == 0 {
		t.Fatalf("seed page should carry the timeout as an error: %+v", sr.Pages)
	}
	checkBounds(t, sr.PagePillars)
	checkBounds(t, sr.SitePillars)
}
