// Package audit runs the full pipeline for a URL or a whole site: fetch,
// discovery, per-page scoring with bounded concurrency, and aggregation.
package audit

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sw33tLie/airscope/pkg/checks"
	"github.com/sw33tLie/airscope/pkg/convert"
	"github.com/sw33tLie/airscope/pkg/discovery"
	"github.com/sw33tLie/airscope/pkg/report"
	"github.com/sw33tLie/airscope/pkg/retry"
	"github.com/sw33tLie/airscope/pkg/robots"
	"github.com/sw33tLie/airscope/pkg/scoring"
	"github.com/sw33tLie/airscope/pkg/whttp"
)

const (
	DefaultConcurrency = 5
	DefaultSiteTimeout = 90 * time.Second
)

var (
	// ErrSeedUnreachable is returned when the seed URL is invalid or its
	// host does not resolve. No report is produced in that case.
	ErrSeedUnreachable = errors.New("seed unreachable")

	ErrConfiguration = errors.New("invalid audit configuration")
)

// Logger abstracts logging so callers can use logrus, stdlib log, or any
// other logger that satisfies this interface.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// nopLogger silently discards all messages.
type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}
func (nopLogger) Debugf(string, ...interface{}) {}

// Options configures an Engine. The zero value audits with the default
// scoring version over plain HTTP.
type Options struct {
	Fetcher   whttp.Fetcher     // probes and pages; defaults to a whttp.Client
	Renderer  whttp.Fetcher     // optional; fetches page bodies (headless browser)
	Converter convert.Converter // defaults to convert.HTMLConverter

	Scoring scoring.Version // zero value = scoring.DefaultVersion
	Bots    []string        // overrides checks.DefaultBots

	Concurrency int           // defaults to 5 if <= 0
	MaxPages    int           // defaults to 10 if <= 0
	Timeout     time.Duration // per fetch, for the default Fetcher
	SiteTimeout time.Duration // bound on a whole AuditSite call; defaults to 90s
	Retry       retry.Policy  // for the default Fetcher
	UserAgent   string
	Proxy       string
	Log         Logger // optional; nil = no logging

	// OnPage is called from worker goroutines once a page is scored.
	// Enables the CLI to stream progress. Nil = no callback.
	OnPage func(page report.PageReport)
}

type Engine struct {
	opts    Options
	fetcher whttp.Fetcher
	conv    convert.Converter
	version scoring.Version
	log     Logger
}

// New validates opts and fills in defaults.
func New(opts Options) (*Engine, error) {
	if opts.Concurrency < 0 {
		return nil, fmt.Errorf("%w: concurrency must not be negative", ErrConfiguration)
	}
	if opts.MaxPages < 0 {
		return nil, fmt.Errorf("%w: max pages must not be negative", ErrConfiguration)
	}
	if opts.Timeout < 0 || opts.SiteTimeout < 0 {
		return nil, fmt.Errorf("%w: timeouts must not be negative", ErrConfiguration)
	}
	if opts.Concurrency == 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.MaxPages == 0 {
		opts.MaxPages = discovery.DefaultMaxPages
	}
	if opts.SiteTimeout == 0 {
		opts.SiteTimeout = DefaultSiteTimeout
	}

	e := &Engine{opts: opts, fetcher: opts.Fetcher, conv: opts.Converter, version: opts.Scoring, log: opts.Log}
	if e.log == nil {
		e.log = nopLogger{}
	}
	if e.version.Name == "" {
		e.version = scoring.DefaultVersion
	}
	if err := e.version.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	if e.conv == nil {
		e.conv = convert.HTMLConverter{}
	}
	if e.fetcher == nil {
		clientOpts := whttp.Options{Timeout: opts.Timeout, UserAgent: opts.UserAgent, Proxy: opts.Proxy, Retry: opts.Retry}
		if opts.Log != nil {
			clientOpts.Log = opts.Log
		}
		c, err := whttp.NewClient(clientOpts)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
		}
		e.fetcher = c
	}
	return e, nil
}

func (e *Engine) Version() scoring.Version {
	return e.version
}

// run is the state shared by the pages of one audit call. Nothing in it
// outlives the call.
type run struct {
	*Engine
	id     string
	probes *whttp.Memo
	robots *robots.Cache
}

func (e *Engine) newRun() *run {
	memo := whttp.NewMemo(e.fetcher)
	return &run{Engine: e, id: uuid.NewString(), probes: memo, robots: robots.NewCache(memo)}
}

// AuditSingle scores one URL. Site-scope pillars are measured against the
// URL's origin.
func (e *Engine) AuditSingle(ctx context.Context, rawURL string) (report.PageReport, error) {
	seed, err := checkSeed(rawURL)
	if err != nil {
		return report.PageReport{}, err
	}
	r := e.newRun()

	page, content, fetchErr := r.fetchPage(ctx, seed)
	if unresolvable(fetchErr) {
		return report.PageReport{}, fmt.Errorf("%w: %s", ErrSeedUnreachable, whttp.Describe(fetchErr))
	}
	pr := r.scorePage(ctx, seed, page, content, fetchErr, nil)
	pr.RunID = r.id
	return pr, nil
}

// AuditSite discovers up to maxPages pages from seed (Options.MaxPages when
// maxPages <= 0), scores them concurrently and aggregates the result.
// Pages in the report keep discovery order with the seed first.
func (e *Engine) AuditSite(ctx context.Context, rawSeed string, maxPages int) (report.SiteReport, error) {
	seed, err := checkSeed(rawSeed)
	if err != nil {
		return report.SiteReport{}, err
	}
	if maxPages <= 0 {
		maxPages = e.opts.MaxPages
	}
	if e.opts.SiteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.SiteTimeout)
		defer cancel()
	}
	r := e.newRun()

	seedPage, seedContent, seedErr := r.fetchPage(ctx, seed)
	if unresolvable(seedErr) {
		return report.SiteReport{}, fmt.Errorf("%w: %s", ErrSeedUnreachable, whttp.Describe(seedErr))
	}
	if seedErr != nil {
		e.log.Warnf("Seed %s could not be fetched: %s", seed, whttp.Describe(seedErr))
	}

	d := discovery.Discoverer{Fetcher: r.probes, Robots: r.robots, Log: e.log}
	seedBody := ""
	if seedPage != nil {
		seedBody = seedPage.Body
	}
	found := d.Discover(ctx, seed, maxPages, seedBody)
	e.log.Infof("Auditing %d pages of %s (discovered via %s, %d candidates)", len(found.URLs), seed, found.Method, found.Found)

	pages := make([]report.PageReport, len(found.URLs))
	var g errgroup.Group
	g.SetLimit(e.opts.Concurrency)
	for i, u := range found.URLs {
		g.Go(func() error {
			if i == 0 {
				pages[0] = r.scorePage(ctx, u, seedPage, seedContent, seedErr, found.Errors)
				return nil
			}
			page, content, fetchErr := r.fetchPage(ctx, u)
			pages[i] = r.scorePage(ctx, u, page, content, fetchErr, nil)
			return nil
		})
	}
	_ = g.Wait()

	sr := scoring.Aggregate(seed, pages, e.version)
	sr.RunID = r.id
	sr.Discovery = report.Discovery{Method: found.Method, Found: found.Found, Sampled: found.URLs}
	e.log.Debugf("Site %s scored %.1f/100 over %d pages", seed, sr.OverallScore, len(pages))
	return sr, nil
}

// fetchPage retrieves and converts one page. HTTP error statuses count as
// fetch failures.
func (r *run) fetchPage(ctx context.Context, pageURL string) (*whttp.Response, convert.Result, error) {
	var f whttp.Fetcher = r.probes
	if r.opts.Renderer != nil {
		f = r.opts.Renderer
	}
	resp, err := f.Fetch(ctx, &whttp.Request{URL: pageURL})
	if err != nil {
		return nil, convert.Result{}, err
	}
	if resp.StatusCode >= 400 {
		return nil, convert.Result{}, &retry.StatusError{URL: pageURL, StatusCode: resp.StatusCode}
	}

	ct := resp.ContentType()
	if strings.Contains(ct, "markdown") {
		return resp, convert.Markdown(resp.Body), nil
	}
	content, err := r.conv.Convert(resp.Body)
	if err != nil {
		return nil, convert.Result{}, fmt.Errorf("content conversion failed: %w", err)
	}
	return resp, content, nil
}

func (r *run) scorePage(ctx context.Context, pageURL string, page *whttp.Response, content convert.Result, fetchErr error, extra []string) report.PageReport {
	in := &checks.Input{
		URL:     pageURL,
		Page:    page,
		Content: content,
		Fetcher: r.probes,
		Robots:  r.robots,
		Bots:    r.opts.Bots,
	}
	pr := scoring.ScorePage(ctx, in, r.version)

	var errs []string
	if fetchErr != nil {
		errs = append(errs, "page fetch failed: "+whttp.Describe(fetchErr))
	}
	errs = append(errs, pr.Errors...)
	errs = append(errs, extra...)
	pr.Errors = errs

	if fetchErr != nil {
		r.log.Warnf("Page %s: %s", pageURL, whttp.Describe(fetchErr))
	} else {
		r.log.Debugf("Page %s scored %.1f", pageURL, pr.OverallScore)
	}
	if r.opts.OnPage != nil {
		r.opts.OnPage(pr)
	}
	return pr
}

func checkSeed(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: invalid url %q: %v", ErrSeedUnreachable, raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Hostname() == "" {
		return "", fmt.Errorf("%w: invalid url %q: need an http(s) url with a host", ErrSeedUnreachable, raw)
	}
	return discovery.NormalizeURL(u.String()), nil
}

func unresolvable(err error) bool {
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr) && dnsErr.IsNotFound
}
