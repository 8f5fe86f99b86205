package discovery

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sw33tLie/airscope/pkg/robots"
	"github.com/sw33tLie/airscope/pkg/whttp"
)

const (
	DefaultMaxPages         = 10
	DefaultUserAgent        = "GPTBot"
	DefaultMaxSitemapURLs   = 500
	DefaultMaxChildSitemaps = 10
	DefaultMaxSitemapDepth  = 2

	MethodSitemap = "sitemap"
	MethodSpider  = "spider"
)

var sitemapPaths = []string{"/sitemap.xml", "/sitemap_index.xml"}

// Logger is satisfied by *logrus.Logger.
type Logger interface {
	Debugf(format string, args ...interface{})
	Warnf(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...interface{}) {}
func (nopLogger) Warnf(string, ...interface{})  {}

// Discoverer finds the pages of a site worth auditing.
type Discoverer struct {
	Fetcher whttp.Fetcher
	Robots  *robots.Cache // optional; nil disables robots filtering

	UserAgent        string // robots user agent; defaults to GPTBot
	MaxSitemapURLs   int    // defaults to 500
	MaxChildSitemaps int    // per index; defaults to 10
	MaxSitemapDepth  int    // index nesting; defaults to 2
	Log              Logger // optional
}

// Result is the outcome of one discovery run. URLs always starts with the
// normalized seed.
type Result struct {
	URLs   []string `json:"urls"`
	Method string   `json:"method"`
	Found  int      `json:"found"` // candidates before robots filtering and sampling
	Errors []string `json:"errors,omitempty"`
}

func (d *Discoverer) withDefaults() Discoverer {
	c := *d
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.MaxSitemapURLs <= 0 {
		c.MaxSitemapURLs = DefaultMaxSitemapURLs
	}
	if c.MaxChildSitemaps <= 0 {
		c.MaxChildSitemaps = DefaultMaxChildSitemaps
	}
	if c.MaxSitemapDepth <= 0 {
		c.MaxSitemapDepth = DefaultMaxSitemapDepth
	}
	if c.Log == nil {
		c.Log = nopLogger{}
	}
	return c
}

// Discover returns at most maxPages URLs for seed: sitemap entries first,
// falling back to links on the seed page (seedBody, fetched if empty).
// Failures never abort discovery; they are reported in Result.Errors.
func (d *Discoverer) Discover(ctx context.Context, seed string, maxPages int, seedBody string) Result {
	cfg := d.withDefaults()
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}

	seedNorm := NormalizeURL(seed)
	res := Result{URLs: []string{seedNorm}, Method: MethodSitemap}

	seedURL, err := url.Parse(seedNorm)
	if err != nil || seedURL.Host == "" {
		res.Errors = append(res.Errors, fmt.Sprintf("discovery skipped: invalid seed url %q", seed))
		return res
	}
	if maxPages == 1 {
		return res
	}

	candidates, errs := cfg.sitemapURLs(ctx, seedURL)
	res.Errors = append(res.Errors, errs...)

	if len(candidates) == 0 {
		res.Method = MethodSpider
		links, err := cfg.spider(ctx, seedURL, seedBody)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("spider failed: %v", err))
		}
		candidates = links
	}
	res.Found = len(candidates)

	candidates = cfg.filterByRobots(ctx, seedNorm, candidates)
	res.URLs = Sample(seedNorm, dedupe(candidates), maxPages)

	cfg.Log.Debugf("Discovery for %s: method=%s found=%d sampled=%d", seedNorm, res.Method, res.Found, len(res.URLs))
	return res
}

func (d Discoverer) sitemapURLs(ctx context.Context, seed *url.URL) ([]string, []string) {
	origin := seed.Scheme + "://" + seed.Host
	var (
		out  []string
		errs []string
	)
	for _, p := range sitemapPaths {
		d.walkSitemap(ctx, seed, origin+p, 0, &out, &errs)
		if len(out) > 0 {
			break
		}
	}
	return out, errs
}

func (d Discoverer) walkSitemap(ctx context.Context, seed *url.URL, sitemapURL string, depth int, out, errs *[]string) {
	if len(*out) >= d.MaxSitemapURLs || ctx.Err() != nil {
		return
	}

	res, err := d.Fetcher.Fetch(ctx, &whttp.Request{URL: sitemapURL})
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("sitemap fetch failed: %s: %s", sitemapURL, whttp.Describe(err)))
		return
	}
	if res.StatusCode != 200 {
		d.Log.Debugf("Sitemap %s returned HTTP %d", sitemapURL, res.StatusCode)
		return
	}

	pages, children, err := parseSitemap(res.Body)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("sitemap parse failed: %s: %v", sitemapURL, err))
		return
	}

	for _, loc := range pages {
		if len(*out) >= d.MaxSitemapURLs {
			return
		}
		u, err := url.Parse(loc)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || !sameSite(seed, u) {
			continue
		}
		*out = append(*out, loc)
	}

	if depth >= d.MaxSitemapDepth {
		return
	}
	local := children[:0]
	for _, loc := range children {
		u, err := url.Parse(loc)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || !sameSite(seed, u) {
			d.Log.Debugf("Skipping off-site child sitemap %s", loc)
			continue
		}
		local = append(local, loc)
	}
	if len(local) > d.MaxChildSitemaps {
		local = local[:d.MaxChildSitemaps]
	}
	for _, child := range local {
		d.walkSitemap(ctx, seed, child, depth+1, out, errs)
	}
}

type sitemapLoc struct {
	Loc string `xml:"loc"`
}

// sitemapDoc matches both <urlset> and <sitemapindex> documents.
type sitemapDoc struct {
	URLs     []sitemapLoc `xml:"url"`
	Sitemaps []sitemapLoc `xml:"sitemap"`
}

func parseSitemap(body string) (pages, children []string, err error) {
	var doc sitemapDoc
	if err := xml.Unmarshal([]byte(body), &doc); err != nil {
		return nil, nil, err
	}
	for _, u := range doc.URLs {
		if loc := strings.TrimSpace(u.Loc); loc != "" {
			pages = append(pages, loc)
		}
	}
	for _, s := range doc.Sitemaps {
		if loc := strings.TrimSpace(s.Loc); loc != "" {
			children = append(children, loc)
		}
	}
	return pages, children, nil
}

// spider collects same-host links from the seed page, one hop only.
func (d Discoverer) spider(ctx context.Context, seed *url.URL, body string) ([]string, error) {
	base := seed
	if body == "" {
		res, err := d.Fetcher.Fetch(ctx, &whttp.Request{URL: seed.String()})
		if err != nil {
			return nil, fmt.Errorf("fetch seed: %s", whttp.Describe(err))
		}
		if res.StatusCode != 200 {
			return nil, fmt.Errorf("fetch seed: HTTP %d", res.StatusCode)
		}
		body = res.Body
		if u, err := url.Parse(res.URL); err == nil && u.Host != "" {
			base = u
		}
	}
	return ExtractLinks(base, body)
}

// ExtractLinks returns the absolute http(s) links in body that point at
// base's host, fragments removed, in document order.
func ExtractLinks(base *url.URL, body string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if b, err := base.Parse(href); err == nil {
			base = b
		}
	}

	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		u, err := base.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return
		}
		if !strings.EqualFold(u.Host, base.Host) {
			return
		}
		u.Fragment = ""
		u.RawFragment = ""
		links = append(links, u.String())
	})
	return links, nil
}

func (d Discoverer) filterByRobots(ctx context.Context, seed string, urls []string) []string {
	if d.Robots == nil || len(urls) == 0 {
		return urls
	}
	rules, err := d.Robots.GetOrFetch(ctx, seed)
	if err != nil || !rules.Found {
		return urls
	}
	kept := make([]string, 0, len(urls))
	for _, raw := range urls {
		u, err := url.Parse(raw)
		if err != nil {
			continue
		}
		if rules.Allowed(d.UserAgent, u.RequestURI()) {
			kept = append(kept, raw)
		}
	}
	return kept
}

func dedupe(urls []string) []string {
	seen := make(map[string]bool, len(urls))
	out := make([]string, 0, len(urls))
	for _, raw := range urls {
		n := NormalizeURL(raw)
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// Sample picks up to maxPages URLs, seed first, taking one URL at a time
// from each first-path-segment group in round-robin. Groups are visited in
// the order they first appear in urls and keep their input order.
func Sample(seed string, urls []string, maxPages int) []string {
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	seedNorm := NormalizeURL(seed)
	out := []string{seedNorm}
	seen := map[string]bool{seedNorm: true}

	var order []string
	groups := make(map[string][]string)
	for _, raw := range urls {
		n := NormalizeURL(raw)
		if seen[n] {
			continue
		}
		seen[n] = true
		key := firstSegment(n)
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], n)
	}

	for len(out) < maxPages {
		progressed := false
		for _, key := range order {
			if len(out) >= maxPages {
				break
			}
			if len(groups[key]) == 0 {
				continue
			}
			out = append(out, groups[key][0])
			groups[key] = groups[key][1:]
			progressed = true
		}
		if !progressed {
			break
		}
	}
	return out
}
