package robots

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/sw33tLie/airscope/pkg/retry"
	"github.com/sw33tLie/airscope/pkg/whttp"
	"github.com/temoto/robotstxt"
	"golang.org/x/sync/singleflight"
)

// Result is the parsed robots.txt of one scheme+host.
type Result struct {
	URL        string
	Found      bool
	StatusCode int
	Raw        string

	data *robotstxt.RobotsData
}

// Allowed reports whether userAgent may fetch path. A site without a
// robots.txt places no restrictions.
func (r *Result) Allowed(userAgent, path string) bool {
	if r == nil || !r.Found || r.data == nil {
		return true
	}
	if path == "" {
		path = "/"
	}
	return r.data.TestAgent(path, userAgent)
}

// Parse builds a found Result from robots.txt contents.
func Parse(robotsURL, body string) (*Result, error) {
	data, err := robotstxt.FromString(body)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", robotsURL, err)
	}
	return &Result{URL: robotsURL, Found: true, StatusCode: 200, Raw: body, data: data}, nil
}

type entry struct {
	res *Result
	err error
}

// Cache holds one robots.txt lookup per scheme+host for the lifetime of a
// single audit. Concurrent first lookups for a key share one fetch.
type Cache struct {
	fetcher whttp.Fetcher

	mu      sync.Mutex
	entries map[string]entry
	group   singleflight.Group
}

func NewCache(f whttp.Fetcher) *Cache {
	return &Cache{fetcher: f, entries: make(map[string]entry)}
}

// Key returns the cache key (lowercased scheme://host) for rawURL.
func Key(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q has no scheme or host", rawURL)
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host), nil
}

// GetOrFetch returns the robots.txt for rawURL's host, fetching it on first
// use. A missing robots.txt is not an error; network failures and 5xx
// responses are, and they are cached like successes.
func (c *Cache) GetOrFetch(ctx context.Context, rawURL string) (*Result, error) {
	key, err := Key(rawURL)
	if err != nil {
		return nil, err
	}
	if e, ok := c.lookup(key); ok {
		return e.res, e.err
	}

	v, _, _ := c.group.Do(key, func() (interface{}, error) {
		if e, ok := c.lookup(key); ok {
			return e, nil
		}
		res, err := c.fetch(ctx, key)
		e := entry{res: res, err: err}
		c.mu.Lock()
		c.entries[key] = e
		c.mu.Unlock()
		return e, nil
	})
	e := v.(entry)
	return e.res, e.err
}

func (c *Cache) lookup(key string) (entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return e, ok
}

func (c *Cache) fetch(ctx context.Context, origin string) (*Result, error) {
	robotsURL := origin + "/robots.txt"
	res, err := c.fetcher.Fetch(ctx, &whttp.Request{URL: robotsURL})
	if err != nil {
		return nil, err
	}

	switch {
	case res.StatusCode >= 200 && res.StatusCode < 300:
		return Parse(robotsURL, res.Body)
	case res.StatusCode >= 500 || res.StatusCode == 429:
		return nil, &retry.StatusError{URL: robotsURL, StatusCode: res.StatusCode}
	default:
		return &Result{URL: robotsURL, StatusCode: res.StatusCode}, nil
	}
}
