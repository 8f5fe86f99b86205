package discovery

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sw33tLie/airscope/pkg/retry"
	"github.com/sw33tLie/airscope/pkg/robots"
	"github.com/sw33tLie/airscope/pkg/whttp"
)

func newClient(t *testing.T) *whttp.Client {
	t.Helper()
	c, err := whttp.NewClient(whttp.Options{Retry: retry.Policy{MaxAttempts: 1, BaseDelay: time.Millisecond}})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func urlset(locs ...string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">`)
	for _, l := range locs {
		fmt.Fprintf(&b, "<url><loc>%s</loc></url>", l)
	}
	b.WriteString("</urlset>")
	return b.String()
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"HTTPS://Example.COM", "https://example.com/"},
		{"https://example.com/", "https://example.com/"},
		{"https://example.com/blog/", "https://example.com/blog"},
		{"https://example.com/blog#top", "https://example.com/blog"},
		{"https://example.com/search/?q=Go", "https://example.com/search?q=Go"},
		{"not a url", "not a url"},
	}
	for _, tt := range tests {
		if got := NormalizeURL(tt.in); got != tt.want {
			t.Errorf("NormalizeURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
		if again := NormalizeURL(NormalizeURL(tt.in)); again != NormalizeURL(tt.in) {
			t.Errorf("NormalizeURL not idempotent for %q", tt.in)
		}
	}
}

func TestDepth(t *testing.T) {
	tests := map[string]int{
		"https://example.com":            0,
		"https://example.com/":           0,
		"https://example.com/blog":       1,
		"https://example.com/blog/post":  2,
		"https://example.com/a/b/c/":     3,
		"https://example.com//a//b?x=/y": 2,
	}
	for in, want := range tests {
		if got := Depth(in); got != want {
			t.Errorf("Depth(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestSampleRoundRobin(t *testing.T) {
	seed := "https://example.com/"
	urls := []string{
		"https://example.com/blog/1",
		"https://example.com/blog/2",
		"https://example.com/blog/3",
		"https://example.com/docs/1",
		"https://example.com/about",
		"https://example.com/docs/2",
	}
	got := Sample(seed, urls, 5)
	want := []string{
		"https://example.com/",
		"https://example.com/blog/1",
		"https://example.com/docs/1",
		"https://example.com/about",
		"https://example.com/blog/2",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Sample = %v\nwant %v", got, want)
	}
}

func TestSampleCapAndDedupe(t *testing.T) {
	seed := "https://example.com/"
	var urls []string
	for i := 0; i < 300; i++ {
		u := fmt.Sprintf("https://example.com/s%d/p%d", i%7, i)
		urls = append(urls, u, u+"/", u+"#frag")
	}
	urls = append(urls, "https://EXAMPLE.com")
	for _, n := range []int{1, 2, 10, 50} {
		got := Sample(seed, urls, n)
		if len(got) > n || got[0] != "https://example.com/" {
			t.Fatalf("Sample(max=%d) returned %d urls starting at %s", n, len(got), got[0])
		}
		seen := map[string]bool{}
		for _, u := range got {
			if seen[u] {
				t.Fatalf("duplicate %s in sample", u)
			}
			seen[u] = true
		}
	}
}

func TestDiscoverSitemapIndex(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sitemap.xml":
			fmt.Fprintf(w, `<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
				<sitemap><loc>%[1]s/s1.xml</loc></sitemap>
				<sitemap><loc>%[1]s/s2.xml</loc></sitemap>
				<sitemap><loc>%[1]s/s3.xml</loc></sitemap>
			</sitemapindex>`, srv.URL)
		case "/s1.xml", "/s2.xml", "/s3.xml":
			section := map[string]string{"/s1.xml": "blog", "/s2.xml": "products", "/s3.xml": "docs"}[r.URL.Path]
			n := map[string]int{"/s1.xml": 20, "/s2.xml": 12, "/s3.xml": 8}[r.URL.Path]
			var locs []string
			for i := 0; i < n; i++ {
				locs = append(locs, fmt.Sprintf("%s/%s/item-%d", srv.URL, section, i))
			}
			fmt.Fprint(w, urlset(locs...))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	d := &Discoverer{Fetcher: newClient(t)}
	res := d.Discover(context.Background(), srv.URL, 10, "")

	if res.Method != MethodSitemap || res.Found != 40 {
		t.Fatalf("method=%s found=%d", res.Method, res.Found)
	}
	if len(res.URLs) != 10 {
		t.Fatalf("expected 10 urls, got %d", len(res.URLs))
	}
	if res.URLs[0] != NormalizeURL(srv.URL) {
		t.Fatalf("seed not first: %s", res.URLs[0])
	}
	groups := map[string]bool{}
	for _, u := range res.URLs[1:] {
		groups[firstSegment(u)] = true
	}
	if len(groups) < 2 {
		t.Fatalf("sample spans %d groups, want at least 2", len(groups))
	}
	if len(res.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", res.Errors)
	}
}

type recordingFetcher struct {
	next whttp.Fetcher
	mu   sync.Mutex
	urls []string
}

func (f *recordingFetcher) Fetch(ctx context.Context, req *whttp.Request) (*whttp.Response, error) {
	f.mu.Lock()
	f.urls = append(f.urls, req.URL)
	f.mu.Unlock()
	return f.next.Fetch(ctx, req)
}

func TestDiscoverSkipsOffSiteChildSitemaps(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sitemap.xml":
			fmt.Fprintf(w, `<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
				<sitemap><loc>https://elsewhere.example.org/sitemap.xml</loc></sitemap>
				<sitemap><loc>%s/local.xml</loc></sitemap>
			</sitemapindex>`, srv.URL)
		case "/local.xml":
			fmt.Fprint(w, urlset(srv.URL+"/docs/a", srv.URL+"/docs/b"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := &recordingFetcher{next: newClient(t)}
	d := &Discoverer{Fetcher: f}
	res := d.Discover(context.Background(), srv.URL, 5, "")

	for _, u := range f.urls {
		if strings.Contains(u, "elsewhere.example.org") {
			t.Fatalf("fetched off-site sitemap %s", u)
		}
	}
	if res.Method != MethodSitemap || res.Found != 2 {
		t.Fatalf("method=%s found=%d", res.Method, res.Found)
	}
}

func TestDiscoverSitemapIndexFallbackAndCap(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sitemap_index.xml":
			var locs []string
			for i := 0; i < 800; i++ {
				locs = append(locs, fmt.Sprintf("%s/p/%d", srv.URL, i))
			}
			locs = append(locs, "https://elsewhere.example.org/p/1")
			fmt.Fprint(w, urlset(locs...))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	d := &Discoverer{Fetcher: newClient(t)}
	res := d.Discover(context.Background(), srv.URL, 3, "")
	if res.Found != DefaultMaxSitemapURLs {
		t.Fatalf("found=%d, want %d", res.Found, DefaultMaxSitemapURLs)
	}
	if len(res.URLs) != 3 {
		t.Fatalf("expected 3 urls, got %v", res.URLs)
	}
}

func TestDiscoverSpiderFallback(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	seedBody := fmt.Sprintf(`<html><body>
		<a href="/blog/one#comments">one</a>
		<a href="/blog/one">dup</a>
		<a href="%s/docs/">docs</a>
		<a href="https://other.example.com/x">offsite</a>
		<a href="mailto:hi@example.com">mail</a>
		<a href="/private/secret">private</a>
	</body></html>`, srv.URL)

	client := newClient(t)
	d := &Discoverer{Fetcher: client, Robots: robots.NewCache(client)}
	res := d.Discover(context.Background(), srv.URL, 10, seedBody)

	if res.Method != MethodSpider {
		t.Fatalf("method=%s, want spider", res.Method)
	}
	want := []string{
		NormalizeURL(srv.URL),
		NormalizeURL(srv.URL + "/blog/one"),
		NormalizeURL(srv.URL + "/docs"),
		NormalizeURL(srv.URL + "/private/secret"),
	}
	// srv has no robots.txt, so nothing is filtered.
	if !reflect.DeepEqual(res.URLs, want) {
		t.Fatalf("URLs = %v\nwant %v", res.URLs, want)
	}
}

func TestDiscoverRobotsFilter(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/robots.txt":
			fmt.Fprint(w, "User-agent: GPTBot\nDisallow: /private/\n")
		case "/sitemap.xml":
			fmt.Fprint(w, urlset(srv.URL+"/private/a", srv.URL+"/public/a", srv.URL+"/public/a/"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := newClient(t)
	d := &Discoverer{Fetcher: client, Robots: robots.NewCache(client)}
	res := d.Discover(context.Background(), srv.URL, 10, "")
	want := []string{NormalizeURL(srv.URL), NormalizeURL(srv.URL + "/public/a")}
	if !reflect.DeepEqual(res.URLs, want) {
		t.Fatalf("URLs = %v, want %v", res.URLs, want)
	}
}

func TestDiscoverDegradesToSeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/sitemap.xml" {
			fmt.Fprint(w, "<urlset><url><loc>")
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	d := &Discoverer{Fetcher: newClient(t)}
	res := d.Discover(context.Background(), srv.URL, 10, "<html><body>no links</body></html>")
	if len(res.URLs) != 1 || res.URLs[0] != NormalizeURL(srv.URL) {
		t.Fatalf("expected seed only, got %v", res.URLs)
	}
	if len(res.Errors) == 0 || !strings.Contains(res.Errors[0], "sitemap parse failed") {
		t.Fatalf("expected parse error, got %v", res.Errors)
	}
}
