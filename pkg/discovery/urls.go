package discovery

import (
	"net"
	"net/url"
	"strings"

	"github.com/weppos/publicsuffix-go/publicsuffix"
)

// NormalizeURL lowercases scheme and host, drops the fragment and trailing
// slashes, and keeps the query string. An empty path becomes "/".
// Unparseable input is returned unchanged.
func NormalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return raw
	}
	path := strings.TrimRight(u.EscapedPath(), "/")
	if path == "" {
		path = "/"
	}
	out := strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host) + path
	if u.RawQuery != "" {
		out += "?" + u.RawQuery
	}
	return out
}

// Depth counts the non-empty path segments of raw.
func Depth(raw string) int {
	u, err := url.Parse(raw)
	if err != nil {
		return 0
	}
	n := 0
	for _, seg := range strings.Split(u.Path, "/") {
		if seg != "" {
			n++
		}
	}
	return n
}

// firstSegment is the grouping key used for diversity sampling.
func firstSegment(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	p := strings.Trim(u.Path, "/")
	if i := strings.Index(p, "/"); i >= 0 {
		return p[:i]
	}
	return p
}

// registrableDomain returns the eTLD+1 of host, or the bare host for IPs and
// names the public suffix list cannot split.
func registrableDomain(host string) string {
	h := strings.ToLower(host)
	if hn, _, err := net.SplitHostPort(h); err == nil {
		h = hn
	}
	h = strings.Trim(h, "[]")
	if net.ParseIP(h) != nil {
		return h
	}
	if d, err := publicsuffix.Domain(h); err == nil && d != "" {
		return d
	}
	return h
}

func sameSite(a, b *url.URL) bool {
	return registrableDomain(a.Host) == registrableDomain(b.Host)
}
