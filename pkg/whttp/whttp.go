package whttp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sw33tLie/airscope/pkg/retry"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
)

const (
	DefaultUserAgent = "Mozilla/5.0 (compatible; airscope/1.0; +https://github.com/sw33tLie/airscope)"
	DefaultTimeout   = 15 * time.Second

	maxBodyBytes = 5 << 20
)

type Header struct {
	Name  string
	Value string
}

type Request struct {
	URL     string
	Method  string // defaults to GET
	Headers []Header
}

type Response struct {
	URL        string // final URL after redirects
	StatusCode int
	Header     http.Header
	Title      string
	Body       string
	Length     int
}

// ContentType returns the lowercased Content-Type header.
func (r *Response) ContentType() string {
	if r == nil || r.Header == nil {
		return ""
	}
	return strings.ToLower(r.Header.Get("Content-Type"))
}

// Fetcher retrieves a URL. Implementations apply their own per-call timeout
// and retry transient failures before returning an error.
type Fetcher interface {
	Fetch(ctx context.Context, req *Request) (*Response, error)
}

// Logger is satisfied by *logrus.Logger.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

type Options struct {
	Timeout   time.Duration // per attempt; defaults to 15s
	UserAgent string
	Proxy     string
	Retry     retry.Policy
	Log       Logger // optional
}

// Client is the default Fetcher, backed by a retrying HTTP client.
type Client struct {
	rc        *retryablehttp.Client
	userAgent string
}

func NewClient(opts Options) (*Client, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient.Timeout = opts.Timeout
	if opts.Log != nil {
		rc.Logger = leveledLogger{log: opts.Log}
	} else {
		rc.Logger = nil
	}
	opts.Retry.Apply(rc)

	if opts.Proxy != "" {
		proxyURL, err := url.Parse(opts.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL: %w", err)
		}
		rc.HTTPClient.Transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
	}

	return &Client{rc: rc, userAgent: opts.UserAgent}, nil
}

func (c *Client) Fetch(ctx context.Context, r *Request) (*Response, error) {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, r.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept-Language", "en")
	for _, h := range r.Headers {
		req.Header.Set(h.Name, h.Value)
	}

	resp, err := c.rc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	res := &Response{
		URL:        resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
	}
	if method == http.MethodHead {
		return res, nil
	}

	body, err := readBody(resp.Body, res.ContentType())
	if err != nil {
		return nil, err
	}
	res.Body = body
	res.Length = utf8.RuneCountInString(body)
	if strings.Contains(res.ContentType(), "html") || res.ContentType() == "" {
		res.Title = HTMLTitle(body)
	}
	return res, nil
}

func readBody(r io.Reader, contentType string) (string, error) {
	r = io.LimitReader(r, maxBodyBytes)
	if strings.HasPrefix(contentType, "text/html") {
		if decoded, err := charset.NewReader(r, contentType); err == nil {
			r = decoded
		}
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// HTMLTitle returns the trimmed contents of the first <title> element.
func HTMLTitle(body string) string {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return ""
	}
	title, ok := traverse(doc)
	if !ok {
		return ""
	}
	title = strings.ReplaceAll(strings.ReplaceAll(title, "\n", ""), "\r", "")
	return strings.ToValidUTF8(strings.TrimSpace(title), "")
}

func isTitleElement(n *html.Node) bool {
	return n.Type == html.ElementNode && n.Data == "title"
}

func traverse(n *html.Node) (string, bool) {
	if isTitleElement(n) {
		if n.FirstChild != nil {
			return n.FirstChild.Data, true
		}
		return "", true
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		result, ok := traverse(c)
		if ok {
			return result, ok
		}
	}

	return "", false
}

// Describe turns a fetch error into the short reason used in report errors,
// e.g. "timeout" or "HTTP 503".
func Describe(err error) string {
	if err == nil {
		return ""
	}
	var se *retry.StatusError
	if errors.As(err, &se) {
		return fmt.Sprintf("HTTP %d", se.StatusCode)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "no such host " + dnsErr.Name
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err.Error()
	}
	return err.Error()
}

// leveledLogger adapts Logger to retryablehttp.LeveledLogger.
type leveledLogger struct {
	log Logger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.log.Warnf("%s%s", msg, formatKV(kv)) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.log.Warnf("%s%s", msg, formatKV(kv)) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.log.Debugf("%s%s", msg, formatKV(kv)) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.log.Debugf("%s%s", msg, formatKV(kv)) }

func formatKV(kv []interface{}) string {
	var b strings.Builder
	for i := 0; i+1 < len(kv); i += 2 {
		fmt.Fprintf(&b, " %v=%v", kv[i], kv[i+1])
	}
	return b.String()
}
