// Package browser fetches pages through headless Chrome so that content
// rendered by JavaScript is scored too.
package browser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/sw33tLie/airscope/pkg/retry"
	"github.com/sw33tLie/airscope/pkg/whttp"
)

type Options struct {
	// RemoteURL connects to an already running Chrome started with
	// --remote-debugging-port (e.g. http://localhost:9222). Empty starts a
	// local headless instance.
	RemoteURL string
	UserAgent string
	Timeout   time.Duration // per page; defaults to whttp.DefaultTimeout
	Wait      time.Duration // extra settle time after load for client-side rendering
	Retry     retry.Policy
}

// Renderer is a whttp.Fetcher backed by one Chrome instance; every Fetch
// opens its own tab.
type Renderer struct {
	opts   Options
	ctx    context.Context
	cancel context.CancelFunc
}

func New(opts Options) (*Renderer, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = whttp.DefaultTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = whttp.DefaultUserAgent
	}

	var (
		allocCtx    context.Context
		allocCancel context.CancelFunc
	)
	if opts.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(context.Background(), opts.RemoteURL)
	} else {
		execOpts := append(chromedp.DefaultExecAllocatorOptions[:], chromedp.UserAgent(opts.UserAgent))
		allocCtx, allocCancel = chromedp.NewExecAllocator(context.Background(), execOpts...)
	}
	ctx, cancel := chromedp.NewContext(allocCtx)

	// Start the browser now so that tabs can be opened concurrently later.
	if err := chromedp.Run(ctx); err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("could not start browser: %w", err)
	}

	return &Renderer{
		opts: opts,
		ctx:  ctx,
		cancel: func() {
			cancel()
			allocCancel()
		},
	}, nil
}

func (r *Renderer) Close() error {
	if r.cancel != nil {
		r.cancel()
	}
	return nil
}

// Fetch renders req.URL and returns the resulting DOM. Only GET is
// supported.
func (r *Renderer) Fetch(ctx context.Context, req *whttp.Request) (*whttp.Response, error) {
	if req.Method != "" && req.Method != http.MethodGet {
		return nil, fmt.Errorf("browser: unsupported method %s", req.Method)
	}

	var res *whttp.Response
	err := retry.Do(ctx, r.opts.Retry, func(ctx context.Context) error {
		var err error
		res, err = r.render(ctx, req)
		return err
	})
	return res, err
}

func (r *Renderer) render(ctx context.Context, req *whttp.Request) (*whttp.Response, error) {
	tabCtx, cancel := chromedp.NewContext(r.ctx)
	defer cancel()
	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, r.opts.Timeout)
	defer cancelTimeout()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var body, title, location string
	actions := []chromedp.Action{}
	if len(req.Headers) > 0 {
		actions = append(actions, network.Enable(), network.SetExtraHTTPHeaders(extraHeaders(req.Headers)))
	}
	resp, err := chromedp.RunResponse(tabCtx, append(actions, chromedp.Navigate(req.URL))...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(tabCtx.Err(), context.DeadlineExceeded) {
			return nil, context.DeadlineExceeded
		}
		return nil, err
	}

	status := 0
	if resp != nil {
		status = int(resp.Status)
	}
	if status == http.StatusTooManyRequests || status >= 500 {
		return nil, &retry.StatusError{URL: req.URL, StatusCode: status}
	}

	after := []chromedp.Action{}
	if r.opts.Wait > 0 {
		after = append(after, chromedp.Sleep(r.opts.Wait))
	}
	after = append(after,
		chromedp.Location(&location),
		chromedp.Title(&title),
		chromedp.OuterHTML("html", &body, chromedp.ByQuery),
	)
	if err := chromedp.Run(tabCtx, after...); err != nil {
		return nil, err
	}

	out := &whttp.Response{
		URL:        location,
		StatusCode: status,
		Header:     toHeader(resp),
		Title:      strings.TrimSpace(title),
		Body:       body,
		Length:     utf8.RuneCountInString(body),
	}
	return out, nil
}

func extraHeaders(hs []whttp.Header) network.Headers {
	out := make(network.Headers, len(hs))
	for _, h := range hs {
		out[h.Name] = h.Value
	}
	return out
}

// toHeader converts the CDP response headers. The rendered DOM is always
// HTML, whatever the server sent.
func toHeader(resp *network.Response) http.Header {
	h := http.Header{}
	if resp != nil {
		for k, v := range resp.Headers {
			h.Set(k, fmt.Sprint(v))
		}
	}
	h.Set("Content-Type", "text/html; charset=utf-8")
	return h
}
