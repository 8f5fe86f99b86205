package whttp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sw33tLie/airscope/pkg/retry"
)

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/page":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			fmt.Fprint(w, "<html><head><title>\n  Hello World \r\n</title></head><body>hi</body></html>")
		case "/latin1":
			w.Header().Set("Content-Type", "text/html; charset=iso-8859-1")
			w.Write([]byte("<html><head><title>Caf\xe9</title></head></html>"))
		case "/accept":
			w.Header().Set("Content-Type", "text/plain")
			fmt.Fprint(w, r.Header.Get("Accept")+"|"+r.UserAgent())
		case "/head":
			w.Header().Set("X-Payment", "required")
			w.WriteHeader(http.StatusPaymentRequired)
		}
	}))
	defer srv.Close()

	c, err := NewClient(Options{UserAgent: "test-agent", Retry: retry.Policy{MaxAttempts: 1}})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	res, err := c.Fetch(ctx, &Request{URL: srv.URL + "/page"})
	if err != nil {
		t.Fatalf("fetch page: %v", err)
	}
	if res.StatusCode != 200 || res.Title != "Hello World" {
		t.Fatalf("unexpected response: status=%d title=%q", res.StatusCode, res.Title)
	}

	res, err = c.Fetch(ctx, &Request{URL: srv.URL + "/latin1"})
	if err != nil {
		t.Fatalf("fetch latin1: %v", err)
	}
	if res.Title != "Café" {
		t.Fatalf("charset not decoded: %q", res.Title)
	}

	res, err = c.Fetch(ctx, &Request{URL: srv.URL + "/accept", Headers: []Header{{Name: "Accept", Value: "text/markdown"}}})
	if err != nil {
		t.Fatalf("fetch accept: %v", err)
	}
	if res.Body != "text/markdown|test-agent" {
		t.Fatalf("headers not forwarded: %q", res.Body)
	}

	res, err = c.Fetch(ctx, &Request{URL: srv.URL + "/head", Method: http.MethodHead})
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if res.StatusCode != http.StatusPaymentRequired || res.Header.Get("X-Payment") != "required" || res.Body != "" {
		t.Fatalf("unexpected HEAD response: %+v", res)
	}
}

func TestFetchTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	c, err := NewClient(Options{Timeout: 20 * time.Millisecond, Retry: retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond}})
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.Fetch(context.Background(), &Request{URL: srv.URL})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if got := Describe(err); got != "timeout" {
		t.Fatalf("Describe = %q, want timeout", got)
	}
}

func TestFetchCapsRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3600")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, err := NewClient(Options{Timeout: time.Second, Retry: retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}})
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan *Response, 1)
	go func() {
		resp, _ := c.Fetch(context.Background(), &Request{URL: srv.URL + "/robots.txt"})
		done <- resp
	}()
	select {
	case resp := <-done:
		if resp == nil || resp.StatusCode != http.StatusTooManyRequests {
			t.Fatalf("expected the final 429 to be returned, got %+v", resp)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Fetch waited out Retry-After instead of capping it at MaxDelay")
	}
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&retry.StatusError{StatusCode: 503}, "HTTP 503"},
		{fmt.Errorf("wrapped: %w", context.DeadlineExceeded), "timeout"},
		{&net.DNSError{Name: "nope.invalid", IsNotFound: true}, "no such host nope.invalid"},
		{errors.New("boom"), "boom"},
	}
	for _, tt := range tests {
		if got := Describe(tt.err); got != tt.want {
			t.Errorf("Describe(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestHTMLTitle(t *testing.T) {
	if got := HTMLTitle("<html><body>no title</body></html>"); got != "" {
		t.Fatalf("expected empty title, got %q", got)
	}
	if got := HTMLTitle("<title></title>"); got != "" {
		t.Fatalf("expected empty title, got %q", got)
	}
}
