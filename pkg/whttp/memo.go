package whttp

import (
	"context"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

type memoEntry struct {
	res *Response
	err error
}

// Memo wraps a Fetcher so that identical requests made during one audit
// share a single round trip. Responses are shared and must not be modified.
type Memo struct {
	next Fetcher

	mu      sync.Mutex
	entries map[string]memoEntry
	group   singleflight.Group
}

func NewMemo(next Fetcher) *Memo {
	return &Memo{next: next, entries: make(map[string]memoEntry)}
}

func (m *Memo) Fetch(ctx context.Context, req *Request) (*Response, error) {
	key := requestKey(req)

	m.mu.Lock()
	e, ok := m.entries[key]
	m.mu.Unlock()
	if ok {
		return e.res, e.err
	}

	v, _, _ := m.group.Do(key, func() (interface{}, error) {
		m.mu.Lock()
		e, ok := m.entries[key]
		m.mu.Unlock()
		if ok {
			return e, nil
		}
		res, err := m.next.Fetch(ctx, req)
		e = memoEntry{res: res, err: err}
		m.mu.Lock()
		m.entries[key] = e
		m.mu.Unlock()
		return e, nil
	})
	e = v.(memoEntry)
	return e.res, e.err
}

func requestKey(req *Request) string {
	method := req.Method
	if method == "" {
		method = "GET"
	}
	hs := make([]string, 0, len(req.Headers))
	for _, h := range req.Headers {
		hs = append(hs, strings.ToLower(h.Name)+":"+h.Value)
	}
	sort.Strings(hs)
	return method + " " + req.URL + " " + strings.Join(hs, "|")
}
