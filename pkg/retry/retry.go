package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 500 * time.Millisecond
	DefaultMaxDelay    = 30 * time.Second
)

// Policy controls how many times an idempotent operation is attempted and
// how long to wait between attempts.
type Policy struct {
	MaxAttempts int           // defaults to 3 if <= 0
	BaseDelay   time.Duration // defaults to 500ms if <= 0
	MaxDelay    time.Duration // defaults to 30s if <= 0
}

func DefaultPolicy() Policy {
	return Policy{MaxAttempts: DefaultMaxAttempts, BaseDelay: DefaultBaseDelay, MaxDelay: DefaultMaxDelay}
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	return p
}

// StatusError reports a response whose status code should be surfaced as an
// error, typically so that Do can decide whether it is worth retrying.
type StatusError struct {
	URL        string
	StatusCode int
	RetryAfter time.Duration // zero when the server did not send Retry-After
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned HTTP %d", e.URL, e.StatusCode)
}

// jitter returns a factor in [0.8, 1.2]. Tests replace it.
var jitter = func() float64 {
	return 0.8 + 0.4*rand.Float64()
}

// IsTransient reports whether err is worth retrying: timeouts, resets,
// refused connections, 5xx and 429. Other 4xx and permanent DNS failures
// are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var se *StatusError
	if errors.As(err, &se) {
		return retryableStatus(se.StatusCode)
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTimeout || dnsErr.IsTemporary
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	switch {
	case errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.EOF):
		return true
	}
	return false
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// Delay returns the wait before retry number attempt (1-based):
// base * 2^(attempt-1) * jitter, capped at maxDelay. A positive retryAfter
// replaces the computed backoff but is still capped at maxDelay.
func Delay(base, maxDelay time.Duration, attempt int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		if maxDelay > 0 && retryAfter > maxDelay {
			return maxDelay
		}
		return retryAfter
	}
	if attempt < 1 {
		attempt = 1
	}
	d := float64(base) * math.Pow(2, float64(attempt-1)) * jitter()
	if maxDelay > 0 && d > float64(maxDelay) {
		return maxDelay
	}
	return time.Duration(d)
}

// ParseRetryAfter understands both delta-seconds and HTTP-date values.
func ParseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(value); err == nil {
		d := t.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

// Do runs op until it succeeds, fails with a non-transient error, or the
// policy runs out of attempts. The last error is returned unchanged.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	p = p.withDefaults()

	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if attempt > 1 {
			var retryAfter time.Duration
			var se *StatusError
			if errors.As(err, &se) && se.StatusCode == http.StatusTooManyRequests {
				retryAfter = se.RetryAfter
			}

			wait := Delay(p.BaseDelay, p.MaxDelay, attempt-1, retryAfter)
			if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < wait {
				return err
			}
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		err = op(ctx)
		if err == nil || !IsTransient(err) || ctx.Err() != nil {
			return err
		}
	}
	return err
}
