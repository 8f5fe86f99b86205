package retry

import (
	"context"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// CheckRetry is a retryablehttp.CheckRetry that applies the same
// classification as IsTransient to HTTP round trips.
func CheckRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return IsTransient(err), nil
	}
	if resp == nil {
		return false, nil
	}
	return retryableStatus(resp.StatusCode), nil
}

// Backoff is a retryablehttp.Backoff. retryablehttp counts attempts from 0,
// so attemptNum 0 waits roughly min.
func Backoff(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
	var retryAfter time.Duration
	if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
		if d, ok := ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()); ok {
			retryAfter = d
		}
	}
	return Delay(min, max, attemptNum+1, retryAfter)
}

// Apply configures a retryablehttp client with the policy's limits and
// the package's retry classification. The final response is passed through
// after the last attempt instead of being turned into an error.
func (p Policy) Apply(c *retryablehttp.Client) {
	p = p.withDefaults()
	c.RetryMax = p.MaxAttempts - 1
	c.RetryWaitMin = p.BaseDelay
	c.RetryWaitMax = p.MaxDelay
	c.CheckRetry = CheckRetry
	c.Backoff = Backoff
	c.ErrorHandler = retryablehttp.PassthroughErrorHandler
}
