package middleware

import (
	"errors"
	"fmt"
	"time"
)

// ErrTimeout indicates a request was abandoned because its deadline passed,
// either while waiting for rate limit capacity or while waiting on the
// downstream service.
var ErrTimeout = errors.New("middleware: request timed out")

// ErrOverloaded indicates the service is at peak capacity and the request
// was shed rather than queued.
var ErrOverloaded = errors.New("middleware: service is overloaded; request shed")

// RateLimitedError reports that a request was rejected by the rate limit
// strategy, carrying the caller's hint for how long to wait before trying
// again. A Middleware built WithFailFast surfaces this directly; neither
// discipline lets it escape: ThroughputDiscipline retries on it and
// LatencyDiscipline reports ErrOverloaded instead.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("middleware: rate limit exceeded; retry after %s", e.RetryAfter)
}

// InnerError wraps an error returned by the downstream service, so callers
// can distinguish "the rate limiter rejected this" from "the thing being
// rate limited failed on its own".
type InnerError struct {
	Err error
}

func (e *InnerError) Error() string {
	return fmt.Sprintf("middleware: inner service error: %s", e.Err)
}

func (e *InnerError) Unwrap() error {
	return e.Err
}

// asRateLimited reports whether err is a *RateLimitedError, unwrapping as
// needed, and returns it.
func asRateLimited(err error) (*RateLimitedError, bool) {
	var rle *RateLimitedError
	if errors.As(err, &rle) {
		return rle, true
	}
	return nil, false
}
