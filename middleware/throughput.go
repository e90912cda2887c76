package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/iryndin/limitron/limiter"
)

// ThroughputDiscipline favors eventually completing every request over
// bounding any single request's latency. It never sheds: a rejected
// request is retried after the strategy's hint elapses, up to maxWait
// total, and only then gives up with ErrTimeout.
//
// The retry loop deliberately lives in Do rather than in Ready. A naive
// Ready that blocks until admitted would tie up the calling goroutine for
// the full wait with no way to distinguish "still waiting" from "about to
// give up" — so Ready here lies: on rejection it still returns a
// *RateLimitedError rather than blocking, and Do is the one that decides
// whether to sleep and retry or to surface the error. This mirrors the
// retry service in the original design, which polls the rate limiter,
// treats a rejection as "ready anyway", and performs the actual sleep
// inside the call step instead of the readiness step.
type ThroughputDiscipline[Req, Resp any] struct {
	middleware *Middleware[Req, Resp]
	maxWait    time.Duration
	logger     zerolog.Logger
}

// NewThroughputDiscipline builds a ThroughputDiscipline rate-limiting calls
// to inner with strategy, retrying a rejected request until maxWait total
// has elapsed.
func NewThroughputDiscipline[Req, Resp any](strategy limiter.Strategy, inner Service[Req, Resp], maxWait time.Duration, opts ...Option) *ThroughputDiscipline[Req, Resp] {
	o := newOptions(opts)
	return &ThroughputDiscipline[Req, Resp]{
		middleware: New(strategy, inner, WithFailFast(true), WithLogger(o.logger)),
		maxWait:    maxWait,
		logger:     o.logger,
	}
}

// Do waits for rate limit capacity, retrying on rejection, and then calls
// the inner service. It gives up with ErrTimeout once maxWait has elapsed
// without being admitted, or once the inner service itself fails to become
// ready or respond before the deadline.
func (d *ThroughputDiscipline[Req, Resp]) Do(ctx context.Context, req Req) (Resp, error) {
	var zero Resp

	deadlineCtx, cancel := context.WithTimeout(ctx, d.maxWait)
	defer cancel()

	for {
		err := d.middleware.Ready(deadlineCtx)
		if err == nil {
			resp, callErr := d.middleware.Call(deadlineCtx, req)
			if callErr != nil && errors.Is(callErr, context.DeadlineExceeded) {
				return zero, ErrTimeout
			}
			return resp, callErr
		}

		rle, ok := asRateLimited(err)
		if !ok {
			if errors.Is(err, context.DeadlineExceeded) {
				return zero, ErrTimeout
			}
			var ie *InnerError
			if !errors.As(err, &ie) {
				err = &InnerError{Err: err}
			}
			return zero, err
		}

		d.logger.Debug().Dur("retry_after", rle.RetryAfter).Msg("throughput discipline retrying after rate limit")

		select {
		case <-deadlineCtx.Done():
			return zero, ErrTimeout
		case <-time.After(rle.RetryAfter + time.Millisecond):
		}
	}
}
