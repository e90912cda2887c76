package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/iryndin/limitron/limiter"
)

// LatencyDiscipline favors bounding every request's latency over
// guaranteeing it eventually completes. It never queues or retries: a
// request that cannot be admitted right now is shed immediately, and a
// request that is admitted but whose inner service does not answer
// within maxWait is abandoned. This is the "Shed-First" design: queueing
// trades memory and tail latency for throughput, which is exactly what
// this discipline exists to avoid.
//
// A strategy rejection and an inner-service timeout are different
// failures in principle (one is "no capacity", the other is "too slow")
// but indistinguishable to a caller that only wants to know whether to
// retry elsewhere right now — so both collapse to ErrOverloaded /
// ErrTimeout rather than leaking a *RateLimitedError retry hint the
// caller has no queue to honor.
type LatencyDiscipline[Req, Resp any] struct {
	strategy limiter.Strategy
	inner    Service[Req, Resp]
	maxWait  time.Duration
	logger   zerolog.Logger
}

// NewLatencyDiscipline builds a LatencyDiscipline rate-limiting calls to
// inner with strategy, bounding total request latency at maxWait.
func NewLatencyDiscipline[Req, Resp any](strategy limiter.Strategy, inner Service[Req, Resp], maxWait time.Duration, opts ...Option) *LatencyDiscipline[Req, Resp] {
	o := newOptions(opts)
	return &LatencyDiscipline[Req, Resp]{
		strategy: strategy,
		inner:    inner,
		maxWait:  maxWait,
		logger:   o.logger,
	}
}

// Do checks the inner service's own readiness first, under maxWait, before
// ever consulting the strategy: a downstream that is not ready or errors
// out must not consume a permit it will not get to use. Only once the
// inner service reports ready does Do check the strategy exactly once; on
// rejection it sheds the request immediately with ErrOverloaded, ignoring
// the strategy's retry hint, since a shed-first discipline offers no queue
// for that hint to schedule against.
func (d *LatencyDiscipline[Req, Resp]) Do(ctx context.Context, req Req) (Resp, error) {
	var zero Resp

	deadlineCtx, cancel := context.WithTimeout(ctx, d.maxWait)
	defer cancel()

	if err := d.inner.Ready(deadlineCtx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return zero, ErrTimeout
		}
		if rle, ok := asRateLimited(err); ok {
			d.logger.Debug().Dur("retry_after", rle.RetryAfter).Msg("latency discipline shedding request: inner service rate limited")
			return zero, ErrOverloaded
		}
		return zero, &InnerError{Err: err}
	}

	decision := d.strategy.Process()
	if !decision.Admitted {
		d.logger.Debug().Msg("latency discipline shedding request: no rate limit capacity")
		return zero, ErrOverloaded
	}

	resp, err := d.inner.Call(deadlineCtx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return zero, ErrTimeout
		}
		var ie *InnerError
		if !errors.As(err, &ie) {
			err = &InnerError{Err: err}
		}
		return zero, err
	}
	return resp, nil
}
