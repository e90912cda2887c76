package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/iryndin/limitron/limiter"
)

// options carries the functional-options configuration shared by Middleware
// and the two disciplines built on top of it.
type options struct {
	failFast bool
	logger   zerolog.Logger
}

// Option configures a Middleware or discipline at construction time.
type Option func(*options)

// WithFailFast makes Ready return a *RateLimitedError immediately on
// rejection instead of blocking the caller until capacity frees up. The
// retry-oriented disciplines enable this themselves; set it directly only
// when embedding Middleware on its own.
func WithFailFast(failFast bool) Option {
	return func(o *options) { o.failFast = failFast }
}

// WithLogger attaches a zerolog.Logger for diagnostic events (admission
// rejections, retries, shed requests). The default is zerolog.Nop(): the
// limiter package itself never logs, and Middleware stays silent unless a
// caller opts in.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func newOptions(opts []Option) options {
	o := options{logger: zerolog.Nop()}
	for _, apply := range opts {
		apply(&o)
	}
	return o
}

// Middleware checks an inner Service's own readiness before consuming a
// permit from a shared limiter.Strategy. It is the Go analogue of
// RateLimitService: the lowest-level layer both disciplines build on, not
// meant to be used bare except in tests or very simple call sites.
type Middleware[Req, Resp any] struct {
	strategy limiter.Strategy
	inner    Service[Req, Resp]
	opts     options
}

// New wraps inner with rate limiting governed by strategy. Multiple
// Middleware instances may share the same strategy to rate-limit a common
// resource pool from several call sites at once.
func New[Req, Resp any](strategy limiter.Strategy, inner Service[Req, Resp], opts ...Option) *Middleware[Req, Resp] {
	return &Middleware[Req, Resp]{
		strategy: strategy,
		inner:    inner,
		opts:     newOptions(opts),
	}
}

// Ready checks the inner service's own readiness first, and only then
// consults the strategy. Checking downstream readiness before consuming a
// permit avoids spending a permit that would then just block or fail on
// an unready downstream: a rejected Ready here never takes anything out
// of the strategy's budget. On strategy rejection, Ready either fails
// fast with a *RateLimitedError, or blocks until the strategy's retry
// hint elapses and tries the whole check again, depending on
// WithFailFast.
func (m *Middleware[Req, Resp]) Ready(ctx context.Context) error {
	for {
		if err := m.inner.Ready(ctx); err != nil {
			return err
		}

		decision := m.strategy.Process()
		if decision.Admitted {
			return nil
		}

		m.opts.logger.Debug().
			Dur("retry_after", decision.RetryAfter).
			Bool("fail_fast", m.opts.failFast).
			Msg("rate limit rejected request")

		if m.opts.failFast {
			return &RateLimitedError{RetryAfter: decision.RetryAfter}
		}

		wait := decision.RetryAfter + time.Millisecond
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Call delegates to the inner service. Callers must have observed a nil
// error from Ready first.
func (m *Middleware[Req, Resp]) Call(ctx context.Context, req Req) (Resp, error) {
	resp, err := m.inner.Call(ctx, req)
	if err != nil {
		var rle *RateLimitedError
		var ie *InnerError
		if !errors.As(err, &rle) && !errors.As(err, &ie) {
			err = &InnerError{Err: err}
		}
	}
	return resp, err
}

// Do is Ready followed by Call, the single-method shape most callers want.
func (m *Middleware[Req, Resp]) Do(ctx context.Context, req Req) (Resp, error) {
	if err := m.Ready(ctx); err != nil {
		var zero Resp
		return zero, err
	}
	return m.Call(ctx, req)
}
