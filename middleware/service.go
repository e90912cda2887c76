package middleware

import "context"

// Service is the two-phase contract a rate-limited component sits in front
// of: Ready reports whether a call would be accepted right now without
// performing any work, and Call actually performs it. Splitting the two
// lets a discipline reject or delay a request before it ever reaches the
// downstream work, the same separation tower::Service's poll_ready/call
// split gives the Rust original — Go has no cooperative poll loop to
// suspend into, so Ready blocks the calling goroutine instead of returning
// Pending.
type Service[Req, Resp any] interface {
	// Ready blocks until the service is willing to accept a call, or ctx is
	// done, or the service permanently refuses (e.g. ErrOverloaded).
	Ready(ctx context.Context) error

	// Call performs the unit of work. Callers must have observed a nil
	// Ready error first; Call does not re-check readiness itself.
	Call(ctx context.Context, req Req) (Resp, error)
}

// ServiceFunc adapts a plain function into a Service whose Ready returns
// immediately, succeeding unless ctx is already done, for wrapping downstream work that has no readiness
// concept of its own (the common case in tests and simple call sites).
type ServiceFunc[Req, Resp any] func(ctx context.Context, req Req) (Resp, error)

func (f ServiceFunc[Req, Resp]) Ready(ctx context.Context) error {
	return ctx.Err()
}

func (f ServiceFunc[Req, Resp]) Call(ctx context.Context, req Req) (Resp, error) {
	return f(ctx, req)
}
