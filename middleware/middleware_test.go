package middleware

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iryndin/limitron/limiter"
)

// fakeService is a minimal Service test double with controllable readiness
// and call behavior, used across this package's tests.
type fakeService struct {
	readyErr   error
	readyDelay time.Duration
	callResp   int
	callErr    error

	readyCalls int32
	callCalls  int32
}

func (s *fakeService) Ready(ctx context.Context) error {
	atomic.AddInt32(&s.readyCalls, 1)
	if s.readyDelay > 0 {
		select {
		case <-time.After(s.readyDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.readyErr
}

func (s *fakeService) Call(ctx context.Context, req int) (int, error) {
	atomic.AddInt32(&s.callCalls, 1)
	if s.callErr != nil {
		return 0, s.callErr
	}
	return s.callResp, nil
}

func TestMiddleware_DelegatesOnAdmission(t *testing.T) {
	fw := limiter.NewFixedWindow(10, time.Minute)
	inner := &fakeService{callResp: 42}
	mw := New[int, int](fw, inner)

	resp, err := mw.Do(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, 42, resp)
	require.EqualValues(t, 1, inner.readyCalls)
	require.EqualValues(t, 1, inner.callCalls)
}

func TestMiddleware_FailFastReturnsRateLimited(t *testing.T) {
	fw := limiter.NewFixedWindow(1, time.Hour)
	inner := &fakeService{callResp: 1}
	mw := New[int, int](fw, inner, WithFailFast(true))

	_, err := mw.Do(context.Background(), 1)
	require.NoError(t, err)

	_, err = mw.Do(context.Background(), 1)
	require.Error(t, err)
	var rle *RateLimitedError
	require.True(t, errors.As(err, &rle))
	require.Greater(t, rle.RetryAfter, time.Duration(0))
}

func TestMiddleware_BlocksUntilAdmittedWithoutFailFast(t *testing.T) {
	fw := limiter.NewFixedWindow(1, 5*time.Millisecond)
	inner := &fakeService{callResp: 1}
	mw := New[int, int](fw, inner)

	_, err := mw.Do(context.Background(), 1)
	require.NoError(t, err)

	start := time.Now()
	_, err = mw.Do(context.Background(), 1)
	elapsed := time.Since(start)

	require.NoError(t, err)
	require.Less(t, elapsed, 200*time.Millisecond, "should admit shortly after the window rotates, not hang")
}

func TestMiddleware_WrapsInnerErrors(t *testing.T) {
	fw := limiter.NewFixedWindow(10, time.Minute)
	boom := errors.New("boom")
	inner := &fakeService{callErr: boom}
	mw := New[int, int](fw, inner)

	_, err := mw.Do(context.Background(), 1)
	require.Error(t, err)
	var ie *InnerError
	require.True(t, errors.As(err, &ie))
	require.ErrorIs(t, err, boom)
}

func TestMiddleware_DownstreamNotReadyDoesNotConsumePermit(t *testing.T) {
	fw := limiter.NewFixedWindow(1, time.Hour)
	downstreamErr := errors.New("downstream not ready")
	inner := &fakeService{readyErr: downstreamErr}
	mw := New[int, int](fw, inner)

	err := mw.Ready(context.Background())
	require.ErrorIs(t, err, downstreamErr)

	// The strategy must never have been consulted: its one permit is
	// still available for a caller whose downstream actually is ready.
	require.True(t, fw.Process().Admitted, "a rejected downstream readiness check must not have spent the strategy's permit")
}

func TestMiddleware_ReadyRespectsContextCancellation(t *testing.T) {
	fw := limiter.NewFixedWindow(1, time.Hour)
	inner := &fakeService{callResp: 1}
	mw := New[int, int](fw, inner)

	_, err := mw.Do(context.Background(), 1)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	err = mw.Ready(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
