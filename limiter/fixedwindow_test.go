package limiter

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFixedWindow_EnforcesLimit(t *testing.T) {
	clock := NewManualClock()
	fw := NewFixedWindowWithClock(1, 10*time.Millisecond, clock)

	require.True(t, fw.Process().Admitted)
	require.False(t, fw.Process().Admitted)

	clock.Advance(10 * time.Millisecond)
	require.True(t, fw.Process().Admitted)
}

func TestFixedWindow_BoundaryBurstIsAllowedByDesign(t *testing.T) {
	// Consuming the full capacity right before a boundary and again
	// right after admits up to 2*capacity within one interval span.
	clock := NewManualClock()
	fw := NewFixedWindowWithClock(5, 10*time.Millisecond, clock)

	for i := 0; i < 5; i++ {
		require.True(t, fw.Process().Admitted)
	}
	require.False(t, fw.Process().Admitted)

	clock.Advance(10 * time.Millisecond)
	for i := 0; i < 5; i++ {
		require.True(t, fw.Process().Admitted, "boundary burst slot %d", i)
	}
	require.False(t, fw.Process().Admitted)
}

func TestFixedWindow_IdleReanchoringDoesNotDrift(t *testing.T) {
	clock := NewManualClock()
	interval := 10 * time.Millisecond
	fw := NewFixedWindowWithClock(1, interval, clock)

	require.True(t, fw.Process().Admitted)

	clock.Advance(10 * interval)

	require.True(t, fw.Process().Admitted, "should re-anchor and admit after a long idle period")

	now := int64(clock.Now())
	expires := fw.expires.Load()
	require.Greater(t, expires, now, "next boundary must be strictly in the future, not still in the past")
}

func TestFixedWindow_RecoversAfterFullInterval(t *testing.T) {
	clock := NewManualClock()
	fw := NewFixedWindowWithClock(3, 50*time.Millisecond, clock)

	for i := 0; i < 3; i++ {
		require.True(t, fw.Process().Admitted)
	}
	require.False(t, fw.Process().Admitted)

	clock.Advance(50 * time.Millisecond)
	require.True(t, fw.Process().Admitted)
}

func TestFixedWindow_ParallelAdmissionCapIsExact(t *testing.T) {
	clock := NewManualClock()
	const capacity = 100
	fw := NewFixedWindowWithClock(capacity, time.Second, clock)

	var admitted int64
	var wg sync.WaitGroup
	wg.Add(capacity + 10)
	for i := 0; i < capacity+10; i++ {
		go func() {
			defer wg.Done()
			if fw.Process().Admitted {
				atomic.AddInt64(&admitted, 1)
			}
		}()
	}
	wg.Wait()

	require.EqualValues(t, capacity, admitted)
}

func TestFixedWindow_RetryAfterHintIsPositiveUnderRejection(t *testing.T) {
	clock := NewManualClock()
	fw := NewFixedWindowWithClock(1, 20*time.Millisecond, clock)

	require.True(t, fw.Process().Admitted)
	d := fw.Process()
	require.False(t, d.Admitted)
	require.Greater(t, d.RetryAfter, time.Duration(0))
	require.LessOrEqual(t, d.RetryAfter, 20*time.Millisecond)
}

func TestFixedWindow_RemainingForTestTracksExhaustion(t *testing.T) {
	clock := NewManualClock()
	fw := NewFixedWindowWithClock(3, 10*time.Millisecond, clock)

	require.EqualValues(t, 3, fw.remainingForTest())

	require.True(t, fw.Process().Admitted)
	require.EqualValues(t, 2, fw.remainingForTest())

	require.True(t, fw.Process().Admitted)
	require.True(t, fw.Process().Admitted)
	require.EqualValues(t, 0, fw.remainingForTest())

	require.False(t, fw.Process().Admitted)
	require.EqualValues(t, 0, fw.remainingForTest(), "a rejected Process must not drive remaining negative")

	clock.Advance(10 * time.Millisecond)
	require.True(t, fw.Process().Admitted)
	require.EqualValues(t, 2, fw.remainingForTest(), "rotation must restore the full capacity")
}

func TestFixedWindow_ConstructorPanicsOnInvalidInput(t *testing.T) {
	require.Panics(t, func() { NewFixedWindow(0, time.Second) })
	require.Panics(t, func() { NewFixedWindow(1, 0) })
}
