package limiter

import (
	"sync/atomic"
	"time"
)

// SlidingWindow approximates a true sliding window by blending the
// previous fixed window's count into the current one, weighted by how
// much of the previous window is still "in view":
//
//	estimate = previous_count * weight + current_count
//	weight   = 1 - (time_into_current_window / period)
//
// Over any interval of length period the number of Admit results stays
// close to capacity without the boundary double-burst FixedWindow
// accepts, at the cost of being an estimate rather than an exact count.
type SlidingWindow struct {
	capacity int64
	periodNs int64

	boundary atomic.Int64 // start of the current fixed window, anchor-relative ns
	counts   atomic.Uint64 // packed (previous_count uint32, current_count uint32)

	clock Clock
}

// NewSlidingWindow returns a SlidingWindow admitting up to capacity
// requests per period, using the default monotonic clock.
func NewSlidingWindow(capacity int, period time.Duration) *SlidingWindow {
	return NewSlidingWindowWithClock(capacity, period, NewMonotonicClock())
}

// NewSlidingWindowWithClock is NewSlidingWindow with an injectable Clock.
func NewSlidingWindowWithClock(capacity int, period time.Duration, clock Clock) *SlidingWindow {
	if capacity <= 0 {
		panic("limiter: SlidingWindow capacity must be positive")
	}
	if period <= 0 {
		panic("limiter: SlidingWindow period must be positive")
	}
	return &SlidingWindow{
		capacity: int64(capacity),
		periodNs: period.Nanoseconds(),
		clock:    clock,
	}
}

func (sw *SlidingWindow) Process() Decision {
	now := int64(sw.clock.Now())
	boundary := sw.boundary.Load()

	if now >= boundary+sw.periodNs {
		newBoundary := (now / sw.periodNs) * sw.periodNs

		if sw.boundary.CompareAndSwap(boundary, newBoundary) {
			// Winner of the rotation race decides the new counts. If at
			// least two full periods elapsed since the old boundary, the
			// previous window has nothing left to contribute.
			var prevCount uint32
			if now < boundary+2*sw.periodNs {
				_, prevCount = unpackUint32Pair(sw.counts.Load())
			}
			sw.counts.Store(packUint32Pair(prevCount, 0))
			boundary = newBoundary
		} else {
			boundary = sw.boundary.Load()
		}
	}

	elapsedInWindow := now - boundary
	weight := float64(sw.periodNs-elapsedInWindow) / float64(sw.periodNs)
	if weight < 0 {
		weight = 0
	} else if weight > 1 {
		weight = 1
	}

	for spins := 0; ; spins++ {
		if spins >= spinCap {
			gosched()
		}
		packed := sw.counts.Load()
		prevCount, currCount := unpackUint32Pair(packed)

		estimate := float64(prevCount)*weight + float64(currCount)
		if estimate >= float64(sw.capacity) {
			return Reject(sw.retryAfter(estimate, float64(prevCount)))
		}

		next := packUint32Pair(prevCount, currCount+1)
		if sw.counts.CompareAndSwap(packed, next) {
			return Admit()
		}
	}
}

// retryAfter estimates how long until the weighted estimate drops below
// capacity. If the previous window has already fully decayed away, the
// only way to shed load is for the current window to end.
func (sw *SlidingWindow) retryAfter(estimate, prevCount float64) time.Duration {
	if prevCount == 0 {
		now := int64(sw.clock.Now())
		boundary := sw.boundary.Load()
		return time.Duration(boundary + sw.periodNs - now)
	}

	missing := estimate - float64(sw.capacity)
	waitNs := (missing*float64(sw.periodNs))/prevCount + float64(time.Millisecond)
	return time.Duration(waitNs)
}

// remainingForTest returns (previous_count, current_count) for white-box
// tests in this package.
func (sw *SlidingWindow) remainingForTest() (prev, curr uint32) {
	return unpackUint32Pair(sw.counts.Load())
}
