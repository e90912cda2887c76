package limiter

import (
	"sync/atomic"
	"time"
)

// FixedWindow counts admissions in a fixed-length, anchor-aligned bucket
// and resets the counter atomically at each window boundary.
//
// Over any window [k*interval, (k+1)*interval) the number of Admit
// results is bounded by capacity. A request right before a boundary and
// another right after may together admit up to 2*capacity within a
// single interval span — that is by design, not a bug: the alternative
// (a rolling "now + interval" boundary) avoids the double-burst but
// drifts under idle re-anchoring, which this package does not accept.
type FixedWindow struct {
	capacity int64
	interval int64

	remaining atomic.Int64
	expires   atomic.Int64

	clock Clock
}

// NewFixedWindow returns a FixedWindow admitting up to capacity requests
// per interval, using the default monotonic clock.
func NewFixedWindow(capacity int, interval time.Duration) *FixedWindow {
	return NewFixedWindowWithClock(capacity, interval, NewMonotonicClock())
}

// NewFixedWindowWithClock is NewFixedWindow with an injectable Clock,
// used by tests that need deterministic time.
func NewFixedWindowWithClock(capacity int, interval time.Duration, clock Clock) *FixedWindow {
	if capacity <= 0 {
		panic("limiter: FixedWindow capacity must be positive")
	}
	if interval <= 0 {
		panic("limiter: FixedWindow interval must be positive")
	}

	fw := &FixedWindow{
		capacity: int64(capacity),
		interval: interval.Nanoseconds(),
		clock:    clock,
	}
	fw.remaining.Store(fw.capacity)
	// expires starts at 0 so the very first Process call always sees
	// now >= expires and rotates into the window actually containing now,
	// rather than assuming the process started at nanosecond 0.
	return fw
}

func (fw *FixedWindow) Process() Decision {
	now := int64(fw.clock.Now())
	expires := fw.expires.Load()

	if now >= expires {
		nextExpires := (now/fw.interval + 1) * fw.interval
		if fw.expires.CompareAndSwap(expires, nextExpires) {
			fw.remaining.Store(fw.capacity)
			expires = nextExpires
		} else {
			// Lost the rotation race: another goroutine already rotated.
			// Re-read so the remaining decrement below sees fresh state.
			expires = fw.expires.Load()
		}
	}

	for spins := 0; ; spins++ {
		if spins >= spinCap {
			gosched()
		}
		v := fw.remaining.Load()
		if v <= 0 {
			return Reject(time.Duration(expires - now))
		}
		if fw.remaining.CompareAndSwap(v, v-1) {
			return Admit()
		}
	}
}

// remainingForTest exposes the current remaining-count estimate for
// white-box tests in this package; it performs no synchronization beyond
// the single atomic load and is not part of the public API.
func (fw *FixedWindow) remainingForTest() int64 {
	return fw.remaining.Load()
}
