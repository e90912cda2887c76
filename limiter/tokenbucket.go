package limiter

import (
	"math"
	"sync/atomic"
	"time"
)

// unitScale is the fixed-point scale factor: one whole token costs
// unitScale units. Representing fractional tokens as integer units lets
// the refill math stay exact under concurrent CAS without locking.
const unitScale = 1_000_000_000

// tokenBucketState is the bucket's state as of lastUpdateNs: units is the
// token count in fixed-point units, fractional remainder included, visible
// at that instant. Both
// fields are replaced together via a single pointer swap so a refill and
// the consumption it enables are never observed half-applied by a
// concurrent caller.
type tokenBucketState struct {
	units        uint64
	lastUpdateNs uint64
}

// TokenBucket refills at a continuous rate (increment/period tokens per
// nanosecond), capped at capacity, and admits a request by consuming
// exactly one whole token. Refill is computed lazily at the instant of
// each Process call rather than by a background timer.
type TokenBucket struct {
	capacityUnits    uint64
	refillUnitsPerNs float64

	state atomic.Pointer[tokenBucketState]

	clock Clock
}

// NewTokenBucket returns a TokenBucket with the given burst capacity,
// refilling at increment tokens per period, using the default monotonic
// clock. The bucket starts full.
func NewTokenBucket(capacity, increment int, period time.Duration) *TokenBucket {
	return NewTokenBucketWithClock(capacity, increment, period, NewMonotonicClock())
}

// NewTokenBucketWithClock is NewTokenBucket with an injectable Clock.
func NewTokenBucketWithClock(capacity, increment int, period time.Duration, clock Clock) *TokenBucket {
	if capacity <= 0 {
		panic("limiter: TokenBucket capacity must be positive")
	}
	if increment <= 0 {
		panic("limiter: TokenBucket increment must be positive")
	}
	if period <= 0 {
		panic("limiter: TokenBucket period must be positive")
	}

	periodNs := period.Nanoseconds()
	var refillRate float64
	if periodNs > 0 {
		refillRate = float64(uint64(increment)*unitScale) / float64(periodNs)
	}

	tb := &TokenBucket{
		capacityUnits:    uint64(capacity) * unitScale,
		refillUnitsPerNs: refillRate,
		clock:            clock,
	}
	tb.state.Store(&tokenBucketState{units: tb.capacityUnits})
	return tb
}

func (tb *TokenBucket) Process() Decision {
	now := tb.clock.Now()

	for spins := 0; ; spins++ {
		if spins > spinCap {
			gosched()
		}

		old := tb.state.Load()

		elapsed := saturatingSub(now, old.lastUpdateNs)
		refill := uint64(float64(elapsed) * tb.refillUnitsPerNs)
		newUnits := min64(tb.capacityUnits, old.units+refill)

		if newUnits < unitScale {
			missing := unitScale - newUnits
			var waitNs uint64
			if tb.refillUnitsPerNs > 0 {
				waitNs = uint64(math.Ceil(float64(missing) / tb.refillUnitsPerNs))
			} else {
				waitNs = unitScale // no refill ever arrives; hint ~1s
			}
			return Reject(time.Duration(waitNs))
		}

		next := &tokenBucketState{units: newUnits - unitScale, lastUpdateNs: now}
		if tb.state.CompareAndSwap(old, next) {
			return Admit()
		}
		// CAS lost by pointer identity, not value: even a refill-and-consume
		// that lands back on the same units/lastUpdateNs another goroutine
		// already wrote cannot spuriously "succeed" here, unlike a CAS on
		// either field alone would when old and new happen to coincide.
	}
}

// remainingForTest returns the currently visible whole-token count for
// white-box tests in this package; it does not itself trigger a refill.
func (tb *TokenBucket) remainingForTest() uint64 {
	return tb.state.Load().units / unitScale
}

func saturatingSub(a, b uint64) uint64 {
	if a < b {
		return 0
	}
	return a - b
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

