package limiter

import (
	"sync/atomic"
	"time"
)

// GCRA implements the Generic Cell Rate Algorithm: a request is admitted
// iff its Theoretical Arrival Time (TAT), after update, would not exceed
// now + delayTolerance. It is equivalent to a token bucket with capacity
// delayTolerance/emissionInterval and rate 1/emissionInterval, expressed
// as a single scalar instead of a counter pair.
type GCRA struct {
	emissionIntervalNs int64
	delayToleranceNs   int64

	tat atomic.Int64

	clock Clock
}

// NewGCRA returns a GCRA admitting bursts of up to limit back-to-back
// requests per period, using the default monotonic clock.
func NewGCRA(limit int, period time.Duration) *GCRA {
	return NewGCRAWithClock(limit, period, NewMonotonicClock())
}

// NewGCRAWithClock is NewGCRA with an injectable Clock.
func NewGCRAWithClock(limit int, period time.Duration, clock Clock) *GCRA {
	if limit <= 0 {
		panic("limiter: GCRA limit must be positive")
	}
	if period <= 0 {
		panic("limiter: GCRA period must be positive")
	}

	periodNs := period.Nanoseconds()
	return &GCRA{
		emissionIntervalNs: periodNs / int64(limit),
		delayToleranceNs:   periodNs,
		clock:              clock,
	}
}

func (g *GCRA) Process() Decision {
	now := int64(g.clock.Now())

	for spins := 0; ; spins++ {
		if spins >= spinCap {
			gosched()
		}

		tat := g.tat.Load()

		arrival := now
		if tat > now {
			arrival = tat
		}
		nextTAT := arrival + g.emissionIntervalNs

		// Strict '>' rejects the slot that would push the bucket one
		// unit past tolerance, capping burst at exactly `limit`
		// back-to-back admissions.
		if nextTAT > now+g.delayToleranceNs {
			waitNs := nextTAT - (now + g.delayToleranceNs)
			return Reject(time.Duration(waitNs))
		}

		if g.tat.CompareAndSwap(tat, nextTAT) {
			return Admit()
		}
	}
}

// remainingForTest reports how many back-to-back requests could still
// be admitted right now, for white-box tests in this package.
func (g *GCRA) remainingForTest() int64 {
	now := int64(g.clock.Now())
	tat := g.tat.Load()

	totalCapacity := g.delayToleranceNs / g.emissionIntervalNs
	if tat <= now {
		return totalCapacity
	}

	diff := tat - now
	usedSlots := (diff + g.emissionIntervalNs - 1) / g.emissionIntervalNs
	if usedSlots >= totalCapacity {
		return 0
	}
	return totalCapacity - usedSlots
}
