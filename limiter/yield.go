package limiter

import "runtime"

// gosched yields the current goroutine's processor once a CAS loop has
// spun past spinCap attempts, so a contended strategy degrades to
// cooperative scheduling instead of burning a core under oversubscription.
func gosched() {
	runtime.Gosched()
}
