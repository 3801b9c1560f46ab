package logx

import (
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Throttle bounds how often a hot-path call site may log.
//
// The tick loop and the output dispatcher run tens of times per second; a
// persistent fault there would otherwise flood every sink. Suppressed calls
// are counted and reported on the next allowed one.
type Throttle struct {
	lim        *rate.Limiter
	suppressed atomic.Uint64
}

// NewThrottle allows one event per every, with a burst of 1.
func NewThrottle(every time.Duration) *Throttle {
	if every <= 0 {
		every = 5 * time.Second
	}
	return &Throttle{lim: rate.NewLimiter(rate.Every(every), 1)}
}

// Allow reports whether the caller may log now and how many calls were
// suppressed since the last allowed one.
func (t *Throttle) Allow() (bool, uint64) {
	if t == nil {
		return true, 0
	}
	if !t.lim.Allow() {
		t.suppressed.Add(1)
		return false, 0
	}
	return true, t.suppressed.Swap(0)
}
