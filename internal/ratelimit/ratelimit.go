// Package ratelimit coalesces bursts of calls into at most one execution per
// interval. Dropped calls are not queued or delayed.
package ratelimit

import (
	"time"

	"github.com/coder/quartz"
	"golang.org/x/time/rate"
)

// Limiter lets a call through at most once per interval. The zero value is
// not usable; construct with New.
type Limiter struct {
	clock quartz.Clock
	lim   *rate.Limiter
}

// New creates a limiter that allows one execution per every. The first call
// always executes.
func New(clock quartz.Clock, every time.Duration) *Limiter {
	return &Limiter{
		clock: clock,
		lim:   rate.NewLimiter(rate.Every(every), 1),
	}
}

// Allow reports whether a call may execute now. A true result counts as an
// execution; a false one leaves the limiter untouched.
func (l *Limiter) Allow() bool {
	return l.lim.AllowN(l.clock.Now(), 1)
}

// Wrap returns fn guarded by l. Calls that arrive too soon after the last
// executed call are dropped.
func Wrap[T any](l *Limiter, fn func(T)) func(T) {
	return func(v T) {
		if l.Allow() {
			fn(v)
		}
	}
}
