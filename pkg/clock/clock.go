// Package clock abstracts wall-clock reads and timer scheduling so the
// lock manager and registry can be tested with simulated time instead
// of sleeps.
package clock

import (
	"time"
)

// Clock provides the current time and one-shot timers.
type Clock interface {
	Now() time.Time
	// AfterFunc schedules f to run after d and returns a handle that
	// can stop it.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending scheduled call.
type Timer interface {
	// Stop prevents the call from firing. It reports whether the
	// call was stopped before it ran.
	Stop() bool
}

type realClock struct{}

// New returns a Clock backed by the runtime's timers.
func New() Clock {
	return realClock{}
}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return realTimer{t: time.AfterFunc(d, f)}
}

type realTimer struct {
	t *time.Timer
}

func (r realTimer) Stop() bool { return r.t.Stop() }
