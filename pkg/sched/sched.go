// Package sched provides the clock/timer service used by time-driven stream
// operators: a logical "now" plus one-shot callbacks after a delay. The Wall
// scheduler is backed by real time; the Virtual scheduler is a manual clock
// for deterministic tests.
package sched

import "time"

// Timer is a handle to one pending callback.
type Timer interface {
	// Stop cancels the callback. It reports whether it prevented the callback
	// from running.
	Stop() bool
}

// Scheduler reports a logical current time and schedules one-shot callbacks.
type Scheduler interface {
	Now() time.Time

	// AfterFunc arranges for fn to run once, no earlier than d from now.
	// It returns nil once the scheduler has been stopped; callers must treat a
	// nil handle as a scheduler fault.
	AfterFunc(d time.Duration, fn func()) Timer
}
