package sched

import (
	"sync/atomic"
	"time"
)

// Wall is a Scheduler backed by the real clock and runtime timers.
type Wall struct {
	stopped atomic.Bool
}

var _ Scheduler = (*Wall)(nil)

func NewWall() *Wall { return &Wall{} }

func (w *Wall) Now() time.Time { return time.Now() }

func (w *Wall) AfterFunc(d time.Duration, fn func()) Timer {
	if w.stopped.Load() {
		return nil
	}
	if d < 0 {
		d = 0
	}
	return wallTimer{t: time.AfterFunc(d, fn)}
}

// Stop puts the scheduler in its terminal state: AfterFunc returns nil from
// now on. Timers already handed out are not canceled; their holders own them.
func (w *Wall) Stop() { w.stopped.Store(true) }

type wallTimer struct {
	t *time.Timer
}

func (t wallTimer) Stop() bool { return t.t.Stop() }
