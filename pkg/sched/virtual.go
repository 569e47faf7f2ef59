package sched

import (
	"container/heap"
	"sync"
	"time"
)

// Virtual is a Scheduler with a manually advanced clock. Time moves only
// through AdvanceTo/AdvanceBy, which fire due callbacks synchronously on the
// calling goroutine, in (due time, schedule order) order. A callback observes
// Now() equal to its own due time, so a callback that re-arms itself for a
// later instant fires again within the same Advance call if still due.
type Virtual struct {
	mu      sync.Mutex
	now     time.Time
	seq     uint64
	tasks   vtaskHeap
	stopped bool
}

var _ Scheduler = (*Virtual)(nil)

// NewVirtual starts the clock at the Unix epoch, which keeps relative
// timestamps in tests readable.
func NewVirtual() *Virtual { return NewVirtualAt(time.Unix(0, 0).UTC()) }

func NewVirtualAt(start time.Time) *Virtual { return &Virtual{now: start} }

func (v *Virtual) Now() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

func (v *Virtual) AfterFunc(d time.Duration, fn func()) Timer {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.stopped {
		return nil
	}
	if d < 0 {
		d = 0
	}
	t := &vtask{v: v, at: v.now.Add(d), seq: v.seq, fn: fn}
	v.seq++
	heap.Push(&v.tasks, t)
	return t
}

// Stop puts the scheduler in its terminal state: pending tasks are dropped and
// AfterFunc returns nil from now on.
func (v *Virtual) Stop() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stopped = true
	v.tasks = nil
}

// PendingTimers reports how many scheduled callbacks are outstanding.
func (v *Virtual) PendingTimers() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	n := 0
	for _, t := range v.tasks {
		if !t.done {
			n++
		}
	}
	return n
}

func (v *Virtual) AdvanceBy(d time.Duration) { v.AdvanceTo(v.Now().Add(d)) }

// AdvanceTo moves the clock to t, firing every callback due at or before t.
// Callbacks run outside the scheduler lock, so they may call AfterFunc, Stop
// timers, or read Now.
func (v *Virtual) AdvanceTo(t time.Time) {
	for {
		v.mu.Lock()
		for len(v.tasks) > 0 && v.tasks[0].done {
			heap.Pop(&v.tasks)
		}
		if v.stopped || len(v.tasks) == 0 || v.tasks[0].at.After(t) {
			if t.After(v.now) {
				v.now = t
			}
			v.mu.Unlock()
			return
		}
		task := heap.Pop(&v.tasks).(*vtask)
		task.done = true
		if task.at.After(v.now) {
			v.now = task.at
		}
		fn := task.fn
		v.mu.Unlock()

		fn()
	}
}

type vtask struct {
	v    *Virtual
	at   time.Time
	seq  uint64
	fn   func()
	done bool
}

func (t *vtask) Stop() bool {
	t.v.mu.Lock()
	defer t.v.mu.Unlock()
	if t.done {
		return false
	}
	// Lazy removal: the task stays in the heap and is skipped when it
	// surfaces.
	t.done = true
	return true
}

type vtaskHeap []*vtask

func (h vtaskHeap) Len() int { return len(h) }

func (h vtaskHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].seq < h[j].seq
	}
	return h[i].at.Before(h[j].at)
}

func (h vtaskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *vtaskHeap) Push(x any) { *h = append(*h, x.(*vtask)) }

func (h *vtaskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}
