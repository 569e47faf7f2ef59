// Package winscan implements a windowed scan over a push-based stream: every
// arriving item is folded into an accumulation, every item older than the
// window period is folded back out, and the accumulation is re-emitted on both
// kinds of change. A consumer watching "sum over the last 5 minutes" therefore
// sees the sum decay as contributions age out, not only grow as new ones
// arrive.
//
// Each subscription keeps a time-ordered queue of in-window items and at most
// one pending expiry timer, aimed at the oldest item's expiry instant and
// re-armed after each firing. One timer serves the whole queue regardless of
// its size.
package winscan

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chenzhangda16/streamwin/pkg/sched"
	"github.com/chenzhangda16/streamwin/pkg/stream"
)

// ErrSchedulerStopped is delivered downstream when the scheduler refuses to
// arrange an expiry wake-up.
var ErrSchedulerStopped = errors.New("winscan: scheduler stopped")

// Add folds an item into the accumulation. count is the number of in-window
// items including the one just added, so it is always >= 1. Add must be a pure
// function of its inputs.
type Add[A, T any] func(acc A, count int, item T) A

// Remove folds an item back out of the accumulation. count is the number of
// in-window items left after the removal, so it is always >= 0. Remove must be
// a pure function of its inputs.
type Remove[A, T any] func(acc A, count int, item T) A

// Operator is the windowed-scan stream. Each Subscribe creates fully
// independent state: two subscriptions over the same source share nothing, not
// even when they fold the same items.
type Operator[T, A any] struct {
	src    stream.Stream[T]
	seed   A
	add    Add[A, T]
	remove Remove[A, T]
	period time.Duration
	sc     sched.Scheduler
}

var _ stream.Stream[int] = (*Operator[string, int])(nil)

// Scan builds a windowed scan over src: seed is the initial accumulation,
// add/remove the two fold directions, period the trailing window length, and
// sc the clock used both to stamp arrivals and to schedule expiry wake-ups.
// Scan panics on a non-positive period or nil reducers; there is no meaningful
// degraded behavior for either.
func Scan[T, A any](src stream.Stream[T], seed A, add Add[A, T], remove Remove[A, T], period time.Duration, sc sched.Scheduler) *Operator[T, A] {
	if period <= 0 {
		panic("winscan: period must be positive")
	}
	if add == nil || remove == nil {
		panic("winscan: add and remove reducers are required")
	}
	if sc == nil {
		panic("winscan: scheduler is required")
	}
	return &Operator[T, A]{
		src:    src,
		seed:   seed,
		add:    add,
		remove: remove,
		period: period,
		sc:     sc,
	}
}

// ScanSimple is Scan for reducers that do not need the in-window count.
func ScanSimple[T, A any](src stream.Stream[T], seed A, add func(A, T) A, remove func(A, T) A, period time.Duration, sc sched.Scheduler) *Operator[T, A] {
	if add == nil || remove == nil {
		panic("winscan: add and remove reducers are required")
	}
	return Scan(src, seed,
		func(acc A, _ int, item T) A { return add(acc, item) },
		func(acc A, _ int, item T) A { return remove(acc, item) },
		period, sc)
}

func (o *Operator[T, A]) Subscribe(down stream.Observer[A]) stream.Subscription {
	s := &scanSub[T, A]{op: o, down: down, acc: o.seed}

	// Subscribing may deliver a terminal synchronously; in that case the
	// subscription is already disposed by the time Subscribe returns and the
	// upstream handle must not be retained.
	up := o.src.Subscribe(s)
	s.timerMu.Lock()
	if s.disposed.Load() {
		s.timerMu.Unlock()
		up.Unsubscribe()
	} else {
		s.up = up
		s.timerMu.Unlock()
	}
	return s
}

// scanSub is the per-subscription state. Source events and expiry ticks are
// serialized by mu, held for exactly one logical operation and never across a
// scheduled-callback boundary. The pending timer handle and the upstream
// handle live under timerMu so that Unsubscribe can cancel them without mu,
// which keeps disposal safe to call from inside a downstream OnNext.
type scanSub[T, A any] struct {
	op   *Operator[T, A]
	down stream.Observer[A]

	mu    sync.Mutex
	acc   A
	cache entryQueue[T]

	timerMu sync.Mutex
	pending sched.Timer
	up      stream.Subscription

	disposed atomic.Bool
}

var _ stream.Observer[string] = (*scanSub[string, int])(nil)
var _ stream.Subscription = (*scanSub[string, int])(nil)

// OnNext handles one source event: stamp, append, fold in, arm the expiry
// timer, emit the new accumulation.
func (s *scanSub[T, A]) OnNext(v T) {
	s.mu.Lock()
	if s.disposed.Load() {
		s.mu.Unlock()
		return
	}

	s.cache.Push(entry[T]{at: s.op.sc.Now(), val: v})
	acc, err := s.applyAdd(v)
	if err != nil {
		s.failLocked(err)
		return
	}
	s.acc = acc

	if err := s.ensureScheduled(); err != nil {
		s.failLocked(err)
		return
	}

	s.down.OnNext(acc)
	s.mu.Unlock()
}

// OnError forwards a source error verbatim, after teardown.
func (s *scanSub[T, A]) OnError(err error) {
	if !s.disposed.CompareAndSwap(false, true) {
		return
	}
	s.teardown()
	s.down.OnError(err)
}

func (s *scanSub[T, A]) OnComplete() {
	if !s.disposed.CompareAndSwap(false, true) {
		return
	}
	s.teardown()
	s.down.OnComplete()
}

func (s *scanSub[T, A]) Unsubscribe() {
	if !s.disposed.CompareAndSwap(false, true) {
		return
	}
	s.teardown()
}

// onExpiry is the scheduled wake-up: drain every head entry that has aged out
// as of this firing, fold each out oldest-first, re-arm for the next head, and
// emit once for the whole batch.
func (s *scanSub[T, A]) onExpiry() {
	s.mu.Lock()

	// Clear the handle before any removal work so ensureScheduled can arm the
	// next wake-up.
	s.timerMu.Lock()
	s.pending = nil
	s.timerMu.Unlock()

	if s.disposed.Load() {
		s.mu.Unlock()
		return
	}

	cutoff := s.op.sc.Now().Add(-s.op.period)
	removed := 0
	for {
		head, ok := s.cache.Front()
		if !ok || head.at.After(cutoff) {
			break
		}
		s.cache.PopFront()
		acc, err := s.applyRemove(head.val)
		if err != nil {
			s.failLocked(err)
			return
		}
		s.acc = acc
		removed++
	}

	if err := s.ensureScheduled(); err != nil {
		s.failLocked(err)
		return
	}

	if removed > 0 {
		s.down.OnNext(s.acc)
	}
	s.mu.Unlock()
}

// ensureScheduled arms the expiry timer for the head entry's expiry instant.
// Idempotent: a no-op while a timer is pending or the cache is empty. Called
// with mu held.
func (s *scanSub[T, A]) ensureScheduled() error {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	if s.pending != nil || s.disposed.Load() {
		return nil
	}
	head, ok := s.cache.Front()
	if !ok {
		return nil
	}
	delay := head.at.Add(s.op.period).Sub(s.op.sc.Now())
	if delay < 0 {
		// Late wake-up or scheduling latency: fire immediately.
		delay = 0
	}
	t := s.op.sc.AfterFunc(delay, s.onExpiry)
	if t == nil {
		return ErrSchedulerStopped
	}
	s.pending = t
	return nil
}

func (s *scanSub[T, A]) applyAdd(v T) (acc A, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("winscan: add reducer panicked: %v", r)
		}
	}()
	return s.op.add(s.acc, s.cache.Len(), v), nil
}

func (s *scanSub[T, A]) applyRemove(v T) (acc A, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("winscan: remove reducer panicked: %v", r)
		}
	}()
	return s.op.remove(s.acc, s.cache.Len(), v), nil
}

// failLocked terminates the subscription from inside a locked operation:
// reducer fault or scheduler fault. Called with mu held; releases it.
func (s *scanSub[T, A]) failLocked(err error) {
	if !s.disposed.CompareAndSwap(false, true) {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.teardown()
	s.down.OnError(err)
}

// teardown cancels the pending timer, detaches from the source, and drops the
// cached state. Runs at most once, after the disposed flag is set; a scheduled
// callback that fires afterwards observes the flag and does nothing.
func (s *scanSub[T, A]) teardown() {
	s.timerMu.Lock()
	if s.pending != nil {
		s.pending.Stop()
		s.pending = nil
	}
	up := s.up
	s.up = nil
	s.timerMu.Unlock()

	if up != nil {
		up.Unsubscribe()
	}

	// Best effort: if a logical operation is in flight it holds mu and will
	// bail out on the disposed flag; the state is unreachable after it does.
	if s.mu.TryLock() {
		s.cache.Reset()
		var zero A
		s.acc = zero
		s.mu.Unlock()
	}
}
