package stream

import "sync"

// Subject is a hot multicast source: values pushed into it fan out to every
// current subscriber. After a terminal notification the Subject latches; late
// subscribers get the terminal replayed synchronously and nothing else.
//
// Delivery order across subscribers is unspecified. Per subscriber, the
// serialization contract of Stream holds as long as the producer side calls
// OnNext/OnError/OnComplete from one goroutine at a time.
type Subject[T any] struct {
	mu     sync.Mutex
	subs   map[uint64]Observer[T]
	nextID uint64
	done   bool
	err    error
}

var _ Stream[int] = (*Subject[int])(nil)
var _ Observer[int] = (*Subject[int])(nil)

func NewSubject[T any]() *Subject[T] {
	return &Subject[T]{subs: make(map[uint64]Observer[T])}
}

func (s *Subject[T]) Subscribe(o Observer[T]) Subscription {
	s.mu.Lock()
	if s.done {
		err := s.err
		s.mu.Unlock()
		if err != nil {
			o.OnError(err)
		} else {
			o.OnComplete()
		}
		return SubscriptionFunc(nil)
	}
	id := s.nextID
	s.nextID++
	s.subs[id] = o
	s.mu.Unlock()

	// Deleting from the map is naturally idempotent.
	return SubscriptionFunc(func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	})
}

func (s *Subject[T]) OnNext(v T) {
	for _, o := range s.snapshot() {
		o.OnNext(v)
	}
}

func (s *Subject[T]) OnError(err error) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	s.err = err
	obs := collect(s.subs)
	s.subs = nil
	s.mu.Unlock()

	for _, o := range obs {
		o.OnError(err)
	}
}

func (s *Subject[T]) OnComplete() {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	obs := collect(s.subs)
	s.subs = nil
	s.mu.Unlock()

	for _, o := range obs {
		o.OnComplete()
	}
}

// snapshot copies the subscriber set so that callbacks run outside the lock;
// a subscriber may re-enter Subscribe/Unsubscribe from within OnNext.
func (s *Subject[T]) snapshot() []Observer[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return nil
	}
	return collect(s.subs)
}

func collect[T any](m map[uint64]Observer[T]) []Observer[T] {
	out := make([]Observer[T], 0, len(m))
	for _, o := range m {
		out = append(out, o)
	}
	return out
}
