// Package stream is a minimal push-based stream abstraction: a source delivers
// zero or more values to an Observer, then at most one terminal notification
// (error or completion). Sources must serialize notifications: no two callbacks
// on the same Observer run concurrently.
package stream

// Observer receives the three notification kinds of a stream.
type Observer[T any] interface {
	OnNext(v T)
	OnError(err error)
	OnComplete()
}

// Stream is a push-based source of values.
type Stream[T any] interface {
	// Subscribe attaches o and returns a handle to detach it. A terminal
	// notification may be delivered synchronously from within Subscribe if the
	// source has already terminated.
	Subscribe(o Observer[T]) Subscription
}

// Subscription detaches an observer from its source. Unsubscribe is idempotent.
type Subscription interface {
	Unsubscribe()
}

// Callbacks adapts plain functions to an Observer. Nil fields are no-ops.
type Callbacks[T any] struct {
	Next func(T)
	Err  func(error)
	Done func()
}

func (c Callbacks[T]) OnNext(v T) {
	if c.Next != nil {
		c.Next(v)
	}
}

func (c Callbacks[T]) OnError(err error) {
	if c.Err != nil {
		c.Err(err)
	}
}

func (c Callbacks[T]) OnComplete() {
	if c.Done != nil {
		c.Done()
	}
}

// SubscriptionFunc adapts a func to a Subscription. A nil func is a no-op
// subscription.
type SubscriptionFunc func()

func (f SubscriptionFunc) Unsubscribe() {
	if f != nil {
		f()
	}
}
