package stream

import "context"

// Drain pushes every value received from in into o. It blocks until in is
// closed (completion) or ctx is canceled (treated as a graceful stop, also
// completion). Run it on its own goroutine when the producer side is a
// channel, e.g. a consumer-group handler.
func Drain[T any](ctx context.Context, in <-chan T, o Observer[T]) {
	for {
		select {
		case <-ctx.Done():
			o.OnComplete()
			return
		case v, ok := <-in:
			if !ok {
				o.OnComplete()
				return
			}
			o.OnNext(v)
		}
	}
}
