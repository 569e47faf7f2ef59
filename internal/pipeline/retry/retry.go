// Package retry wraps transient failures, such as a sink emit hitting a broker
// hiccup, in a classified exponential-backoff loop.
package retry

import (
	"context"
	"math/rand"
	"time"
)

type Class int

const (
	Retryable Class = iota
	Fatal
)

type Policy struct {
	MaxAttempts int           // e.g. 5
	BaseDelay   time.Duration // e.g. 100ms
	MaxDelay    time.Duration // e.g. 5s
	Jitter      time.Duration // e.g. 100ms (<= BaseDelay recommended)

	// Classify decides whether an error is worth another attempt. Nil means
	// every error is Retryable.
	Classify func(error) Class

	// OnRetry is an optional hook for logging/metrics, called before each wait.
	OnRetry func(attempt int, wait time.Duration, err error)
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 100 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 5 * time.Second
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	return p
}

// backoff doubles per attempt up to MaxDelay; the shift can wrap for large
// attempt counts, which the <= 0 check folds into the cap.
func (p Policy) backoff(attempt int) time.Duration {
	wait := p.BaseDelay << (attempt - 1)
	if wait <= 0 || wait > p.MaxDelay {
		wait = p.MaxDelay
	}
	if p.Jitter > 0 {
		wait += time.Duration(rand.Int63n(int64(p.Jitter)))
	}
	return wait
}

// Do runs fn until it succeeds, a Fatal error occurs, attempts run out, or ctx
// is canceled. Exhaustion returns the last error fn produced.
func Do(ctx context.Context, p Policy, fn func(context.Context) error) error {
	p = p.normalized()

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		if p.Classify != nil && p.Classify(err) == Fatal {
			return err
		}
		if attempt >= p.MaxAttempts {
			return err
		}

		wait := p.backoff(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, wait, err)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
