package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    2 * time.Millisecond,
	}
}

func TestDo_SucceedsAfterRetries(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	boom := errors.New("still broken")
	calls := 0

	err := Do(context.Background(), fastPolicy(), func(context.Context) error {
		calls++
		return boom
	})

	assert.Equal(t, boom, err)
	assert.Equal(t, 3, calls)
}

func TestDo_FatalStopsImmediately(t *testing.T) {
	fatal := errors.New("bad request")
	p := fastPolicy()
	p.Classify = func(err error) Class {
		if errors.Is(err, fatal) {
			return Fatal
		}
		return Retryable
	}

	calls := 0
	err := Do(context.Background(), p, func(context.Context) error {
		calls++
		return fatal
	})

	assert.Equal(t, fatal, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelStopsWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	p := Policy{MaxAttempts: 5, BaseDelay: time.Hour, MaxDelay: time.Hour}
	errCh := make(chan error, 1)
	go func() {
		errCh <- Do(ctx, p, func(context.Context) error {
			return errors.New("transient")
		})
	}()

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Do did not return after cancel")
	}
}

func TestBackoff_CapsAndSurvivesShiftWrap(t *testing.T) {
	p := Policy{BaseDelay: time.Second, MaxDelay: 30 * time.Second}

	assert.Equal(t, time.Second, p.backoff(1))
	assert.Equal(t, 16*time.Second, p.backoff(5))
	assert.Equal(t, 30*time.Second, p.backoff(6))
	// Deep into shift-wrap territory the cap still holds.
	assert.Equal(t, 30*time.Second, p.backoff(80))
}

func TestDo_OnRetryObservesBackoff(t *testing.T) {
	var waits []time.Duration
	p := Policy{
		MaxAttempts: 4,
		BaseDelay:   time.Millisecond,
		MaxDelay:    100 * time.Millisecond,
		OnRetry: func(_ int, wait time.Duration, _ error) {
			waits = append(waits, wait)
		},
	}

	_ = Do(context.Background(), p, func(context.Context) error {
		return errors.New("transient")
	})

	require.Len(t, waits, 3)
	assert.Equal(t, time.Millisecond, waits[0])
	assert.Equal(t, 2*time.Millisecond, waits[1])
	assert.Equal(t, 4*time.Millisecond, waits[2])
}
