package stream

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type record[T any] struct {
	values    []T
	err       error
	completed bool
}

func (r *record[T]) OnNext(v T)        { r.values = append(r.values, v) }
func (r *record[T]) OnError(err error) { r.err = err }
func (r *record[T]) OnComplete()       { r.completed = true }

func TestSubject_Multicast(t *testing.T) {
	s := NewSubject[int]()
	a := &record[int]{}
	b := &record[int]{}

	s.Subscribe(a)
	s.OnNext(1)
	s.Subscribe(b)
	s.OnNext(2)

	assert.Equal(t, []int{1, 2}, a.values)
	assert.Equal(t, []int{2}, b.values)
}

func TestSubject_UnsubscribeStopsDelivery(t *testing.T) {
	s := NewSubject[int]()
	a := &record[int]{}

	sub := s.Subscribe(a)
	s.OnNext(1)
	sub.Unsubscribe()
	sub.Unsubscribe() // idempotent
	s.OnNext(2)

	assert.Equal(t, []int{1}, a.values)
	assert.False(t, a.completed)
}

func TestSubject_TerminalLatching(t *testing.T) {
	boom := errors.New("boom")

	s := NewSubject[int]()
	a := &record[int]{}
	s.Subscribe(a)

	s.OnError(boom)
	s.OnNext(3)       // ignored after terminal
	s.OnComplete()    // ignored after terminal
	s.OnError(errors.New("other"))

	assert.Equal(t, boom, a.err)
	assert.Empty(t, a.values)
	assert.False(t, a.completed)

	// late subscriber gets the terminal replayed synchronously
	late := &record[int]{}
	s.Subscribe(late)
	assert.Equal(t, boom, late.err)
}

func TestSubject_CompleteReplayedToLateSubscriber(t *testing.T) {
	s := NewSubject[int]()
	s.OnComplete()

	late := &record[int]{}
	s.Subscribe(late)
	assert.True(t, late.completed)
}

func TestDrain(t *testing.T) {
	ch := make(chan int, 3)
	ch <- 1
	ch <- 2
	ch <- 3
	close(ch)

	r := &record[int]{}
	Drain(context.Background(), ch, r)

	assert.Equal(t, []int{1, 2, 3}, r.values)
	assert.True(t, r.completed)
}

func TestDrain_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := &record[int]{}
	Drain(ctx, make(chan int), r)

	assert.True(t, r.completed)
	assert.Nil(t, r.err)
}
