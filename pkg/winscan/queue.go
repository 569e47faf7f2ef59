package winscan

import "time"

// entry is one in-window item: the value plus the ingestion timestamp assigned
// from the scheduler clock.
type entry[T any] struct {
	at  time.Time
	val T
}

// entryQueue is an append-at-tail, pop-at-head queue over a head-indexed
// slice. Insertion order is arrival order is timestamp order; only the two
// ends are ever touched, so expiring k entries costs O(k) regardless of queue
// size. The backing slice is compacted once the dead prefix dominates.
type entryQueue[T any] struct {
	buf  []entry[T]
	head int
}

func (q *entryQueue[T]) Push(e entry[T]) {
	q.buf = append(q.buf, e)
}

func (q *entryQueue[T]) Len() int {
	return len(q.buf) - q.head
}

func (q *entryQueue[T]) Empty() bool {
	return q.head >= len(q.buf)
}

func (q *entryQueue[T]) Front() (entry[T], bool) {
	if q.Empty() {
		return entry[T]{}, false
	}
	return q.buf[q.head], true
}

func (q *entryQueue[T]) PopFront() (entry[T], bool) {
	if q.Empty() {
		return entry[T]{}, false
	}
	e := q.buf[q.head]
	q.buf[q.head] = entry[T]{} // release the value for GC
	q.head++
	q.maybeCompact()
	return e, true
}

func (q *entryQueue[T]) Reset() {
	q.buf = nil
	q.head = 0
}

func (q *entryQueue[T]) maybeCompact() {
	if q.head < 4096 {
		return
	}
	if q.head*2 < len(q.buf) {
		return
	}
	n := len(q.buf) - q.head
	newBuf := make([]entry[T], n)
	copy(newBuf, q.buf[q.head:])
	q.buf = newBuf
	q.head = 0
}
