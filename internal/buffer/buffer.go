// Package buffer provides the fixed-capacity FIFO that sits between broker
// ingestion and the drain worker.
package buffer

import (
	"fmt"
	"sync"
)

// Queue is a bounded FIFO with a drop-oldest overflow policy. Push never
// blocks: when the queue is full the head is evicted to make room. Any number
// of goroutines may push; a single consumer pops.
type Queue[T any] struct {
	mu      sync.Mutex
	items   []T
	head    int
	size    int
	dropped uint64

	ready chan struct{}
}

func New[T any](capacity int) (*Queue[T], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("buffer: capacity must be positive, got %d", capacity)
	}
	return &Queue[T]{
		items: make([]T, capacity),
		ready: make(chan struct{}, 1),
	}, nil
}

// Push appends v at the tail. It reports true when the oldest element had to
// be evicted to admit v.
func (q *Queue[T]) Push(v T) (evicted bool) {
	q.mu.Lock()
	c := len(q.items)
	if q.size == c {
		var zero T
		q.items[q.head] = zero
		q.head = (q.head + 1) % c
		q.size--
		q.dropped++
		evicted = true
	}
	q.items[(q.head+q.size)%c] = v
	q.size++
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return evicted
}

// PopFront removes and returns the head. ok is false when the queue is empty.
func (q *Queue[T]) PopFront() (v T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.size == 0 {
		return v, false
	}
	return q.popLocked(), true
}

// PopBatch removes up to limit elements from the head, in order. limit <= 0
// takes everything currently queued.
func (q *Queue[T]) PopBatch(limit int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.size
	if limit > 0 && limit < n {
		n = limit
	}
	if n == 0 {
		return nil
	}
	out := make([]T, n)
	for i := range out {
		out[i] = q.popLocked()
	}
	return out
}

// must be called with q.mu held and q.size > 0
func (q *Queue[T]) popLocked() T {
	var zero T
	v := q.items[q.head]
	q.items[q.head] = zero
	q.head = (q.head + 1) % len(q.items)
	q.size--
	return v
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

func (q *Queue[T]) Cap() int { return len(q.items) }

// Dropped is the number of elements evicted by overflow since creation.
func (q *Queue[T]) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Ready is signalled after every Push. Signals coalesce: one pending
// notification may stand for many pushes, so a consumer woken by Ready must
// drain until empty rather than pop once.
func (q *Queue[T]) Ready() <-chan struct{} { return q.ready }
