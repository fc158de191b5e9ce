package ingest

import "sync"

// compactThreshold is how many consumed slots a queue tolerates before it
// shifts live items back to the front of its backing slice.
const compactThreshold = 1024

// SampleQueue is an unbounded FIFO of decoded samples. One reader goroutine
// pushes while the caller pops, possibly from another goroutine; both ends
// take the queue's own lock.
type SampleQueue[T any] struct {
	mu    sync.Mutex
	items []T
	head  int
}

// NewSampleQueue returns an empty queue.
func NewSampleQueue[T any]() *SampleQueue[T] {
	return &SampleQueue[T]{}
}

// Push appends v at the tail.
func (q *SampleQueue[T]) Push(v T) {
	q.mu.Lock()
	q.items = append(q.items, v)
	q.mu.Unlock()
}

// Pop removes the head. ok is false when the queue is empty.
func (q *SampleQueue[T]) Pop() (v T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.head == len(q.items) {
		return v, false
	}
	v = q.items[q.head]
	var zero T
	q.items[q.head] = zero
	q.head++

	switch {
	case q.head == len(q.items):
		q.items = q.items[:0]
		q.head = 0
	case q.head >= compactThreshold && q.head*2 >= len(q.items):
		n := copy(q.items, q.items[q.head:])
		q.items = q.items[:n]
		q.head = 0
	}
	return v, true
}

// Dequeue pops the head, or returns the zero sample when the queue is
// empty. It never blocks.
func (q *SampleQueue[T]) Dequeue() T {
	v, _ := q.Pop()
	return v
}

// Len returns the number of queued samples.
func (q *SampleQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// Clear drops every queued sample.
func (q *SampleQueue[T]) Clear() {
	q.mu.Lock()
	q.items = nil
	q.head = 0
	q.mu.Unlock()
}
