package buffer

import (
	"context"
	"sync"
)

// Queue is an unbounded FIFO paired with a counting semaphore. Enqueue
// posts, Dequeue waits. A Queue is meant to have one producer and one
// consumer; Reset may be called from a third party holding the port lock.
type Queue[T any] struct {
	mu    sync.Mutex
	items []T
	// ready holds one token per queued item.
	ready chan struct{}
}

// NewQueue creates an empty Queue.
func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{ready: make(chan struct{}, 1)}
}

// Enqueue appends item and wakes the consumer.
func (q *Queue[T]) Enqueue(item T) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
	q.signal()
}

func (q *Queue[T]) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// TryDequeue pops the head item without blocking.
func (q *Queue[T]) TryDequeue() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	item := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	if len(q.items) > 0 {
		q.signal()
	}
	return item, true
}

// Dequeue blocks until an item is available or ctx is done.
func (q *Queue[T]) Dequeue(ctx context.Context) (T, error) {
	for {
		if item, ok := q.TryDequeue(); ok {
			return item, nil
		}
		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-q.ready:
		}
	}
}

// Ready returns a channel that receives when an item may be available.
func (q *Queue[T]) Ready() <-chan struct{} {
	return q.ready
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Reset drains the queue and brings the semaphore back to zero. The drained
// items are returned in FIFO order so that the caller can hand them back to
// their origin.
func (q *Queue[T]) Reset() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	drained := q.items
	q.items = nil
	select {
	case <-q.ready:
	default:
	}
	return drained
}
