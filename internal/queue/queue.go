// Package queue provides a blocking FIFO work queue.
package queue

import (
	"sync"
)

// Queue is an unbounded FIFO. Pop blocks until an item arrives or the queue
// is closed and drained.
type Queue[T any] struct {
	items  []T
	mutex  sync.Mutex
	cond   *sync.Cond
	closed bool
}

func New[T any]() *Queue[T] {
	q := &Queue[T]{
		items: make([]T, 0),
	}
	q.cond = sync.NewCond(&q.mutex)
	return q
}

// Push appends item. Pushing to a closed queue reports false.
func (q *Queue[T]) Push(item T) bool {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if q.closed {
		return false
	}
	q.items = append(q.items, item)
	q.cond.Signal()
	return true
}

// Pop removes and returns the oldest item. ok is false once the queue is
// closed and empty.
func (q *Queue[T]) Pop() (item T, ok bool) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return item, false
	}

	item = q.items[0]
	var zero T
	q.items[0] = zero
	q.items = q.items[1:]
	return item, true
}

// Remove drops every queued item matching match and reports how many.
func (q *Queue[T]) Remove(match func(T) bool) int {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	kept := q.items[:0]
	removed := 0
	for _, item := range q.items {
		if match(item) {
			removed++
			continue
		}
		kept = append(kept, item)
	}
	q.items = kept
	return removed
}

// Len returns the number of items in the queue
func (q *Queue[T]) Len() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return len(q.items)
}

// Close stops accepting items and wakes all waiters. Queued items can still
// be popped.
func (q *Queue[T]) Close() {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// Closed reports whether Close was called.
func (q *Queue[T]) Closed() bool {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return q.closed
}
