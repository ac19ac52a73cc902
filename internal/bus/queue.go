// Package bus is a bounded, non-blocking in-process hand-off between a
// producer that must never stall and a single consuming loop.
package bus

import (
	"context"
	"sync/atomic"

	"github.com/yanun0323/errors"
)

var (
	ErrQueueFull   = errors.New("bus queue full")
	ErrQueueClosed = errors.New("bus queue closed")
)

// Queue is a bounded, non-blocking queue of T.
type Queue[T any] struct {
	ch     chan T
	done   chan struct{}
	closed uint32

	published atomic.Uint64
	dropped   atomic.Uint64
}

// NewQueue allocates a queue with the given capacity.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue[T]{ch: make(chan T, capacity), done: make(chan struct{})}
}

// TryPublish enqueues v without blocking.
func (q *Queue[T]) TryPublish(v T) error {
	if atomic.LoadUint32(&q.closed) != 0 {
		return ErrQueueClosed
	}
	select {
	case q.ch <- v:
		q.published.Add(1)
		return nil
	default:
		q.dropped.Add(1)
		return ErrQueueFull
	}
}

// Close stops the queue from accepting new items. Items already queued
// remain available to Run and Drain.
func (q *Queue[T]) Close() {
	if atomic.CompareAndSwapUint32(&q.closed, 0, 1) {
		close(q.done)
	}
}

// Run consumes items until the context is done, or until the queue is
// closed and empty.
func (q *Queue[T]) Run(ctx context.Context, handler func(T)) {
	for {
		select {
		case <-ctx.Done():
			return
		case v := <-q.ch:
			handler(v)
		case <-q.done:
			q.Drain(handler)
			return
		}
	}
}

// Drain hands every queued item to handler without blocking and returns
// how many there were.
func (q *Queue[T]) Drain(handler func(T)) int {
	n := 0
	for {
		select {
		case v := <-q.ch:
			handler(v)
			n++
		default:
			return n
		}
	}
}

// Len is the number of queued items.
func (q *Queue[T]) Len() int {
	return len(q.ch)
}

// Published and Dropped count TryPublish outcomes.
func (q *Queue[T]) Published() uint64 { return q.published.Load() }
func (q *Queue[T]) Dropped() uint64   { return q.dropped.Load() }
