package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

var _ TickSource = (*MemorySource)(nil)

// MemorySource is an in-process tick source for tests and single-process
// runs.
type MemorySource struct {
	ch       chan Delivery
	pollWait time.Duration
	closed   atomic.Bool
	offset   atomic.Int64

	mu        sync.Mutex
	committed []int64 // protected by mu
}

// NewMemorySource creates a source buffering up to capacity messages.
func NewMemorySource(capacity int, pollWait time.Duration) *MemorySource {
	if capacity <= 0 {
		capacity = 1
	}
	if pollWait <= 0 {
		pollWait = defaultPollWait
	}
	return &MemorySource{ch: make(chan Delivery, capacity), pollWait: pollWait}
}

// Publish enqueues a message, blocking while the buffer is full.
func (s *MemorySource) Publish(ctx context.Context, key string, value []byte) error {
	if s.closed.Load() {
		return ErrSourceClosed
	}
	d := Delivery{Key: key, Value: value, Offset: s.offset.Add(1) - 1}
	select {
	case s.ch <- d:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *MemorySource) Fetch(ctx context.Context) (Delivery, error) {
	if s.closed.Load() {
		return Delivery{}, ErrSourceClosed
	}
	timer := time.NewTimer(s.pollWait)
	defer timer.Stop()
	select {
	case d := <-s.ch:
		d.ReceivedAt = time.Now().UTC()
		return d, nil
	case <-timer.C:
		return Delivery{}, ErrNoMessage
	case <-ctx.Done():
		return Delivery{}, ctx.Err()
	}
}

func (s *MemorySource) Commit(_ context.Context, deliveries ...Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range deliveries {
		s.committed = append(s.committed, d.Offset)
	}
	return nil
}

// Committed returns the committed offsets in commit order.
func (s *MemorySource) Committed() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.committed...)
}

// Pending is the number of published but unfetched messages.
func (s *MemorySource) Pending() int {
	return len(s.ch)
}

func (s *MemorySource) Close() error {
	s.closed.Store(true)
	return nil
}
