package transport

import (
	"context"
	"sync"

	"github.com/yanun0323/errors"

	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/model"
)

// ResultSink receives every completed computation.
type ResultSink interface {
	Publish(ctx context.Context, result model.SignalResult) error
	Close() error
}

// Fanout publishes to every sink and reports their joined errors.
type Fanout []ResultSink

func (f Fanout) Publish(ctx context.Context, result model.SignalResult) error {
	var errs []error
	for _, s := range f {
		if err := s.Publish(ctx, result); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) Close() error {
	var errs []error
	for _, s := range f {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type latestKey struct {
	instrument string
	kind       string
}

// MemoryLatest keeps the newest result per instrument and computation
// type. A result whose tick sequence is not newer than the stored one is
// ignored, the same rule the Postgres store applies.
type MemoryLatest struct {
	mu      sync.Mutex
	latest  map[latestKey]model.SignalResult
	writes  int
	ignored int
}

func NewMemoryLatest() *MemoryLatest {
	return &MemoryLatest{latest: make(map[latestKey]model.SignalResult)}
}

func (m *MemoryLatest) Publish(_ context.Context, result model.SignalResult) error {
	k := latestKey{instrument: result.InstrumentKey, kind: string(result.Type)}
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.latest[k]; ok && cur.TickSeq >= result.TickSeq {
		m.ignored++
		return nil
	}
	m.latest[k] = result
	m.writes++
	return nil
}

// Get returns the stored result for an instrument and computation type.
func (m *MemoryLatest) Get(instrumentKey string, kind string) (model.SignalResult, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.latest[latestKey{instrument: instrumentKey, kind: kind}]
	return r, ok
}

// Counts returns applied and ignored writes.
func (m *MemoryLatest) Counts() (writes, ignored int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes, m.ignored
}

func (m *MemoryLatest) Close() error { return nil }
