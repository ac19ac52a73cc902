package assignment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/model"
)

// Store is the shared, TTL-capable pod registry every pod can reach.
// Entries that are not refreshed within their ttl disappear. The store also
// holds the fleet-wide instrument universe; instruments never expire.
type Store interface {
	PutPod(ctx context.Context, pod model.PodInfo, ttl time.Duration) error
	DeletePod(ctx context.Context, podID string) error
	ListPods(ctx context.Context) ([]model.PodInfo, error)
	AddInstruments(ctx context.Context, keys []string) error
	ListInstruments(ctx context.Context) ([]string, error)
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu          sync.Mutex
	pods        map[string]memoryEntry
	instruments map[string]struct{}
	clock       func() time.Time
}

type memoryEntry struct {
	pod      model.PodInfo
	expireAt time.Time
}

// NewMemoryStore creates an empty store using the wall clock.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pods:        make(map[string]memoryEntry),
		instruments: make(map[string]struct{}),
		clock:       time.Now,
	}
}

func (s *MemoryStore) PutPod(_ context.Context, pod model.PodInfo, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expireAt time.Time
	if ttl > 0 {
		expireAt = s.clock().Add(ttl)
	}
	s.pods[pod.ID] = memoryEntry{pod: pod, expireAt: expireAt}
	return nil
}

func (s *MemoryStore) DeletePod(_ context.Context, podID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pods, podID)
	return nil
}

func (s *MemoryStore) ListPods(_ context.Context) ([]model.PodInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock()
	out := make([]model.PodInfo, 0, len(s.pods))
	for id, e := range s.pods {
		if !e.expireAt.IsZero() && now.After(e.expireAt) {
			delete(s.pods, id)
			continue
		}
		out = append(out, e.pod)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) AddInstruments(_ context.Context, keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		s.instruments[k] = struct{}{}
	}
	return nil
}

func (s *MemoryStore) ListInstruments(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.instruments))
	for k := range s.instruments {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}
