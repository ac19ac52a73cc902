// Package assignment owns the pod registry and the instrument -> pod
// assignment table. Lookups read an immutable table snapshot; pod joins,
// leaves and rebalances build a new snapshot in a short exclusive section.
package assignment

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/hashring"
	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/model"
)

var (
	ErrNoPods     = errors.New("no live pods registered")
	ErrUnknownPod = errors.New("pod not registered")
	ErrInvalidPod = errors.New("invalid pod registration")
	ErrEmptyKey   = errors.New("empty instrument key")
)

const (
	defaultPodTTL          = 30 * time.Second
	defaultRebalanceMargin = 0.1
)

// Config controls liveness and capacity-aware rebalancing.
type Config struct {
	PodTTL          time.Duration   `json:"podTTL"`
	RebalanceMargin float64         `json:"rebalanceMargin"`
	Ring            hashring.Config `json:"ring"`
}

// DefaultConfig returns the assignment defaults.
func DefaultConfig() Config {
	return Config{
		PodTTL:          defaultPodTTL,
		RebalanceMargin: defaultRebalanceMargin,
		Ring:            hashring.DefaultConfig(),
	}
}

func (c Config) withDefaults() Config {
	if c.PodTTL <= 0 {
		c.PodTTL = defaultPodTTL
	}
	if c.RebalanceMargin < 0 {
		c.RebalanceMargin = defaultRebalanceMargin
	}
	return c
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) { m.clock = clock }
}

type podEntry struct {
	id           string
	capacity     int
	registeredAt time.Time
	lastBeat     atomic.Int64
	metrics      atomic.Pointer[model.BackpressureSnapshot]
}

func (e *podEntry) alive(now time.Time, ttl time.Duration) bool {
	return now.UnixNano()-e.lastBeat.Load() <= int64(ttl)
}

func (e *podEntry) info() model.PodInfo {
	info := model.PodInfo{
		ID:            e.id,
		Capacity:      e.capacity,
		RegisteredAt:  e.registeredAt,
		LastHeartbeat: time.Unix(0, e.lastBeat.Load()).UTC(),
	}
	if m := e.metrics.Load(); m != nil {
		info.Metrics = *m
	}
	return info
}

type table struct {
	pods  map[string]*podEntry
	owner map[string]string
	byPod map[string][]string
}

// Manager is the PodAssignmentManager. It is safe for concurrent use.
type Manager struct {
	cfg   Config
	ring  *hashring.Ring
	store Store
	clock func() time.Time

	mu       sync.Mutex
	universe map[string]struct{} // last loaded from store, protected by mu

	table   atomic.Pointer[table]
	pending sync.Map // instruments seen here but not yet published
}

// NewManager creates a manager backed by store. A nil store keeps the
// registry process-local.
func NewManager(cfg Config, store Store, opts ...Option) *Manager {
	cfg = cfg.withDefaults()
	if store == nil {
		store = NewMemoryStore()
	}
	m := &Manager{
		cfg:      cfg,
		ring:     hashring.New(cfg.Ring),
		store:    store,
		clock:    time.Now,
		universe: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.table.Store(&table{
		pods:  map[string]*podEntry{},
		owner: map[string]string{},
		byPod: map[string][]string{},
	})
	return m
}

// RegisterPod adds a pod or updates its capacity. Registering twice is
// idempotent; the last capacity wins.
func (m *Manager) RegisterPod(ctx context.Context, podID string, capacity int) error {
	if podID == "" || capacity <= 0 {
		return errors.Wrap(ErrInvalidPod, "register pod").With("pod", podID)
	}
	now := m.clock()

	entry := &podEntry{id: podID, capacity: capacity, registeredAt: now}
	if prev, ok := m.table.Load().pods[podID]; ok {
		entry.registeredAt = prev.registeredAt
		if snap := prev.metrics.Load(); snap != nil {
			entry.metrics.Store(snap)
		}
	}
	entry.lastBeat.Store(now.UnixNano())

	if err := m.store.PutPod(ctx, entry.info(), m.cfg.PodTTL); err != nil {
		return errors.Wrap(err, "store pod").With("pod", podID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	pods := clonePods(m.table.Load().pods)
	pods[podID] = entry
	m.ring.Add(podID, capacity)
	m.rebuildLocked(pods)
	logs.Infof("pod registered, pod: %s, capacity: %d, pods: %d", podID, capacity, len(pods))
	return nil
}

// UnregisterPod removes a pod; its instruments move to the remaining pods.
func (m *Manager) UnregisterPod(ctx context.Context, podID string) error {
	if err := m.store.DeletePod(ctx, podID); err != nil {
		return errors.Wrap(err, "delete pod").With("pod", podID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.table.Load()
	if _, ok := cur.pods[podID]; !ok {
		return nil
	}
	pods := clonePods(cur.pods)
	delete(pods, podID)
	m.ring.Remove(podID)
	m.rebuildLocked(pods)
	logs.Infof("pod unregistered, pod: %s, pods: %d", podID, len(pods))
	return nil
}

// UpdatePodMetrics records a heartbeat with the pod's latest load sample.
func (m *Manager) UpdatePodMetrics(ctx context.Context, podID string, snap model.BackpressureSnapshot) error {
	entry, ok := m.table.Load().pods[podID]
	if !ok {
		return errors.Wrap(ErrUnknownPod, "update pod metrics").With("pod", podID)
	}
	now := m.clock()
	if snap.Timestamp.IsZero() {
		snap.Timestamp = now
	}
	snap.PodID = podID
	entry.lastBeat.Store(now.UnixNano())
	entry.metrics.Store(&snap)

	if err := m.store.PutPod(ctx, entry.info(), m.cfg.PodTTL); err != nil {
		return errors.Wrap(err, "refresh pod").With("pod", podID)
	}
	return nil
}

// GetInstrumentPod returns the pod that owns key. For a fixed pod
// membership the answer is a pure function of key.
func (m *Manager) GetInstrumentPod(key string) (string, error) {
	if key == "" {
		return "", ErrEmptyKey
	}
	for attempt := 0; attempt < 2; attempt++ {
		now := m.clock()
		t := m.table.Load()

		pod, tracked := t.owner[key]
		if !tracked {
			var ok bool
			pod, ok = m.ring.Lookup(key)
			if !ok {
				return "", ErrNoPods
			}
		}
		if e, ok := t.pods[pod]; ok && e.alive(now, m.cfg.PodTTL) {
			if !tracked {
				m.pending.Store(key, struct{}{})
			}
			return pod, nil
		}
		if len(m.PurgeStale(now)) == 0 {
			break
		}
	}
	return "", ErrNoPods
}

// GetPodAssignments returns the instruments currently owned by podID, sorted.
func (m *Manager) GetPodAssignments(podID string) []string {
	t := m.table.Load()
	out := append([]string(nil), t.byPod[podID]...)
	m.pending.Range(func(k, _ any) bool {
		key := k.(string)
		if _, tracked := t.owner[key]; tracked {
			return true
		}
		if pod, ok := m.ring.Lookup(key); ok && pod == podID {
			out = append(out, key)
		}
		return true
	})
	sort.Strings(out)
	return out
}

// TrackInstruments records keys seen by this pod. They are assigned by the
// ring until the next Rebalance publishes them to the shared universe.
func (m *Manager) TrackInstruments(keys ...string) {
	for _, k := range keys {
		if k != "" {
			m.pending.Store(k, struct{}{})
		}
	}
}

// Rebalance publishes the instruments first seen by this pod, reloads the
// fleet-wide universe from the store and recomputes the assignment table
// over it. Pods holding the same membership and universe derive the same
// table. Instruments on pods above capacity by more than the configured
// margin move to the next ring candidate with headroom.
func (m *Manager) Rebalance(ctx context.Context) error {
	var fresh []string
	m.pending.Range(func(k, _ any) bool {
		fresh = append(fresh, k.(string))
		return true
	})
	if len(fresh) > 0 {
		sort.Strings(fresh)
		if err := m.store.AddInstruments(ctx, fresh); err != nil {
			return errors.Wrap(err, "publish instruments").With("count", len(fresh))
		}
	}
	shared, err := m.store.ListInstruments(ctx)
	if err != nil {
		return errors.Wrap(err, "list instruments")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	universe := make(map[string]struct{}, len(shared))
	for _, k := range shared {
		universe[k] = struct{}{}
	}
	m.universe = universe
	m.rebuildLocked(m.table.Load().pods)
	for _, k := range fresh {
		m.pending.Delete(k)
	}
	return nil
}

// PurgeStale removes pods whose last heartbeat is older than the TTL and
// returns their IDs.
func (m *Manager) PurgeStale(now time.Time) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.table.Load()
	var stale []string
	for id, e := range cur.pods {
		if !e.alive(now, m.cfg.PodTTL) {
			stale = append(stale, id)
		}
	}
	if len(stale) == 0 {
		return nil
	}
	sort.Strings(stale)
	pods := clonePods(cur.pods)
	for _, id := range stale {
		delete(pods, id)
		m.ring.Remove(id)
	}
	m.rebuildLocked(pods)
	logs.Warnf("purged stale pods, pods: %v, ttl: %s", stale, m.cfg.PodTTL)
	return stale
}

// Sync reloads pod membership from the shared store so pods registered by
// other processes join the local ring and reaped ones leave it.
func (m *Manager) Sync(ctx context.Context) error {
	remote, err := m.store.ListPods(ctx)
	if err != nil {
		return errors.Wrap(err, "list pods")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.table.Load()
	pods := clonePods(cur.pods)
	changed := false
	seen := make(map[string]struct{}, len(remote))
	for _, info := range remote {
		seen[info.ID] = struct{}{}
		e, ok := pods[info.ID]
		if !ok || e.capacity != info.Capacity {
			e = &podEntry{id: info.ID, capacity: info.Capacity, registeredAt: info.RegisteredAt}
			pods[info.ID] = e
			m.ring.Add(info.ID, info.Capacity)
			changed = true
		}
		if beat := info.LastHeartbeat.UnixNano(); beat > e.lastBeat.Load() {
			e.lastBeat.Store(beat)
			snap := info.Metrics
			e.metrics.Store(&snap)
		}
	}
	for id := range cur.pods {
		if _, ok := seen[id]; !ok {
			delete(pods, id)
			m.ring.Remove(id)
			changed = true
		}
	}
	if changed {
		m.rebuildLocked(pods)
	}
	return nil
}

// Pods returns the registered pods sorted by ID.
func (m *Manager) Pods() []model.PodInfo {
	t := m.table.Load()
	out := make([]model.PodInfo, 0, len(t.pods))
	for _, e := range t.pods {
		out = append(out, e.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// rebuildLocked derives the table from pods and the shared universe only,
// never from instruments this pod has not published.
func (m *Manager) rebuildLocked(pods map[string]*podEntry) {
	keys := make([]string, 0, len(m.universe))
	for k := range m.universe {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	owner := make(map[string]string, len(keys))
	counts := make(map[string]int, len(pods))
	if len(pods) > 0 {
		for _, k := range keys {
			if pod, ok := m.ring.Lookup(k); ok {
				owner[k] = pod
				counts[pod]++
			}
		}
		m.spillOverCapacity(keys, pods, owner, counts)
	}

	byPod := make(map[string][]string, len(pods))
	for _, k := range keys {
		if pod, ok := owner[k]; ok {
			byPod[pod] = append(byPod[pod], k)
		}
	}

	m.table.Store(&table{pods: pods, owner: owner, byPod: byPod})
}

// spillOverCapacity moves keys from pods above capacity*(1+margin) to the
// next ring candidate that still has headroom. Keys stay put when no
// candidate has room.
func (m *Manager) spillOverCapacity(keys []string, pods map[string]*podEntry, owner map[string]string, counts map[string]int) {
	limit := func(pod string) int {
		e, ok := pods[pod]
		if !ok {
			return 0
		}
		return int(float64(e.capacity) * (1 + m.cfg.RebalanceMargin))
	}

	moved := 0
	for i := len(keys) - 1; i >= 0; i-- {
		k := keys[i]
		from := owner[k]
		if counts[from] <= limit(from) {
			continue
		}
		cands := m.ring.LookupN(k, len(pods))
		if len(cands) < 2 {
			continue
		}
		for _, cand := range cands[1:] {
			if counts[cand] < limit(cand) {
				owner[k] = cand
				counts[from]--
				counts[cand]++
				moved++
				break
			}
		}
	}
	if moved > 0 {
		logs.Infof("capacity rebalance moved %d instruments", moved)
	}
}

func clonePods(in map[string]*podEntry) map[string]*podEntry {
	out := make(map[string]*podEntry, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}
