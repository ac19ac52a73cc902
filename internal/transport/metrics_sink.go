package transport

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"

	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/model"
	"github.com/raghurammutya/signal-service-codex-review-sub000/pkg/conn"
)

const DefaultMetricsPrefix = "/signal/metrics/"

// MetricsSink stores each pod's latest backpressure snapshot under a TTL.
type MetricsSink interface {
	Push(ctx context.Context, snap model.BackpressureSnapshot) error
	Snapshots(ctx context.Context) ([]model.BackpressureSnapshot, error)
}

var (
	_ MetricsSink = (*EtcdMetricsSink)(nil)
	_ MetricsSink = (*MemoryMetricsSink)(nil)
)

// EtcdMetricsSink writes snapshots to leased etcd keys, so a pod that
// stops heartbeating disappears after ttl.
type EtcdMetricsSink struct {
	kv     *conn.LeasedKV
	prefix string
	ttl    time.Duration
}

func NewEtcdMetricsSink(kv *conn.LeasedKV, prefix string, ttl time.Duration) *EtcdMetricsSink {
	if prefix == "" {
		prefix = DefaultMetricsPrefix
	}
	return &EtcdMetricsSink{kv: kv, prefix: prefix, ttl: ttl}
}

func (s *EtcdMetricsSink) Push(ctx context.Context, snap model.BackpressureSnapshot) error {
	value, err := sonic.Marshal(snap)
	if err != nil {
		return errors.Wrap(err, "encode snapshot").With("pod", snap.PodID)
	}
	return s.kv.Put(ctx, s.prefix+snap.PodID, value, s.ttl)
}

func (s *EtcdMetricsSink) Snapshots(ctx context.Context) ([]model.BackpressureSnapshot, error) {
	raw, err := s.kv.List(ctx, s.prefix)
	if err != nil {
		return nil, err
	}
	out := make([]model.BackpressureSnapshot, 0, len(raw))
	for _, b := range raw {
		var snap model.BackpressureSnapshot
		if err := sonic.Unmarshal(b, &snap); err != nil {
			return nil, errors.Wrap(err, "decode snapshot")
		}
		out = append(out, snap)
	}
	return out, nil
}

// MemoryMetricsSink keeps snapshots in process with the same TTL rule.
type MemoryMetricsSink struct {
	ttl   time.Duration
	clock func() time.Time

	mu    sync.Mutex
	snaps map[string]model.BackpressureSnapshot
	at    map[string]time.Time
}

func NewMemoryMetricsSink(ttl time.Duration) *MemoryMetricsSink {
	return &MemoryMetricsSink{
		ttl:   ttl,
		clock: time.Now,
		snaps: make(map[string]model.BackpressureSnapshot),
		at:    make(map[string]time.Time),
	}
}

func (s *MemoryMetricsSink) Push(_ context.Context, snap model.BackpressureSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps[snap.PodID] = snap
	s.at[snap.PodID] = s.clock()
	return nil
}

func (s *MemoryMetricsSink) Snapshots(_ context.Context) ([]model.BackpressureSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock()
	out := make([]model.BackpressureSnapshot, 0, len(s.snaps))
	for pod, snap := range s.snaps {
		if s.ttl > 0 && now.Sub(s.at[pod]) > s.ttl {
			delete(s.snaps, pod)
			delete(s.at, pod)
			continue
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PodID < out[j].PodID })
	return out, nil
}
