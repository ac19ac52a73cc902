package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanun0323/logs"

	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/assignment"
	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/backpressure"
	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/model"
	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/model/enum"
	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/resource"
	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/shed"
	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/transport"
	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/worker"
)

const podA = "pod-a"

type fixture struct {
	orch   *Orchestrator
	sc     SchedulingContext
	source *transport.MemorySource
	latest *transport.MemoryLatest
}

func newFixture(t *testing.T, shedCfg shed.Config, usage resource.Static, load LoadWeights, hooks InstrumentHooks) fixture {
	t.Helper()

	shedCfg.Seed = 7
	shedder, err := shed.New(shedCfg)
	require.NoError(t, err)
	sc := SchedulingContext{
		Assignments: assignment.NewManager(assignment.DefaultConfig(), assignment.NewMemoryStore()),
		Shedder:     shedder,
		Monitor:     backpressure.NewMonitor(backpressure.DefaultConfig()),
	}
	source := transport.NewMemorySource(256, 5*time.Millisecond)
	latest := transport.NewMemoryLatest()

	orch, err := New(Config{
		PodID:             podA,
		Capacity:          100,
		HeartbeatInterval: 20 * time.Millisecond,
		Load:              load,
		Benchmarks:        []string{"NSE:RELIANCE"},
	}, sc, Deps{
		Source:  source,
		Results: latest,
		Sampler: usage,
		Hooks:   hooks,
		Worker:  worker.Config{Workers: 2, QueueSize: 64, Seed: 1},
	})
	require.NoError(t, err)
	_, err = orch.usage.Refresh(t.Context())
	require.NoError(t, err)
	return fixture{orch: orch, sc: sc, source: source, latest: latest}
}

func tick(t *testing.T, tk model.Tick) transport.Delivery {
	t.Helper()
	raw, err := model.EncodeTick(tk)
	require.NoError(t, err)
	return transport.Delivery{Key: tk.InstrumentKey, Value: raw}
}

func equityTick(t *testing.T, key string, seq uint64) transport.Delivery {
	t.Helper()
	tk, err := model.DecodeTick([]byte(fmt.Sprintf(`{"instrument_key":%q,"seq":%d,"class":"equity","price":"101.5"}`, key, seq)))
	require.NoError(t, err)
	return tick(t, tk)
}

func TestHandleTick(t *testing.T) {
	ctx := t.Context()

	t.Run("accepted", func(t *testing.T) {
		f := newFixture(t, shed.DefaultConfig(), resource.Static{}, LoadWeights{}, nil)
		require.NoError(t, f.sc.Assignments.RegisterPod(ctx, podA, 100))

		assert.Equal(t, enum.TickAccepted, f.orch.HandleTick(ctx, equityTick(t, "NSE:INFY", 1)))
		pm := f.orch.Pool().GetPoolMetrics()
		assert.Equal(t, uint64(1), pm.Submitted)
		assert.Equal(t, 1, f.orch.acks.Len())
	})

	t.Run("not owner", func(t *testing.T) {
		f := newFixture(t, shed.DefaultConfig(), resource.Static{}, LoadWeights{}, nil)
		require.NoError(t, f.sc.Assignments.RegisterPod(ctx, podA, 100))
		require.NoError(t, f.sc.Assignments.RegisterPod(ctx, "pod-b", 100))

		var foreign string
		for i := 0; i < 1000 && foreign == ""; i++ {
			key := fmt.Sprintf("NSE:SYM%d", i)
			owner, err := f.sc.Assignments.GetInstrumentPod(key)
			require.NoError(t, err)
			if owner != podA {
				foreign = key
			}
		}
		require.NotEmpty(t, foreign)

		assert.Equal(t, enum.TickNotOwner, f.orch.HandleTick(ctx, equityTick(t, foreign, 1)))
		assert.Zero(t, f.orch.Pool().GetPoolMetrics().Submitted)
		assert.Equal(t, 1, f.orch.acks.Len())
	})

	t.Run("no pods is not owner", func(t *testing.T) {
		f := newFixture(t, shed.DefaultConfig(), resource.Static{}, LoadWeights{}, nil)
		assert.Equal(t, enum.TickNotOwner, f.orch.HandleTick(ctx, equityTick(t, "NSE:INFY", 1)))
	})

	t.Run("invalid", func(t *testing.T) {
		f := newFixture(t, shed.DefaultConfig(), resource.Static{}, LoadWeights{}, nil)
		require.NoError(t, f.sc.Assignments.RegisterPod(ctx, podA, 100))

		assert.Equal(t, enum.TickInvalid, f.orch.HandleTick(ctx, transport.Delivery{Value: []byte("{not json")}))
		assert.Equal(t, enum.TickInvalid, f.orch.HandleTick(ctx, transport.Delivery{Value: []byte(`{"seq":1}`)}))
		assert.Equal(t, 2, f.orch.acks.Len())
	})

	t.Run("shed under full load", func(t *testing.T) {
		cfg := shed.DefaultConfig()
		cfg.Policies[enum.PriorityMedium] = shed.Policy{StartSheddingAt: 0.5, MaxShedRatio: 1}
		f := newFixture(t, cfg, resource.Static{CPU: 1, Memory: 1}, LoadWeights{CPU: 0.5, Memory: 0.5}, nil)
		require.NoError(t, f.sc.Assignments.RegisterPod(ctx, podA, 100))

		assert.Equal(t, enum.TickShed, f.orch.HandleTick(ctx, equityTick(t, "NSE:INFY", 1)))
		assert.Zero(t, f.orch.Pool().GetPoolMetrics().Submitted)
		assert.Equal(t, uint64(1), f.orch.Metrics().Snapshot().Shed[enum.PriorityMedium])
	})

	t.Run("order flow is never shed", func(t *testing.T) {
		cfg := shed.DefaultConfig()
		cfg.Policies[enum.PriorityMedium] = shed.Policy{StartSheddingAt: 0.5, MaxShedRatio: 1}
		f := newFixture(t, cfg, resource.Static{CPU: 1, Memory: 1}, LoadWeights{CPU: 0.5, Memory: 0.5}, nil)
		require.NoError(t, f.sc.Assignments.RegisterPod(ctx, podA, 100))

		tk, err := model.DecodeTick([]byte(`{"instrument_key":"NSE:INFY","seq":2,"class":"equity","price":"99","order_flow":true}`))
		require.NoError(t, err)
		assert.Equal(t, enum.TickAccepted, f.orch.HandleTick(ctx, tick(t, tk)))
	})
}

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := logs.Default()
	logs.SetDefault(logs.New(logs.LevelDebug, &logs.Option{Format: logs.FormatText, Output: &buf}))
	t.Cleanup(func() { logs.SetDefault(prev) })
	return &buf
}

func TestHandleTickLogsShedAndForeignTicks(t *testing.T) {
	ctx := t.Context()
	cfg := shed.DefaultConfig()
	cfg.Policies[enum.PriorityMedium] = shed.Policy{StartSheddingAt: 0.5, MaxShedRatio: 1}
	f := newFixture(t, cfg, resource.Static{CPU: 1, Memory: 1}, LoadWeights{CPU: 0.5, Memory: 0.5}, nil)
	require.NoError(t, f.sc.Assignments.RegisterPod(ctx, podA, 100))
	buf := captureLogs(t)

	require.Equal(t, enum.TickShed, f.orch.HandleTick(ctx, equityTick(t, "NSE:INFY", 1)))
	out := buf.String()
	assert.Contains(t, out, "tick shed, instrument: NSE:INFY, priority: "+enum.PriorityMedium.String())
	assert.Contains(t, out, "load: 1.00")
	assert.Contains(t, out, "reason: "+shed.ReasonShed)

	require.NoError(t, f.sc.Assignments.UnregisterPod(ctx, podA))
	require.NoError(t, f.sc.Assignments.RegisterPod(ctx, "pod-b", 100))
	require.Equal(t, enum.TickNotOwner, f.orch.HandleTick(ctx, equityTick(t, "NSE:TCS", 2)))
	assert.Contains(t, buf.String(), "tick owned by another pod, instrument: NSE:TCS, owner: pod-b")
}

func TestPriorityAndLoad(t *testing.T) {
	f := newFixture(t, shed.DefaultConfig(), resource.Static{CPU: 0.4, Memory: 0.8}, LoadWeights{Queue: 0.5, CPU: 0.3, Memory: 0.2}, nil)

	assert.Equal(t, enum.PriorityCritical, f.orch.priority(model.Tick{InstrumentKey: "X", OrderFlow: true}))
	assert.Equal(t, enum.PriorityHigh, f.orch.priority(model.Tick{InstrumentKey: "NSE:NIFTY", Class: enum.InstrumentIndex}))
	assert.Equal(t, enum.PriorityHigh, f.orch.priority(model.Tick{InstrumentKey: "NSE:RELIANCE", Class: enum.InstrumentEquity}))
	assert.Equal(t, enum.PriorityMedium, f.orch.priority(model.Tick{InstrumentKey: "NSE:INFY", Class: enum.InstrumentEquity}))

	// empty queues: 0.3*0.4 + 0.2*0.8
	assert.InDelta(t, 0.28, f.orch.load(), 1e-9)
}

func TestSnapshotRates(t *testing.T) {
	f := newFixture(t, shed.DefaultConfig(), resource.Static{CPU: 0.5, Memory: 0.25}, LoadWeights{}, nil)
	now := time.Unix(1_700_000_000, 0)

	first := f.orch.Snapshot(now)
	assert.Equal(t, podA, first.PodID)
	assert.Zero(t, first.QueueGrowthRate)
	assert.InDelta(t, 0.5, first.CPUUsage, 1e-9)
	assert.InDelta(t, 0.25, first.MemoryUsage, 1e-9)

	for i := 0; i < 10; i++ {
		require.True(t, f.orch.Pool().SubmitTask(&model.ComputationTask{
			ID:            fmt.Sprintf("t%d", i),
			InstrumentKey: "NSE:INFY",
			Params:        model.IndicatorParams{Price: 1},
			Priority:      enum.PriorityMedium,
			Timestamp:     now,
		}))
	}
	second := f.orch.Snapshot(now.Add(2 * time.Second))
	assert.Equal(t, 10, second.QueueDepth)
	assert.InDelta(t, 5.0, second.QueueGrowthRate, 1e-9)
}

func TestHeartbeatRejoinsRegistry(t *testing.T) {
	f := newFixture(t, shed.DefaultConfig(), resource.Static{CPU: 0.2}, LoadWeights{}, nil)
	require.Empty(t, f.sc.Assignments.Pods())

	f.orch.heartbeat(t.Context())

	pods := f.sc.Assignments.Pods()
	require.Len(t, pods, 1)
	assert.Equal(t, podA, pods[0].ID)
	assert.InDelta(t, 0.2, pods[0].Metrics.CPUUsage, 1e-9)
	assert.Zero(t, f.orch.Metrics().Snapshot().RegistryErrors)
}

type recordingHooks struct {
	mu       sync.Mutex
	assigned []string
	released []string
}

func (h *recordingHooks) OnAssigned(_ context.Context, key string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.assigned = append(h.assigned, key)
	return nil
}

func (h *recordingHooks) OnReleased(_ context.Context, key string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.released = append(h.released, key)
	return nil
}

func TestSyncAssignmentsReportsDiff(t *testing.T) {
	ctx := t.Context()
	hooks := &recordingHooks{}
	f := newFixture(t, shed.DefaultConfig(), resource.Static{}, LoadWeights{}, hooks)
	require.NoError(t, f.sc.Assignments.RegisterPod(ctx, podA, 100))

	keys := make([]string, 0, 200)
	for i := 0; i < 200; i++ {
		keys = append(keys, fmt.Sprintf("NSE:SYM%03d", i))
	}
	f.sc.Assignments.TrackInstruments(keys...)

	f.orch.syncAssignments(ctx)
	assert.ElementsMatch(t, keys, hooks.assigned)
	assert.Empty(t, hooks.released)
	assert.Equal(t, 200, f.orch.Assigned())

	require.NoError(t, f.sc.Assignments.RegisterPod(ctx, "pod-b", 100))
	f.orch.syncAssignments(ctx)

	kept := f.sc.Assignments.GetPodAssignments(podA)
	keptSet := make(map[string]struct{}, len(kept))
	for _, k := range kept {
		keptSet[k] = struct{}{}
	}
	var moved []string
	for _, k := range keys {
		if _, ok := keptSet[k]; !ok {
			moved = append(moved, k)
		}
	}
	sort.Strings(hooks.released)
	assert.NotEmpty(t, moved)
	assert.Equal(t, moved, hooks.released)
	assert.Len(t, hooks.assigned, 200)
	assert.Equal(t, len(kept), f.orch.Assigned())
}

func TestRunProcessesAndShutsDown(t *testing.T) {
	f := newFixture(t, shed.DefaultConfig(), resource.Static{}, LoadWeights{}, nil)
	ctx, cancel := context.WithCancel(t.Context())

	done := make(chan error, 1)
	go func() { done <- f.orch.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(f.sc.Assignments.Pods()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	const n = 50
	for i := 0; i < n; i++ {
		require.NoError(t, f.source.Publish(ctx, "", equityTick(t, fmt.Sprintf("NSE:SYM%02d", i), uint64(i+1)).Value))
	}

	require.Eventually(t, func() bool {
		writes, _ := f.latest.Counts()
		return len(f.source.Committed()) == n && writes == n
	}, 5*time.Second, 10*time.Millisecond)

	res, ok := f.latest.Get("NSE:SYM07", string(enum.ComputationIndicators))
	require.True(t, ok)
	assert.Equal(t, podA, res.PodID)
	assert.Equal(t, uint64(8), res.TickSeq)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}

	assert.Empty(t, f.sc.Assignments.Pods())
	snap := f.orch.Metrics().Snapshot()
	assert.Equal(t, uint64(n), snap.Ticks[enum.TickAccepted])
	assert.Equal(t, uint64(n), snap.ResultsPublished)
	assert.True(t, f.orch.Pool().GetPoolMetrics().Accounted())
}

func TestNewValidates(t *testing.T) {
	shedder, err := shed.New(shed.DefaultConfig())
	require.NoError(t, err)
	sc := SchedulingContext{
		Assignments: assignment.NewManager(assignment.DefaultConfig(), nil),
		Shedder:     shedder,
		Monitor:     backpressure.NewMonitor(backpressure.DefaultConfig()),
	}
	source := transport.NewMemorySource(1, 0)
	good := Config{PodID: podA, Capacity: 1, HeartbeatInterval: time.Second}

	_, err = New(good, sc, Deps{Source: source})
	require.NoError(t, err)

	_, err = New(Config{Capacity: 1, HeartbeatInterval: time.Second}, sc, Deps{Source: source})
	assert.Error(t, err)
	_, err = New(good, SchedulingContext{}, Deps{Source: source})
	assert.Error(t, err)
	_, err = New(good, sc, Deps{})
	assert.ErrorIs(t, err, ErrNoSource)
}
