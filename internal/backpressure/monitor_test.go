package backpressure

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/model"
)

var t0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func newTestMonitor(t *testing.T) (*Monitor, *time.Time) {
	t.Helper()
	now := t0
	m := NewMonitor(DefaultConfig())
	m.SetClock(func() time.Time { return now })
	m.Initialize()
	return m, &now
}

func quiet() model.BackpressureSnapshot {
	return model.BackpressureSnapshot{
		QueueDepth: 5,
		P99Latency: 2 * time.Millisecond,
		Timestamp:  t0,
	}
}

func TestClassifyWorstSignalDominates(t *testing.T) {
	m := NewMonitor(DefaultConfig())

	testCases := []struct {
		desc     string
		snap     model.BackpressureSnapshot
		expected Level
	}{
		{"idle", model.BackpressureSnapshot{}, LevelLow},
		{"medium depth", model.BackpressureSnapshot{QueueDepth: 150}, LevelMedium},
		{"high growth only", model.BackpressureSnapshot{QueueDepth: 10, QueueGrowthRate: 60}, LevelHigh},
		{"critical latency only", model.BackpressureSnapshot{P99Latency: 250 * time.Millisecond}, LevelCritical},
		{"critical errors beat medium depth", model.BackpressureSnapshot{QueueDepth: 150, ErrorRate: 0.2}, LevelCritical},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			assert.Equal(t, tc.expected, m.Classify(tc.snap))
		})
	}
}

func TestRecommendationRequiresInitialize(t *testing.T) {
	m := NewMonitor(DefaultConfig())
	assert.ErrorIs(t, m.UpdateMetrics("pod-1", quiet()), ErrNotInitialized)
	rec := m.GetScalingRecommendation()
	assert.Equal(t, ActionMaintain, rec.Action)
}

func TestRecommendationScaleUpUrgentOnCriticalPods(t *testing.T) {
	m, _ := newTestMonitor(t)
	require.NoError(t, m.UpdateMetrics("pod-1", model.BackpressureSnapshot{QueueDepth: 5000, Timestamp: t0}))
	require.NoError(t, m.UpdateMetrics("pod-2", quiet()))

	rec := m.GetScalingRecommendation()
	assert.Equal(t, ActionScaleUp, rec.Action)
	assert.Equal(t, UrgencyHigh, rec.Urgency)
	assert.Equal(t, 3, rec.TargetInstances)
}

func TestRecommendationScaleUpOnHighAverage(t *testing.T) {
	m, _ := newTestMonitor(t)
	for i := 0; i < 4; i++ {
		snap := model.BackpressureSnapshot{QueueDepth: 600, Timestamp: t0}
		require.NoError(t, m.UpdateMetrics(fmt.Sprintf("pod-%d", i), snap))
	}

	rec := m.GetScalingRecommendation()
	assert.Equal(t, ActionScaleUp, rec.Action)
	assert.Equal(t, UrgencyMedium, rec.Urgency)
	assert.Equal(t, 5, rec.TargetInstances)
}

func TestRecommendationScaleDownWhenIdle(t *testing.T) {
	m, _ := newTestMonitor(t)
	require.NoError(t, m.UpdateMetrics("pod-1", quiet()))
	require.NoError(t, m.UpdateMetrics("pod-2", quiet()))

	rec := m.GetScalingRecommendation()
	assert.Equal(t, ActionScaleDown, rec.Action)
	assert.Equal(t, 1, rec.TargetInstances)
}

func TestRecommendationNeverScalesBelowOnePod(t *testing.T) {
	m, _ := newTestMonitor(t)
	require.NoError(t, m.UpdateMetrics("pod-1", quiet()))

	rec := m.GetScalingRecommendation()
	assert.Equal(t, ActionMaintain, rec.Action)
	assert.Equal(t, 1, rec.TargetInstances)
}

func TestStaleSnapshotsAreIgnored(t *testing.T) {
	m, now := newTestMonitor(t)
	require.NoError(t, m.UpdateMetrics("pod-1", model.BackpressureSnapshot{QueueDepth: 5000, Timestamp: t0}))
	require.NoError(t, m.UpdateMetrics("pod-2", quiet()))

	*now = t0.Add(time.Minute)
	require.NoError(t, m.UpdateMetrics("pod-2", model.BackpressureSnapshot{QueueDepth: 200, Timestamp: *now}))

	_, ok := m.PodLevel("pod-1")
	assert.False(t, ok)
	level, ok := m.PodLevel("pod-2")
	assert.True(t, ok)
	assert.Equal(t, LevelMedium, level)

	sum := m.FleetSummary()
	assert.Equal(t, 1, sum.Pods)
	assert.Equal(t, 1, sum.Stale)

	// a silent pod counts as unhealthy until it is forgotten
	rec := m.GetScalingRecommendation()
	assert.Equal(t, ActionScaleUp, rec.Action)
	assert.Equal(t, UrgencyHigh, rec.Urgency)
	assert.Contains(t, rec.Reason, "1 of 2 pods critical or unhealthy")

	m.Forget("pod-1")
	rec = m.GetScalingRecommendation()
	assert.Equal(t, ActionMaintain, rec.Action)
	assert.Zero(t, m.FleetSummary().Stale)
}

func TestPodLevelIsWorstOfWindow(t *testing.T) {
	m, now := newTestMonitor(t)
	require.NoError(t, m.UpdateMetrics("pod-1", model.BackpressureSnapshot{QueueDepth: 5000, Timestamp: t0}))
	require.NoError(t, m.UpdateMetrics("pod-2", quiet()))

	*now = t0.Add(5 * time.Second)
	require.NoError(t, m.UpdateMetrics("pod-1", model.BackpressureSnapshot{QueueDepth: 5, Timestamp: *now}))
	require.NoError(t, m.UpdateMetrics("pod-2", model.BackpressureSnapshot{QueueDepth: 5, Timestamp: *now}))

	level, ok := m.PodLevel("pod-1")
	require.True(t, ok)
	assert.Equal(t, LevelCritical, level)
	assert.Equal(t, ActionScaleUp, m.GetScalingRecommendation().Action)

	// the spike leaves the TTL window
	*now = t0.Add(31 * time.Second)
	require.NoError(t, m.UpdateMetrics("pod-1", model.BackpressureSnapshot{QueueDepth: 5, Timestamp: *now}))
	require.NoError(t, m.UpdateMetrics("pod-2", model.BackpressureSnapshot{QueueDepth: 5, Timestamp: *now}))
	level, ok = m.PodLevel("pod-1")
	require.True(t, ok)
	assert.Equal(t, LevelLow, level)
	assert.Equal(t, ActionScaleDown, m.GetScalingRecommendation().Action)
}

func TestWindowKeepsNewestSnapshots(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Window = 3
	m := NewMonitor(cfg)
	m.Initialize()

	for i := 0; i < 5; i++ {
		require.NoError(t, m.UpdateMetrics("pod-1", model.BackpressureSnapshot{
			QueueDepth: i,
			Timestamp:  t0.Add(time.Duration(i) * time.Second),
		}))
	}
	// older than the newest: ignored
	require.NoError(t, m.UpdateMetrics("pod-1", model.BackpressureSnapshot{QueueDepth: 99, Timestamp: t0}))

	hist := m.History("pod-1")
	require.Len(t, hist, 3)
	assert.Equal(t, []int{2, 3, 4}, []int{hist[0].QueueDepth, hist[1].QueueDepth, hist[2].QueueDepth})
}
