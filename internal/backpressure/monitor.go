// Package backpressure turns per-pod load snapshots into a discrete
// backpressure level and an advisory scaling recommendation. It never
// adds or removes pods itself.
package backpressure

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/yanun0323/errors"

	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/model"
)

var ErrNotInitialized = errors.New("backpressure monitor not initialized")

const (
	defaultWindow          = 10
	defaultSnapshotTTL     = 30 * time.Second
	defaultCriticalRatio   = 0.3
	defaultScaleDownFactor = 0.25
	defaultMinInstances    = 1
)

// Config holds the classification bands and fleet policy.
type Config struct {
	Window          int           `json:"window"`
	SnapshotTTL     time.Duration `json:"snapshotTTL"`
	QueueDepth      Band          `json:"queueDepth"`
	GrowthRate      Band          `json:"growthRate"`
	P99LatencyMs    Band          `json:"p99LatencyMs"`
	ErrorRate       Band          `json:"errorRate"`
	CriticalRatio   float64       `json:"criticalRatio"`
	ScaleDownFactor float64       `json:"scaleDownFactor"`
	MinInstances    int           `json:"minInstances"`
	MaxInstances    int           `json:"maxInstances"`
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		Window:          defaultWindow,
		SnapshotTTL:     defaultSnapshotTTL,
		QueueDepth:      Band{Medium: 100, High: 500, Critical: 1000},
		GrowthRate:      Band{Medium: 10, High: 50, Critical: 100},
		P99LatencyMs:    Band{Medium: 50, High: 100, Critical: 200},
		ErrorRate:       Band{Medium: 0.01, High: 0.05, Critical: 0.10},
		CriticalRatio:   defaultCriticalRatio,
		ScaleDownFactor: defaultScaleDownFactor,
		MinInstances:    defaultMinInstances,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Window <= 0 {
		c.Window = d.Window
	}
	if c.SnapshotTTL <= 0 {
		c.SnapshotTTL = d.SnapshotTTL
	}
	if c.QueueDepth == (Band{}) {
		c.QueueDepth = d.QueueDepth
	}
	if c.GrowthRate == (Band{}) {
		c.GrowthRate = d.GrowthRate
	}
	if c.P99LatencyMs == (Band{}) {
		c.P99LatencyMs = d.P99LatencyMs
	}
	if c.ErrorRate == (Band{}) {
		c.ErrorRate = d.ErrorRate
	}
	if c.CriticalRatio <= 0 {
		c.CriticalRatio = d.CriticalRatio
	}
	if c.ScaleDownFactor <= 0 {
		c.ScaleDownFactor = d.ScaleDownFactor
	}
	if c.MinInstances <= 0 {
		c.MinInstances = d.MinInstances
	}
	return c
}

// Summary is the fleet-wide view. Pods and Average cover pods with a live
// snapshot; Stale counts pods whose newest snapshot outlived SnapshotTTL
// and that have not been forgotten yet.
type Summary struct {
	Pods    int
	Stale   int
	Levels  map[Level]int
	Average model.BackpressureSnapshot
	Level   Level
}

// Monitor keeps a rolling window of snapshots per pod.
type Monitor struct {
	cfg   Config
	clock func() time.Time

	mu          sync.RWMutex
	initialized bool
	windows     map[string][]model.BackpressureSnapshot
}

// NewMonitor creates a monitor. Initialize must be called before use.
func NewMonitor(cfg Config) *Monitor {
	return &Monitor{
		cfg:     cfg.withDefaults(),
		clock:   time.Now,
		windows: make(map[string][]model.BackpressureSnapshot),
	}
}

// SetClock replaces the wall clock.
func (m *Monitor) SetClock(clock func() time.Time) {
	m.mu.Lock()
	m.clock = clock
	m.mu.Unlock()
}

// Initialize clears all history and enables the monitor.
func (m *Monitor) Initialize() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.windows = make(map[string][]model.BackpressureSnapshot)
	m.initialized = true
}

// UpdateMetrics appends a snapshot to the pod's window. Snapshots that are
// not newer than the pod's latest one are ignored.
func (m *Monitor) UpdateMetrics(podID string, snap model.BackpressureSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return ErrNotInitialized
	}
	if snap.Timestamp.IsZero() {
		snap.Timestamp = m.clock()
	}
	snap.PodID = podID

	w := m.windows[podID]
	if n := len(w); n > 0 && !snap.Timestamp.After(w[n-1].Timestamp) {
		return nil
	}
	w = append(w, snap)
	if len(w) > m.cfg.Window {
		w = append(w[:0:0], w[len(w)-m.cfg.Window:]...)
	}
	m.windows[podID] = w
	return nil
}

// Forget drops a pod's history.
func (m *Monitor) Forget(podID string) {
	m.mu.Lock()
	delete(m.windows, podID)
	m.mu.Unlock()
}

// Classify returns the level of the single worst metric in snap.
func (m *Monitor) Classify(snap model.BackpressureSnapshot) Level {
	levels := [...]Level{
		m.cfg.QueueDepth.Classify(float64(snap.QueueDepth)),
		m.cfg.GrowthRate.Classify(snap.QueueGrowthRate),
		m.cfg.P99LatencyMs.Classify(float64(snap.P99Latency) / float64(time.Millisecond)),
		m.cfg.ErrorRate.Classify(snap.ErrorRate),
	}
	worst := LevelLow
	for _, l := range levels {
		if l > worst {
			worst = l
		}
	}
	return worst
}

// PodLevel is the worst level across the pod's snapshots that are still
// within SnapshotTTL. It reports false when none are.
func (m *Monitor) PodLevel(podID string) (Level, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.podLevelLocked(podID, m.clock())
}

// History returns a copy of the pod's snapshot window, oldest first.
func (m *Monitor) History(podID string) []model.BackpressureSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.BackpressureSnapshot(nil), m.windows[podID]...)
}

// FleetSummary aggregates the latest live snapshot of every pod.
func (m *Monitor) FleetSummary() Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.summaryLocked(m.clock())
}

// GetScalingRecommendation applies the fleet policy:
//   - too many critical or stale pods: scale up urgently
//   - fleet average above the HIGH bands: scale up
//   - more than one pod and average well below the MEDIUM bands: scale down
//   - otherwise maintain
func (m *Monitor) GetScalingRecommendation() Recommendation {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.initialized {
		return Recommendation{
			Action:          ActionMaintain,
			Reason:          ErrNotInitialized.Error(),
			TargetInstances: m.cfg.MinInstances,
			Urgency:         UrgencyLow,
		}
	}

	sum := m.summaryLocked(m.clock())
	n := sum.Pods
	if n == 0 {
		return Recommendation{
			Action:          ActionMaintain,
			Reason:          "no live pod metrics",
			TargetInstances: m.cfg.MinInstances,
			Urgency:         UrgencyLow,
		}
	}

	unhealthy := sum.Levels[LevelCritical] + sum.Stale
	if ratio := float64(unhealthy) / float64(n+sum.Stale); ratio > m.cfg.CriticalRatio {
		step := int(math.Ceil(float64(n) / 2))
		if step < 1 {
			step = 1
		}
		return Recommendation{
			Action:          ActionScaleUp,
			Reason:          fmt.Sprintf("%d of %d pods critical or unhealthy (%.0f%% > %.0f%%)", unhealthy, n+sum.Stale, ratio*100, m.cfg.CriticalRatio*100),
			TargetInstances: m.clamp(n + step),
			Urgency:         UrgencyHigh,
			Level:           LevelCritical,
		}
	}

	if sum.Level >= LevelHigh {
		return Recommendation{
			Action:          ActionScaleUp,
			Reason:          fmt.Sprintf("fleet average load is %s", sum.Level),
			TargetInstances: m.clamp(n + 1),
			Urgency:         UrgencyMedium,
			Level:           sum.Level,
		}
	}

	if n > 1 && m.wellBelowLocked(sum.Average) {
		return Recommendation{
			Action:          ActionScaleDown,
			Reason:          "fleet average load well below thresholds",
			TargetInstances: m.clamp(n - 1),
			Urgency:         UrgencyLow,
			Level:           sum.Level,
		}
	}

	return Recommendation{
		Action:          ActionMaintain,
		Reason:          fmt.Sprintf("fleet load %s", sum.Level),
		TargetInstances: m.clamp(n),
		Urgency:         UrgencyLow,
		Level:           sum.Level,
	}
}

func (m *Monitor) latestLocked(podID string, now time.Time) (model.BackpressureSnapshot, bool) {
	w := m.windows[podID]
	if len(w) == 0 {
		return model.BackpressureSnapshot{}, false
	}
	snap := w[len(w)-1]
	if now.Sub(snap.Timestamp) > m.cfg.SnapshotTTL {
		return model.BackpressureSnapshot{}, false
	}
	return snap, true
}

func (m *Monitor) podLevelLocked(podID string, now time.Time) (Level, bool) {
	worst, ok := LevelLow, false
	for _, snap := range m.windows[podID] {
		if now.Sub(snap.Timestamp) > m.cfg.SnapshotTTL {
			continue
		}
		ok = true
		if l := m.Classify(snap); l > worst {
			worst = l
		}
	}
	return worst, ok
}

func (m *Monitor) summaryLocked(now time.Time) Summary {
	sum := Summary{Levels: make(map[Level]int, 4)}
	live := make([]model.BackpressureSnapshot, 0, len(m.windows))
	for pod := range m.windows {
		snap, ok := m.latestLocked(pod, now)
		if !ok {
			sum.Stale++
			continue
		}
		live = append(live, snap)
		level, _ := m.podLevelLocked(pod, now)
		sum.Levels[level]++
	}
	sum.Pods = len(live)
	if len(live) == 0 {
		return sum
	}
	var (
		depth, growth, errRate, cpu, mem float64
		p50, p99                         time.Duration
	)
	for _, s := range live {
		depth += float64(s.QueueDepth)
		growth += s.QueueGrowthRate
		errRate += s.ErrorRate
		cpu += s.CPUUsage
		mem += s.MemoryUsage
		p50 += s.P50Latency
		p99 += s.P99Latency
	}
	n := float64(len(live))
	sum.Average = model.BackpressureSnapshot{
		QueueDepth:      int(math.Round(depth / n)),
		QueueGrowthRate: growth / n,
		ErrorRate:       errRate / n,
		CPUUsage:        cpu / n,
		MemoryUsage:     mem / n,
		P50Latency:      p50 / time.Duration(len(live)),
		P99Latency:      p99 / time.Duration(len(live)),
	}
	sum.Level = m.Classify(sum.Average)
	return sum
}

func (m *Monitor) wellBelowLocked(avg model.BackpressureSnapshot) bool {
	f := m.cfg.ScaleDownFactor
	return float64(avg.QueueDepth) < m.cfg.QueueDepth.Medium*f &&
		avg.QueueGrowthRate < m.cfg.GrowthRate.Medium*f &&
		float64(avg.P99Latency)/float64(time.Millisecond) < m.cfg.P99LatencyMs.Medium*f &&
		avg.ErrorRate < m.cfg.ErrorRate.Medium*f
}

func (m *Monitor) clamp(target int) int {
	if target < m.cfg.MinInstances {
		target = m.cfg.MinInstances
	}
	if m.cfg.MaxInstances > 0 && target > m.cfg.MaxInstances {
		target = m.cfg.MaxInstances
	}
	return target
}
