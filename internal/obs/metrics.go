package obs

import (
	"sync/atomic"
	"time"

	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/model/enum"
)

const (
	maxOutcome  = int(enum.TickInvalid)
	maxPriority = int(enum.PriorityCritical)
)

// Metrics collects the pod's lightweight counters and latency stats.
type Metrics struct {
	tickCounts [maxOutcome + 1]uint64
	shedCounts [maxPriority + 1]uint64

	resultsPublished uint64
	resultErrors     uint64
	ackDrops         uint64
	ackErrors        uint64
	consumeErrors    uint64
	registryErrors   uint64

	admissionLatency LatencyStats
	taskLatency      *Quantiles
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	Ticks            map[enum.TickOutcome]uint64
	Shed             map[enum.Priority]uint64
	ResultsPublished uint64
	ResultErrors     uint64
	AckDrops         uint64
	AckErrors        uint64
	ConsumeErrors    uint64
	RegistryErrors   uint64
	AdmissionLatency LatencySnapshot
	TaskP50          time.Duration
	TaskP99          time.Duration
}

// NewMetrics allocates a metrics container. Task latency quantiles carry
// the pod label.
func NewMetrics(podID string) *Metrics {
	return &Metrics{taskLatency: NewQuantiles("signal_task_latency_seconds", "Computation latency of completed tasks.", podID)}
}

// ObserveTick counts one consumed tick and, when the tick carries an event
// time, the delay from event to admission decision.
func (m *Metrics) ObserveTick(outcome enum.TickOutcome, eventTime, decidedAt time.Time) {
	if m == nil {
		return
	}
	if idx := int(outcome); outcome.IsAvailable() && idx < len(m.tickCounts) {
		atomic.AddUint64(&m.tickCounts[idx], 1)
	}
	if !eventTime.IsZero() {
		if delta := decidedAt.Sub(eventTime); delta >= 0 {
			m.admissionLatency.Observe(delta)
		}
	}
}

// IncShed counts a shed decision for a priority tier.
func (m *Metrics) IncShed(p enum.Priority) {
	if m == nil {
		return
	}
	if idx := int(p); p.IsAvailable() && idx < len(m.shedCounts) {
		atomic.AddUint64(&m.shedCounts[idx], 1)
	}
}

// ObserveTask records the latency of a completed task.
func (m *Metrics) ObserveTask(d time.Duration) {
	if m == nil {
		return
	}
	m.taskLatency.Observe(d)
}

func (m *Metrics) IncResultPublished() { m.inc(&m.resultsPublished) }
func (m *Metrics) IncResultError()     { m.inc(&m.resultErrors) }
func (m *Metrics) IncAckDrop()         { m.inc(&m.ackDrops) }
func (m *Metrics) IncAckError()        { m.inc(&m.ackErrors) }
func (m *Metrics) IncConsumeError()    { m.inc(&m.consumeErrors) }
func (m *Metrics) IncRegistryError()   { m.inc(&m.registryErrors) }

func (m *Metrics) inc(c *uint64) {
	if m == nil {
		return
	}
	atomic.AddUint64(c, 1)
}

// TaskQuantiles returns the current p50 and p99 task latency.
func (m *Metrics) TaskQuantiles() (p50, p99 time.Duration) {
	if m == nil {
		return 0, 0
	}
	return m.taskLatency.P50(), m.taskLatency.P99()
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	ticks := make(map[enum.TickOutcome]uint64)
	for i := range m.tickCounts {
		if v := atomic.LoadUint64(&m.tickCounts[i]); v > 0 {
			ticks[enum.TickOutcome(i)] = v
		}
	}
	shed := make(map[enum.Priority]uint64)
	for i := range m.shedCounts {
		if v := atomic.LoadUint64(&m.shedCounts[i]); v > 0 {
			shed[enum.Priority(i)] = v
		}
	}
	p50, p99 := m.TaskQuantiles()
	return Snapshot{
		Ticks:            ticks,
		Shed:             shed,
		ResultsPublished: atomic.LoadUint64(&m.resultsPublished),
		ResultErrors:     atomic.LoadUint64(&m.resultErrors),
		AckDrops:         atomic.LoadUint64(&m.ackDrops),
		AckErrors:        atomic.LoadUint64(&m.ackErrors),
		ConsumeErrors:    atomic.LoadUint64(&m.consumeErrors),
		RegistryErrors:   atomic.LoadUint64(&m.registryErrors),
		AdmissionLatency: m.admissionLatency.Snapshot(),
		TaskP50:          p50,
		TaskP99:          p99,
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		cur := atomic.LoadUint64(&l.min)
		if cur != 0 && nanos >= cur {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, cur, nanos) {
			break
		}
	}

	for {
		cur := atomic.LoadUint64(&l.max)
		if nanos <= cur {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, cur, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(atomic.LoadUint64(&l.min)),
		Max:   time.Duration(atomic.LoadUint64(&l.max)),
		Avg:   time.Duration(atomic.LoadUint64(&l.sum) / count),
	}
}
