package obs

import (
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Quantiles tracks streaming p50/p99 over a sliding window using a
// Prometheus summary, so the same estimate is exported and read back
// locally for backpressure snapshots.
type Quantiles struct {
	summary prometheus.Summary
}

func NewQuantiles(name, help, podID string) *Quantiles {
	return &Quantiles{summary: prometheus.NewSummary(prometheus.SummaryOpts{
		Name:        name,
		Help:        help,
		ConstLabels: prometheus.Labels{"pod": podID},
		Objectives:  map[float64]float64{0.5: 0.05, 0.99: 0.001},
		MaxAge:      time.Minute,
	})}
}

func (q *Quantiles) Observe(d time.Duration) {
	q.summary.Observe(d.Seconds())
}

func (q *Quantiles) P50() time.Duration { return q.quantile(0.5) }
func (q *Quantiles) P99() time.Duration { return q.quantile(0.99) }

func (q *Quantiles) quantile(want float64) time.Duration {
	var m dto.Metric
	if err := q.summary.Write(&m); err != nil {
		return 0
	}
	for _, qv := range m.GetSummary().GetQuantile() {
		if qv.GetQuantile() != want {
			continue
		}
		v := qv.GetValue()
		if math.IsNaN(v) {
			return 0
		}
		return time.Duration(v * float64(time.Second))
	}
	return 0
}

// Count is the number of observations.
func (q *Quantiles) Count() uint64 {
	var m dto.Metric
	if err := q.summary.Write(&m); err != nil {
		return 0
	}
	return m.GetSummary().GetSampleCount()
}
