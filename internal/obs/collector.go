package obs

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/worker"
)

var (
	_ prometheus.Collector = (*Collector)(nil)
)

// Collector exports Metrics and the worker pool state to Prometheus.
// Values are read at scrape time.
type Collector struct {
	m    *Metrics
	pool func() worker.PoolMetrics

	ticks        *prometheus.Desc
	shed         *prometheus.Desc
	results      *prometheus.Desc
	errorsDesc   *prometheus.Desc
	poolTasks    *prometheus.Desc
	poolQueued   *prometheus.Desc
	poolRunning  *prometheus.Desc
	poolSteal    *prometheus.Desc
	poolBalance  *prometheus.Desc
	workerQueued *prometheus.Desc
}

// NewCollector builds a collector for one pod. pool may be nil.
func NewCollector(podID string, m *Metrics, pool func() worker.PoolMetrics) *Collector {
	labels := prometheus.Labels{"pod": podID}
	desc := func(name, help string, variable ...string) *prometheus.Desc {
		return prometheus.NewDesc(name, help, variable, labels)
	}
	return &Collector{
		m:            m,
		pool:         pool,
		ticks:        desc("signal_ticks_total", "Consumed ticks by outcome.", "outcome"),
		shed:         desc("signal_shed_total", "Shed admissions by priority.", "priority"),
		results:      desc("signal_results_published_total", "Results written to the result sink."),
		errorsDesc:   desc("signal_errors_total", "Absorbed failures by source.", "source"),
		poolTasks:    desc("signal_pool_tasks_total", "Worker pool task transitions.", "state"),
		poolQueued:   desc("signal_pool_queued", "Tasks waiting in worker queues."),
		poolRunning:  desc("signal_pool_running", "Tasks currently executing."),
		poolSteal:    desc("signal_pool_steal_success_ratio", "Successful steal cycles over attempted ones."),
		poolBalance:  desc("signal_pool_load_imbalance", "Longest worker queue over the shortest."),
		workerQueued: desc("signal_worker_queued", "Tasks waiting in one worker queue.", "worker"),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.ticks, c.shed, c.results, c.errorsDesc, c.poolTasks,
		c.poolQueued, c.poolRunning, c.poolSteal, c.poolBalance, c.workerQueued,
	} {
		ch <- d
	}
	c.m.taskLatency.summary.Describe(ch)
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.m.Snapshot()
	for outcome, n := range snap.Ticks {
		ch <- prometheus.MustNewConstMetric(c.ticks, prometheus.CounterValue, float64(n), outcome.String())
	}
	for p, n := range snap.Shed {
		ch <- prometheus.MustNewConstMetric(c.shed, prometheus.CounterValue, float64(n), p.String())
	}
	ch <- prometheus.MustNewConstMetric(c.results, prometheus.CounterValue, float64(snap.ResultsPublished))
	for source, n := range map[string]uint64{
		"result":   snap.ResultErrors,
		"ack":      snap.AckErrors,
		"ack_drop": snap.AckDrops,
		"consume":  snap.ConsumeErrors,
		"registry": snap.RegistryErrors,
	} {
		ch <- prometheus.MustNewConstMetric(c.errorsDesc, prometheus.CounterValue, float64(n), source)
	}
	c.m.taskLatency.summary.Collect(ch)

	if c.pool == nil {
		return
	}
	pm := c.pool()
	for state, n := range map[string]uint64{
		"submitted": pm.Submitted,
		"completed": pm.Completed,
		"retried":   pm.Retried,
		"dropped":   pm.Dropped,
		"rejected":  pm.Rejected,
		"stolen":    pm.Stolen,
	} {
		ch <- prometheus.MustNewConstMetric(c.poolTasks, prometheus.CounterValue, float64(n), state)
	}
	ch <- prometheus.MustNewConstMetric(c.poolQueued, prometheus.GaugeValue, float64(pm.Queued))
	ch <- prometheus.MustNewConstMetric(c.poolRunning, prometheus.GaugeValue, float64(pm.Running))
	ch <- prometheus.MustNewConstMetric(c.poolSteal, prometheus.GaugeValue, pm.StealSuccessRate)
	ch <- prometheus.MustNewConstMetric(c.poolBalance, prometheus.GaugeValue, pm.LoadImbalance)
	for _, w := range pm.Workers {
		ch <- prometheus.MustNewConstMetric(c.workerQueued, prometheus.GaugeValue, float64(w.QueueSize), strconv.Itoa(w.ID))
	}
}
