package worker

// WorkerMetrics is a point-in-time view of one worker.
type WorkerMetrics struct {
	ID               int     `json:"id"`
	QueueSize        int     `json:"queue_size"`
	Processed        uint64  `json:"processed"`
	Stolen           uint64  `json:"stolen"`
	StealAttempts    uint64  `json:"steal_attempts"`
	StealSuccesses   uint64  `json:"steal_successes"`
	StealSuccessRate float64 `json:"steal_success_rate"`
}

// PoolMetrics aggregates every worker. Counters are read independently and
// may be mutually inconsistent by in-flight tasks.
type PoolMetrics struct {
	Workers []WorkerMetrics `json:"workers"`

	Queued     int    `json:"queued"`
	Capacity   int    `json:"capacity"`
	Running    int64  `json:"running"`
	Submitted  uint64 `json:"submitted"`
	Completed  uint64 `json:"completed"`
	Retried    uint64 `json:"retried"`
	Dropped    uint64 `json:"dropped"`
	Rejected   uint64 `json:"rejected"`
	Executions uint64 `json:"executions"`
	Failures   uint64 `json:"failures"`
	Stolen     uint64 `json:"stolen"`

	StealSuccessRate float64 `json:"steal_success_rate"`
	// LoadImbalance is the longest queue over the shortest (floored at 1).
	LoadImbalance float64 `json:"load_imbalance"`
	// Saturation is queued tasks over total queue capacity.
	Saturation float64 `json:"saturation"`
}

// Accounted reports whether every submitted task is completed, dropped,
// queued or running. It only holds while the pool is quiescent.
func (m PoolMetrics) Accounted() bool {
	return m.Submitted == m.Completed+m.Dropped+uint64(m.Queued)+uint64(m.Running)
}

// GetPoolMetrics snapshots the pool counters.
func (p *Pool) GetPoolMetrics() PoolMetrics {
	m := PoolMetrics{
		Workers:    make([]WorkerMetrics, len(p.workers)),
		Running:    p.running.Load(),
		Submitted:  p.submitted.Load(),
		Completed:  p.completed.Load(),
		Retried:    p.retried.Load(),
		Dropped:    p.dropped.Load(),
		Rejected:   p.rejected.Load(),
		Executions: p.executions.Load(),
		Failures:   p.failures.Load(),
	}

	var attempts, successes uint64
	longest, shortest := 0, -1
	for i, w := range p.workers {
		wm := WorkerMetrics{
			ID:             w.id,
			QueueSize:      w.queue.Len(),
			Processed:      w.queue.processed.Load(),
			Stolen:         w.queue.stolen.Load(),
			StealAttempts:  w.stealAttempts.Load(),
			StealSuccesses: w.stealSuccesses.Load(),
		}
		wm.StealSuccessRate = ratio(wm.StealSuccesses, wm.StealAttempts)
		m.Workers[i] = wm

		m.Queued += wm.QueueSize
		m.Capacity += w.queue.Limit()
		m.Stolen += wm.Stolen
		attempts += wm.StealAttempts
		successes += wm.StealSuccesses
		if wm.QueueSize > longest {
			longest = wm.QueueSize
		}
		if shortest < 0 || wm.QueueSize < shortest {
			shortest = wm.QueueSize
		}
	}

	m.StealSuccessRate = ratio(successes, attempts)
	m.LoadImbalance = 1
	if longest > 0 {
		m.LoadImbalance = float64(longest) / float64(max(shortest, 1))
	}
	if m.Capacity > 0 {
		m.Saturation = float64(m.Queued) / float64(m.Capacity)
	}
	return m
}

func ratio(n, d uint64) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

// Saturation is queued tasks over total queue capacity. It does not
// allocate, so the admission path can call it per tick.
func (p *Pool) Saturation() float64 {
	return float64(p.queued()) / float64(len(p.workers)*p.cfg.QueueSize)
}
