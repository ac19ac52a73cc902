package orchestrator

import (
	"context"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/assignment"
	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/backpressure"
	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/model"
)

type heartbeatState struct {
	at        time.Time
	queued    int
	completed uint64
	dropped   uint64
	action    backpressure.Action
}

// Snapshot builds this pod's backpressure snapshot from the pool counters
// and the last resource sample. Rates are measured against the previous
// heartbeat.
func (o *Orchestrator) Snapshot(now time.Time) model.BackpressureSnapshot {
	pm := o.pool.GetPoolMetrics()
	u := o.usage.Latest()
	p50, p99 := o.metrics.TaskQuantiles()

	snap := model.BackpressureSnapshot{
		PodID:       o.cfg.PodID,
		QueueDepth:  int(pm.Queued),
		P50Latency:  p50,
		P99Latency:  p99,
		CPUUsage:    u.CPU,
		MemoryUsage: u.Memory,
		Timestamp:   now,
	}
	prev := o.hb
	if !prev.at.IsZero() {
		if dt := now.Sub(prev.at).Seconds(); dt > 0 {
			snap.QueueGrowthRate = float64(int(pm.Queued)-prev.queued) / dt
		}
		done := pm.Completed - prev.completed
		failed := pm.Dropped - prev.dropped
		if total := done + failed; total > 0 {
			snap.ErrorRate = float64(failed) / float64(total)
		}
	}
	o.hb.at = now
	o.hb.queued = int(pm.Queued)
	o.hb.completed = pm.Completed
	o.hb.dropped = pm.Dropped
	return snap
}

func (o *Orchestrator) heartbeat(ctx context.Context) {
	if _, err := o.usage.Refresh(ctx); err != nil {
		o.logLimited("resource sample failed, err: %+v", err)
	}
	snap := o.Snapshot(o.clock())

	err := o.sc.Assignments.UpdatePodMetrics(ctx, o.cfg.PodID, snap)
	if errors.Is(err, assignment.ErrUnknownPod) {
		// reaped while we were slow, join again
		logs.Warnf("pod missing from registry, re-registering, pod: %s", o.cfg.PodID)
		err = o.sc.Assignments.RegisterPod(ctx, o.cfg.PodID, o.cfg.Capacity)
		if err == nil {
			err = o.sc.Assignments.UpdatePodMetrics(ctx, o.cfg.PodID, snap)
		}
	}
	if err != nil {
		o.metrics.IncRegistryError()
		o.logLimited("heartbeat failed, pod: %s, err: %+v", o.cfg.PodID, err)
	}

	if err := o.sc.Assignments.Sync(ctx); err != nil {
		o.metrics.IncRegistryError()
		o.logLimited("sync pods failed, err: %+v", err)
	}
	for _, id := range o.sc.Assignments.PurgeStale(o.clock()) {
		o.sc.Monitor.Forget(id)
	}

	if err := o.sc.Monitor.UpdateMetrics(o.cfg.PodID, snap); err != nil {
		o.logLimited("update backpressure failed, err: %+v", err)
	}
	for _, pod := range o.sc.Assignments.Pods() {
		if pod.ID == o.cfg.PodID || pod.Metrics.Timestamp.IsZero() {
			continue
		}
		if err := o.sc.Monitor.UpdateMetrics(pod.ID, pod.Metrics); err != nil {
			o.logLimited("update backpressure failed, pod: %s, err: %+v", pod.ID, err)
		}
	}

	if o.msink != nil {
		if err := o.msink.Push(ctx, snap); err != nil {
			o.metrics.IncRegistryError()
			o.logLimited("push metrics failed, err: %+v", err)
		}
	}

	rec := o.sc.Monitor.GetScalingRecommendation()
	if rec.Action != o.hb.action {
		logs.Infof("scaling recommendation changed, action: %s, target: %d, urgency: %s, reason: %s",
			rec.Action, rec.TargetInstances, rec.Urgency, rec.Reason)
		o.hb.action = rec.Action
	}
}

// syncAssignments rebalances and reports the instruments this pod gained or
// lost since the last call. A failed rebalance diffs against the table
// already loaded.
func (o *Orchestrator) syncAssignments(ctx context.Context) {
	if err := o.sc.Assignments.Rebalance(ctx); err != nil {
		o.metrics.IncRegistryError()
		o.logLimited("rebalance failed, pod: %s, err: %+v", o.cfg.PodID, err)
	}
	current := o.sc.Assignments.GetPodAssignments(o.cfg.PodID)

	next := make(map[string]struct{}, len(current))
	var gained, lost int
	for _, key := range current {
		next[key] = struct{}{}
		if _, ok := o.assigned[key]; ok {
			continue
		}
		gained++
		if err := o.hooks.OnAssigned(ctx, key); err != nil {
			o.logLimited("assign hook failed, instrument: %s, err: %+v", key, err)
		}
	}
	for key := range o.assigned {
		if _, ok := next[key]; ok {
			continue
		}
		lost++
		if err := o.hooks.OnReleased(ctx, key); err != nil {
			o.logLimited("release hook failed, instrument: %s, err: %+v", key, err)
		}
	}
	o.assigned = next
	if gained > 0 || lost > 0 {
		logs.Infof("assignments changed, pod: %s, owned: %d, gained: %d, lost: %d", o.cfg.PodID, len(next), gained, lost)
	}
}

// Assigned returns the number of instruments this pod currently owns.
func (o *Orchestrator) Assigned() int {
	return len(o.assigned)
}
