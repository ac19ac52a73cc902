package orchestrator

import (
	"context"
	"time"

	"github.com/yanun0323/logs"

	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/model"
	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/model/enum"
	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/shed"
	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/transport"
)

// HandleTick makes the admission decision for one delivery and acks it.
// Every delivery is acked exactly once whatever the outcome: a tick that is
// shed, malformed or owned elsewhere is not redelivered to this pod.
func (o *Orchestrator) HandleTick(ctx context.Context, d transport.Delivery) enum.TickOutcome {
	outcome, eventTime := o.admit(d)
	o.ack(ctx, d)
	o.metrics.ObserveTick(outcome, eventTime, o.clock())
	return outcome
}

func (o *Orchestrator) admit(d transport.Delivery) (enum.TickOutcome, time.Time) {
	tick, err := model.DecodeTick(d.Value)
	if err != nil {
		o.logLimited("drop malformed tick, partition: %d, offset: %d, err: %+v", d.Partition, d.Offset, err)
		return enum.TickInvalid, time.Time{}
	}
	now := o.clock()
	eventTime := now
	if tick.TsEvent > 0 {
		eventTime = time.Unix(0, tick.TsEvent)
	}

	owner, err := o.sc.Assignments.GetInstrumentPod(tick.InstrumentKey)
	if err != nil {
		o.debugLimited("owner lookup failed, instrument: %s, err: %+v", tick.InstrumentKey, err)
		return enum.TickNotOwner, eventTime
	}
	if owner != o.cfg.PodID {
		o.debugLimited("tick owned by another pod, instrument: %s, owner: %s", tick.InstrumentKey, owner)
		return enum.TickNotOwner, eventTime
	}

	priority := o.priority(tick)
	meta := shed.Metadata{Tier: tick.Tier}
	if age := now.Sub(eventTime); age > 0 {
		meta.Age = age
	}
	decision := o.sc.Shedder.Decide(priority, o.load(), tick.InstrumentKey, meta)
	if !decision.Accepted {
		o.metrics.IncShed(priority)
		o.limited(logs.Infof, "tick shed, instrument: %s, priority: %s, load: %.2f, reason: %s",
			tick.InstrumentKey, priority, decision.CompositeLoad, decision.Reason)
		return enum.TickShed, eventTime
	}

	tasks, err := o.planner.Plan(tick, priority, now)
	if err != nil {
		o.logLimited("plan tick failed, instrument: %s, seq: %d, err: %+v", tick.InstrumentKey, tick.Seq, err)
		return enum.TickInvalid, eventTime
	}
	if accepted := o.pool.SubmitBatch(tasks); accepted == 0 {
		return enum.TickRejected, eventTime
	}
	return enum.TickAccepted, eventTime
}

// priority maps a tick to its admission tier: order-flow is CRITICAL,
// indices and configured benchmarks are HIGH, the rest MEDIUM. LOW is left
// for background work submitted by other callers.
func (o *Orchestrator) priority(tick model.Tick) enum.Priority {
	switch {
	case tick.OrderFlow:
		return enum.PriorityCritical
	case tick.Class == enum.InstrumentIndex:
		return enum.PriorityHigh
	}
	if _, ok := o.benchmarks[tick.InstrumentKey]; ok {
		return enum.PriorityHigh
	}
	return enum.PriorityMedium
}

// load is the composite pod load in [0,1].
func (o *Orchestrator) load() float64 {
	w := o.cfg.Load
	total := w.Queue + w.CPU + w.Memory
	if total <= 0 {
		return 0
	}
	u := o.usage.Latest()
	v := (w.Queue*o.pool.Saturation() + w.CPU*u.CPU + w.Memory*u.Memory) / total
	return min(max(v, 0), 1)
}
