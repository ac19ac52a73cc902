// Package orchestrator is the per-pod driver. It consumes ticks, keeps the
// ones this pod owns, admits them through the shedder and feeds the worker
// pool, while background loops heartbeat load and follow assignment
// changes.
package orchestrator

import (
	"context"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/bus"
	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/compute"
	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/model"
	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/obs"
	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/resource"
	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/transport"
	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/worker"
)

var ErrNoSource = errors.New("orchestrator needs a tick source")

// Deps are the pod-local collaborators. Only Source is required.
type Deps struct {
	Source      transport.TickSource
	Results     transport.ResultSink
	MetricsSink transport.MetricsSink
	Sampler     resource.Sampler
	Executor    worker.Executor
	Planner     *compute.Planner
	Hooks       InstrumentHooks
	Metrics     *obs.Metrics
	Worker      worker.Config
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithClock replaces the wall clock.
func WithClock(clock func() time.Time) Option {
	return func(o *Orchestrator) { o.clock = clock }
}

// Orchestrator drives one pod. Run may be called once.
type Orchestrator struct {
	cfg     Config
	sc      SchedulingContext
	source  transport.TickSource
	sink    transport.ResultSink
	msink   transport.MetricsSink
	usage   *resource.Cached
	planner compute.Planner
	hooks   InstrumentHooks
	metrics *obs.Metrics
	pool    *worker.Pool
	clock   func() time.Time

	acks      *bus.Queue[transport.Delivery]
	results   *bus.Queue[model.SignalResult]
	logRate   *rate.Limiter
	debugRate *rate.Limiter

	benchmarks map[string]struct{}
	assigned   map[string]struct{} // owned by the assignment loop
	hb         heartbeatState      // owned by the heartbeat loop
}

// New wires an orchestrator. The pool is created here but only started by
// Run.
func New(cfg Config, sc SchedulingContext, deps Deps, opts ...Option) (*Orchestrator, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := sc.validate(); err != nil {
		return nil, err
	}
	if deps.Source == nil {
		return nil, ErrNoSource
	}

	o := &Orchestrator{
		cfg:        cfg,
		sc:         sc,
		source:     deps.Source,
		sink:       deps.Results,
		msink:      deps.MetricsSink,
		metrics:    deps.Metrics,
		hooks:      deps.Hooks,
		clock:      time.Now,
		acks:       bus.NewQueue[transport.Delivery](cfg.AckQueueSize),
		results:    bus.NewQueue[model.SignalResult](cfg.ResultQueueSize),
		logRate:    rate.NewLimiter(rate.Every(time.Second), 10),
		debugRate:  rate.NewLimiter(rate.Every(time.Second), 10),
		benchmarks: make(map[string]struct{}, len(cfg.Benchmarks)),
		assigned:   make(map[string]struct{}),
	}
	for _, k := range cfg.Benchmarks {
		o.benchmarks[k] = struct{}{}
	}
	if o.metrics == nil {
		o.metrics = obs.NewMetrics(cfg.PodID)
	}
	if deps.Planner != nil {
		o.planner = *deps.Planner
	} else {
		o.planner = compute.DefaultPlanner()
	}
	sampler := deps.Sampler
	if sampler == nil {
		sampler = resource.HostSampler{}
	}
	o.usage = resource.NewCached(sampler, cfg.HeartbeatInterval)

	exec := deps.Executor
	if exec == nil {
		computer := compute.NewComputer(cfg.PodID, 0)
		exec = computer
		if o.hooks == nil {
			o.hooks = ComputerHooks{Computer: computer}
		}
	}
	if o.hooks == nil {
		o.hooks = NopHooks{}
	}

	pool, err := worker.NewPool(deps.Worker, exec, worker.Hooks{OnResult: o.onResult})
	if err != nil {
		return nil, err
	}
	o.pool = pool

	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Pool exposes the worker pool for metrics export.
func (o *Orchestrator) Pool() *worker.Pool { return o.pool }

// Metrics exposes the pod counters.
func (o *Orchestrator) Metrics() *obs.Metrics { return o.metrics }

// Run registers the pod, starts the workers and the loops, and blocks until
// ctx is done. It then shuts down and returns nil; loop failures are
// absorbed and logged, never returned.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.register(ctx); err != nil {
		return err
	}
	o.sc.Monitor.Initialize()
	if _, err := o.usage.Refresh(ctx); err != nil {
		logs.Warnf("initial resource sample failed, err: %+v", err)
	}
	if err := o.pool.Start(ctx); err != nil {
		return err
	}
	o.syncAssignments(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { o.consumeLoop(gctx); return nil })
	g.Go(func() error { o.every(gctx, o.cfg.HeartbeatInterval, o.heartbeat); return nil })
	g.Go(func() error { o.every(gctx, o.cfg.AssignmentInterval, o.syncAssignments); return nil })
	g.Go(func() error { o.acks.Run(gctx, o.commit(gctx)); return nil })
	g.Go(func() error { o.results.Run(gctx, o.publish(gctx)); return nil })
	logs.Infof("pod running, pod: %s, capacity: %d, heartbeat: %s, workers: %d", o.cfg.PodID, o.cfg.Capacity, o.cfg.HeartbeatInterval, o.pool.Size())

	err := g.Wait()
	o.shutdown(ctx)
	return err
}

// register retries with backoff until the registry accepts the pod or ctx
// ends.
func (o *Orchestrator) register(ctx context.Context) error {
	backoff := o.cfg.RetryMin
	for {
		err := o.sc.Assignments.RegisterPod(ctx, o.cfg.PodID, o.cfg.Capacity)
		if err == nil {
			return nil
		}
		o.metrics.IncRegistryError()
		logs.Warnf("register pod failed, pod: %s, retry in: %s, err: %+v", o.cfg.PodID, backoff, err)
		if !sleep(ctx, backoff) {
			return ctx.Err()
		}
		backoff = min(backoff*2, o.cfg.RetryMax)
	}
}

func (o *Orchestrator) consumeLoop(ctx context.Context) {
	backoff := o.cfg.RetryMin
	for ctx.Err() == nil {
		d, err := o.source.Fetch(ctx)
		switch {
		case err == nil:
			backoff = o.cfg.RetryMin
			o.HandleTick(ctx, d)
		case errors.Is(err, transport.ErrNoMessage):
		case ctx.Err() != nil:
			return
		default:
			o.metrics.IncConsumeError()
			logs.Warnf("fetch tick failed, retry in: %s, err: %+v", backoff, err)
			if !sleep(ctx, backoff) {
				return
			}
			backoff = min(backoff*2, o.cfg.RetryMax)
		}
	}
}

func (o *Orchestrator) every(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

func (o *Orchestrator) onResult(task *model.ComputationTask, result model.SignalResult) {
	result.PodID = o.cfg.PodID
	o.metrics.ObserveTask(result.Latency)
	if err := o.results.TryPublish(result); err != nil {
		o.metrics.IncResultError()
		o.logLimited("result dropped before sink, instrument: %s, task: %s, err: %+v", task.InstrumentKey, task.ID, err)
	}
}

func (o *Orchestrator) publish(ctx context.Context) func(model.SignalResult) {
	return func(r model.SignalResult) {
		if o.sink == nil {
			return
		}
		if err := o.sink.Publish(ctx, r); err != nil {
			o.metrics.IncResultError()
			o.logLimited("publish result failed, instrument: %s, seq: %d, err: %+v", r.InstrumentKey, r.TickSeq, err)
			return
		}
		o.metrics.IncResultPublished()
	}
}

func (o *Orchestrator) commit(ctx context.Context) func(transport.Delivery) {
	return func(d transport.Delivery) {
		if err := o.source.Commit(ctx, d); err != nil {
			o.metrics.IncAckError()
			o.logLimited("commit tick failed, partition: %d, offset: %d, err: %+v", d.Partition, d.Offset, err)
		}
	}
}

// ack hands a delivery to the ack loop. When that queue is full the
// commit happens inline rather than being skipped.
func (o *Orchestrator) ack(ctx context.Context, d transport.Delivery) {
	if err := o.acks.TryPublish(d); err != nil {
		o.metrics.IncAckDrop()
		o.commit(ctx)(d)
	}
}

func (o *Orchestrator) shutdown(ctx context.Context) {
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.ShutdownTimeout)
	defer cancel()

	o.pool.Stop()
	o.acks.Close()
	o.results.Close()
	acked := o.acks.Drain(o.commit(stopCtx))
	published := o.results.Drain(o.publish(stopCtx))

	if err := o.sc.Assignments.UnregisterPod(stopCtx, o.cfg.PodID); err != nil {
		logs.Errorf("unregister pod failed, pod: %s, err: %+v", o.cfg.PodID, err)
	}
	if err := o.source.Close(); err != nil {
		logs.Warnf("close tick source failed, err: %+v", err)
	}
	if o.sink != nil {
		if err := o.sink.Close(); err != nil {
			logs.Warnf("close result sink failed, err: %+v", err)
		}
	}

	pm := o.pool.GetPoolMetrics()
	if pm.Queued > 0 {
		// their ticks are already committed and will not be redelivered
		logs.Warnf("shutdown lost queued tasks, pod: %s, tasks: %d", o.cfg.PodID, pm.Queued)
	}
	logs.Infof("pod stopped, pod: %s, acks drained: %d, results drained: %d, completed: %d, dropped: %d",
		o.cfg.PodID, acked, published, pm.Completed, pm.Dropped)
}

func (o *Orchestrator) logLimited(format string, args ...any) {
	o.limited(logs.Warnf, format, args...)
}

// debugLimited has its own budget; foreign-instrument ticks are the
// common case once every pod reads the whole stream.
func (o *Orchestrator) debugLimited(format string, args ...any) {
	if o.debugRate.Allow() {
		logs.Debugf(format, args...)
	}
}

func (o *Orchestrator) limited(logf func(string, ...any), format string, args ...any) {
	if o.logRate.Allow() {
		logf(format, args...)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
