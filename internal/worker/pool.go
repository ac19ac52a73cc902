// Package worker is the per-pod scheduler: a fixed set of workers, each
// owning a priority-biased deque, with idle workers stealing batches from
// the most loaded peers.
package worker

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emirpasic/gods/queues/priorityqueue"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	taskerr "github.com/raghurammutya/signal-service-codex-review-sub000/internal/errors"
	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/hashring"
	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/model"
	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/model/enum"
)

var (
	ErrAlreadyStarted = errors.New("worker pool already started")
	ErrNilExecutor    = errors.New("worker pool executor is nil")
	ErrRequeueFull    = errors.New("retry requeue rejected: queue full")
)

// Executor runs one computation. Errors are classified with the
// internal/errors kinds; unclassified errors are retried.
type Executor interface {
	Execute(ctx context.Context, task *model.ComputationTask) (model.SignalResult, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, task *model.ComputationTask) (model.SignalResult, error)

func (f ExecutorFunc) Execute(ctx context.Context, task *model.ComputationTask) (model.SignalResult, error) {
	return f(ctx, task)
}

// Hooks receive terminal task outcomes. They run on worker goroutines.
type Hooks struct {
	OnResult func(task *model.ComputationTask, result model.SignalResult)
	OnDrop   func(task *model.ComputationTask, err error)
}

type worker struct {
	id    int
	queue *Queue

	stealAttempts  atomic.Uint64
	stealSuccesses atomic.Uint64
}

// Pool is safe for concurrent use.
type Pool struct {
	cfg     Config
	exec    Executor
	hooks   Hooks
	workers []*worker

	rr    atomic.Uint64
	rngMu sync.Mutex
	rng   *rand.Rand

	submitted  atomic.Uint64
	completed  atomic.Uint64
	retried    atomic.Uint64
	dropped    atomic.Uint64
	rejected   atomic.Uint64
	executions atomic.Uint64
	failures   atomic.Uint64
	running    atomic.Int64

	started uint32
	stopped uint32
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewPool creates a pool. Tasks may be submitted before Start.
func NewPool(cfg Config, exec Executor, hooks Hooks) (*Pool, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if exec == nil {
		return nil, ErrNilExecutor
	}
	p := &Pool{
		cfg:     cfg,
		exec:    exec,
		hooks:   hooks,
		workers: make([]*worker, cfg.Workers),
		rng:     rand.New(rand.NewSource(cfg.Seed)),
	}
	for i := range p.workers {
		p.workers[i] = &worker{id: i, queue: NewQueue(cfg.QueueSize)}
	}
	return p, nil
}

// Start launches one goroutine per worker.
func (p *Pool) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapUint32(&p.started, 0, 1) {
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	for _, w := range p.workers {
		p.wg.Add(1)
		go func(w *worker) {
			defer p.wg.Done()
			p.run(ctx, w)
		}(w)
	}
	logs.Infof("worker pool started, workers: %d, queue size: %d, placement: %s", len(p.workers), p.cfg.QueueSize, p.cfg.Placement)
	return nil
}

// Stop halts the workers and waits for them. Queued tasks stay queued.
func (p *Pool) Stop() {
	if !atomic.CompareAndSwapUint32(&p.stopped, 0, 1) {
		return
	}
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	logs.Infof("worker pool stopped, queued: %d", p.queued())
}

// SubmitTask places a task on a worker queue. It returns false when the
// pool is stopped or every candidate queue is full.
func (p *Pool) SubmitTask(task *model.ComputationTask) bool {
	if task == nil || atomic.LoadUint32(&p.stopped) != 0 {
		return false
	}
	task.State = enum.TaskQueued

	w := p.place(task)
	if w.queue.Push(task) {
		p.submitted.Add(1)
		return true
	}
	if p.cfg.Placement != PlacementLeastLoaded {
		if alt := p.leastLoaded(); alt != w && alt.queue.Push(task) {
			p.submitted.Add(1)
			return true
		}
	}
	p.rejected.Add(1)
	return false
}

// SubmitBatch submits tasks in order and returns how many were accepted.
func (p *Pool) SubmitBatch(tasks []*model.ComputationTask) int {
	accepted := 0
	for _, t := range tasks {
		if p.SubmitTask(t) {
			accepted++
		}
	}
	return accepted
}

// Queue exposes worker i's deque.
func (p *Pool) Queue(i int) *Queue {
	return p.workers[i].queue
}

// Size is the number of workers.
func (p *Pool) Size() int {
	return len(p.workers)
}

// StealFor runs one steal cycle on behalf of worker i and returns the
// number of tasks moved.
func (p *Pool) StealFor(i int) int {
	return p.steal(p.workers[i])
}

// Rebalance drains every queue, orders all tasks by priority and deals
// them back round-robin. It is an administrative correction, not part of
// the steady-state path.
func (p *Pool) Rebalance() int {
	for _, w := range p.workers {
		w.queue.mu.Lock()
	}
	defer func() {
		for _, w := range p.workers {
			w.queue.mu.Unlock()
		}
	}()

	pq := priorityqueue.NewWith(byPriority)
	for _, w := range p.workers {
		it := w.queue.items.Iterator()
		for it.Next() {
			pq.Enqueue(it.Value())
		}
		w.queue.items.Clear()
		w.queue.size.Store(0)
	}

	total := pq.Size()
	for i := 0; pq.Size() > 0; i++ {
		v, _ := pq.Dequeue()
		q := p.workers[i%len(p.workers)].queue
		q.items.Append(v)
		q.size.Add(1)
	}
	logs.Infof("worker pool rebalanced, tasks: %d, workers: %d", total, len(p.workers))
	return total
}

func byPriority(a, b interface{}) int {
	ta, tb := a.(*model.ComputationTask), b.(*model.ComputationTask)
	if ta.Priority != tb.Priority {
		return int(tb.Priority) - int(ta.Priority)
	}
	switch {
	case ta.Timestamp.Before(tb.Timestamp):
		return -1
	case tb.Timestamp.Before(ta.Timestamp):
		return 1
	default:
		return 0
	}
}

func (p *Pool) run(ctx context.Context, w *worker) {
	backoff := p.cfg.MinBackoff
	for {
		if ctx.Err() != nil {
			return
		}
		task, ok := w.queue.Pop()
		if !ok {
			if p.steal(w) > 0 {
				continue
			}
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			backoff *= 2
			if backoff > p.cfg.MaxBackoff {
				backoff = p.cfg.MaxBackoff
			}
			continue
		}
		backoff = p.cfg.MinBackoff
		p.execute(ctx, w, task)
	}
}

func (p *Pool) execute(ctx context.Context, w *worker, task *model.ComputationTask) {
	task.State = enum.TaskRunning
	p.running.Add(1)
	defer p.running.Add(-1)

	start := time.Now()
	result, err := p.exec.Execute(ctx, task)
	p.executions.Add(1)

	if err == nil {
		task.State = enum.TaskDone
		task.LastErr = nil
		p.completed.Add(1)
		w.queue.processed.Add(1)
		if result.Latency == 0 {
			result.Latency = time.Since(start)
		}
		fillResult(&result, task)
		if p.hooks.OnResult != nil {
			p.hooks.OnResult(task, result)
		}
		return
	}

	if ctx.Err() != nil {
		// interrupted by shutdown, not a failed attempt
		task.State = enum.TaskQueued
		w.queue.Restore([]*model.ComputationTask{task})
		return
	}

	p.failures.Add(1)
	task.LastErr = err

	if !taskerr.IsFatal(err) && task.CanRetry() {
		task.RetryCount++
		task.State = enum.TaskQueued
		if w.queue.Push(task) {
			p.retried.Add(1)
			logs.Debugf("task requeued, task: %s, instrument: %s, retry: %d/%d, err: %+v", task.ID, task.InstrumentKey, task.RetryCount, task.MaxRetries, err)
			return
		}
		err = errors.Wrap(ErrRequeueFull, err.Error())
	}

	task.State = enum.TaskDropped
	p.dropped.Add(1)
	w.queue.processed.Add(1)
	logs.Warnf("task dropped, task: %s, instrument: %s, type: %s, retries: %d, err: %+v", task.ID, task.InstrumentKey, task.Type(), task.RetryCount, err)
	if p.hooks.OnDrop != nil {
		p.hooks.OnDrop(task, err)
	}
}

func fillResult(r *model.SignalResult, task *model.ComputationTask) {
	if r.InstrumentKey == "" {
		r.InstrumentKey = task.InstrumentKey
	}
	if r.Type == "" {
		r.Type = task.Type()
	}
	if r.TaskID == "" {
		r.TaskID = task.ID
	}
	if r.TickSeq == 0 {
		r.TickSeq = task.TickSeq
	}
	if r.ComputedAt.IsZero() {
		r.ComputedAt = time.Now().UTC()
	}
}

func (p *Pool) place(task *model.ComputationTask) *worker {
	switch p.cfg.Placement {
	case PlacementRoundRobin:
		return p.workers[(p.rr.Add(1)-1)%uint64(len(p.workers))]
	case PlacementInstrumentHash:
		return p.workers[hashring.HashKey(task.InstrumentKey)%uint64(len(p.workers))]
	default:
		return p.leastLoaded()
	}
}

func (p *Pool) leastLoaded() *worker {
	best := p.workers[0]
	for _, w := range p.workers[1:] {
		if w.queue.Len() < best.queue.Len() {
			best = w
		}
	}
	return best
}

// steal moves a batch from a randomly ordered eligible victim into thief's
// queue. A victim is eligible when it holds more than StealMargin tasks
// beyond the thief.
func (p *Pool) steal(thief *worker) int {
	own := thief.queue.Len()
	victims := make([]*worker, 0, len(p.workers)-1)
	for _, v := range p.workers {
		if v != thief && v.queue.Len() > own+p.cfg.StealMargin {
			victims = append(victims, v)
		}
	}
	if len(victims) == 0 {
		return 0
	}
	thief.stealAttempts.Add(1)

	p.rngMu.Lock()
	p.rng.Shuffle(len(victims), func(i, j int) { victims[i], victims[j] = victims[j], victims[i] })
	p.rngMu.Unlock()

	for _, v := range victims {
		diff := v.queue.Len() - thief.queue.Len()
		if diff <= p.cfg.StealMargin {
			continue
		}
		n := diff / 2
		if n > p.cfg.StealBatch {
			n = p.cfg.StealBatch
		}
		if n < 1 {
			n = 1
		}
		if free := thief.queue.Limit() - thief.queue.Len(); n > free {
			n = free
		}
		if n <= 0 {
			return 0
		}

		tasks := v.queue.StealBatch(n)
		if len(tasks) == 0 {
			continue
		}
		rest := thief.queue.Accept(tasks)
		if len(rest) > 0 {
			v.queue.Restore(rest)
		}
		moved := len(tasks) - len(rest)
		if moved == 0 {
			continue
		}
		thief.stealSuccesses.Add(1)
		thief.queue.stolen.Add(uint64(moved))
		return moved
	}
	return 0
}

func (p *Pool) queued() int {
	total := 0
	for _, w := range p.workers {
		total += w.queue.Len()
	}
	return total
}
