package worker

import (
	"sync"
	"sync/atomic"

	"github.com/emirpasic/gods/lists/doublylinkedlist"

	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/model"
)

// Queue is one worker's bounded deque. Urgent tasks enter at the front and
// the rest at the back; the owner pops from the front and thieves take from
// the back, so stealing disturbs the victim's near-term work least.
type Queue struct {
	mu    sync.Mutex
	items *doublylinkedlist.List // protected by mu
	limit int

	size      atomic.Int64
	processed atomic.Uint64
	stolen    atomic.Uint64
}

// NewQueue creates a deque holding at most limit tasks.
func NewQueue(limit int) *Queue {
	if limit <= 0 {
		limit = 1
	}
	return &Queue{items: doublylinkedlist.New(), limit: limit}
}

// Push places a task by priority. It returns false when the queue is full.
func (q *Queue) Push(task *model.ComputationTask) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.items.Size() >= q.limit {
		return false
	}
	q.pushLocked(task)
	return true
}

// Pop removes the front task.
func (q *Queue) Pop() (*model.ComputationTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	v, ok := q.items.Get(0)
	if !ok {
		return nil, false
	}
	q.items.Remove(0)
	q.size.Add(-1)
	return v.(*model.ComputationTask), true
}

// StealBatch removes up to n tasks from the back of the queue. The tasks
// are returned in their queue order.
func (q *Queue) StealBatch(n int) []*model.ComputationTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n > q.items.Size() {
		n = q.items.Size()
	}
	if n <= 0 {
		return nil
	}
	out := make([]*model.ComputationTask, 0, n)
	for i := 0; i < n; i++ {
		last := q.items.Size() - 1
		v, _ := q.items.Get(last)
		q.items.Remove(last)
		out = append(out, v.(*model.ComputationTask))
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	q.size.Add(-int64(len(out)))
	return out
}

// Accept stores stolen tasks. Tasks that do not fit are returned.
func (q *Queue) Accept(tasks []*model.ComputationTask) []*model.ComputationTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, t := range tasks {
		if q.items.Size() >= q.limit {
			return tasks[i:]
		}
		q.pushLocked(t)
	}
	return nil
}

// Restore puts tasks back at the back regardless of the size limit. It is
// used only to return tasks that were already owned by this queue.
func (q *Queue) Restore(tasks []*model.ComputationTask) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, t := range tasks {
		q.items.Append(t)
	}
	q.size.Add(int64(len(tasks)))
}

// Drain removes and returns every task, front first.
func (q *Queue) Drain() []*model.ComputationTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*model.ComputationTask, 0, q.items.Size())
	it := q.items.Iterator()
	for it.Next() {
		out = append(out, it.Value().(*model.ComputationTask))
	}
	q.items.Clear()
	q.size.Store(0)
	return out
}

// Len is the current number of queued tasks.
func (q *Queue) Len() int {
	return int(q.size.Load())
}

// Limit is the maximum number of queued tasks.
func (q *Queue) Limit() int {
	return q.limit
}

func (q *Queue) pushLocked(task *model.ComputationTask) {
	if task.Priority.Urgent() {
		q.items.Prepend(task)
	} else {
		q.items.Append(task)
	}
	q.size.Add(1)
}
