package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/model/enum"
)

// ComputationTask is one signal computation for one instrument. A task is
// owned by exactly one worker queue or worker at a time, so its mutable
// fields are only touched by the current owner.
type ComputationTask struct {
	ID            string
	InstrumentKey string
	Params        Params
	Priority      enum.Priority
	Timestamp     time.Time
	TickSeq       uint64
	RetryCount    int
	MaxRetries    int
	State         enum.TaskState
	LastErr       error
}

// NewTask creates a queued task with a fresh ID.
func NewTask(instrumentKey string, params Params, priority enum.Priority, maxRetries int, now time.Time) *ComputationTask {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &ComputationTask{
		ID:            uuid.NewString(),
		InstrumentKey: instrumentKey,
		Params:        params,
		Priority:      priority,
		Timestamp:     now,
		MaxRetries:    maxRetries,
		State:         enum.TaskQueued,
	}
}

// Type returns the computation type of the task's params.
func (t *ComputationTask) Type() enum.ComputationType {
	if t == nil || t.Params == nil {
		return ""
	}
	return t.Params.ComputationType()
}

// CanRetry reports whether another attempt is allowed.
func (t *ComputationTask) CanRetry() bool {
	return t.RetryCount < t.MaxRetries
}

// Age is the time since the task was created.
func (t *ComputationTask) Age(now time.Time) time.Duration {
	if t.Timestamp.IsZero() {
		return 0
	}
	return now.Sub(t.Timestamp)
}
