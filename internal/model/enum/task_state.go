package enum

// TaskState is the lifecycle position of a computation task.
//
//	queued -> running -> done
//	                  -> queued (retry, while retries remain)
//	                  -> dropped (retries exhausted or fatal error)
type TaskState uint8

const (
	TaskQueued TaskState = iota
	TaskRunning
	TaskDone
	TaskDropped
)

func (s TaskState) String() string {
	switch s {
	case TaskQueued:
		return "queued"
	case TaskRunning:
		return "running"
	case TaskDone:
		return "done"
	case TaskDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s TaskState) Terminal() bool {
	return s == TaskDone || s == TaskDropped
}
