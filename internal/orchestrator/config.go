package orchestrator

import (
	"fmt"
	"time"

	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/assignment"
	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/backpressure"
	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/shed"
)

const (
	defaultAckQueueSize    = 1024
	defaultResultQueueSize = 4096
	defaultShutdownTimeout = 10 * time.Second
	defaultRetryMin        = 100 * time.Millisecond
	defaultRetryMax        = 5 * time.Second
)

// LoadWeights combine queue saturation, CPU and memory into one load value.
type LoadWeights struct {
	Queue  float64 `json:"queue"`
	CPU    float64 `json:"cpu"`
	Memory float64 `json:"memory"`
}

// DefaultLoadWeights weigh queue saturation 0.5, CPU 0.3, memory 0.2.
func DefaultLoadWeights() LoadWeights {
	return LoadWeights{Queue: 0.5, CPU: 0.3, Memory: 0.2}
}

// Config is the pod identity plus loop timing.
type Config struct {
	PodID              string        `json:"podId"`
	Capacity           int           `json:"capacity"`
	HeartbeatInterval  time.Duration `json:"heartbeatInterval"`
	AssignmentInterval time.Duration `json:"assignmentInterval"`
	ShutdownTimeout    time.Duration `json:"shutdownTimeout"`
	AckQueueSize       int           `json:"ackQueueSize"`
	ResultQueueSize    int           `json:"resultQueueSize"`
	RetryMin           time.Duration `json:"retryMin"`
	RetryMax           time.Duration `json:"retryMax"`
	Load               LoadWeights   `json:"load"`

	// Benchmarks are instrument keys admitted as HIGH priority besides
	// index-class instruments.
	Benchmarks []string `json:"benchmarks"`
}

func (c Config) withDefaults() Config {
	if c.AssignmentInterval <= 0 {
		c.AssignmentInterval = c.HeartbeatInterval
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
	if c.AckQueueSize <= 0 {
		c.AckQueueSize = defaultAckQueueSize
	}
	if c.ResultQueueSize <= 0 {
		c.ResultQueueSize = defaultResultQueueSize
	}
	if c.RetryMin <= 0 {
		c.RetryMin = defaultRetryMin
	}
	if c.RetryMax < c.RetryMin {
		c.RetryMax = max(defaultRetryMax, c.RetryMin)
	}
	if c.Load == (LoadWeights{}) {
		c.Load = DefaultLoadWeights()
	}
	return c
}

// Validate checks the mandatory identity.
func (c Config) Validate() error {
	if c.PodID == "" {
		return fmt.Errorf("invalid orchestrator config: PodID is empty")
	}
	if c.Capacity <= 0 {
		return fmt.Errorf("invalid orchestrator config: Capacity must be > 0")
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("invalid orchestrator config: HeartbeatInterval must be > 0")
	}
	if c.Load.Queue < 0 || c.Load.CPU < 0 || c.Load.Memory < 0 {
		return fmt.Errorf("invalid orchestrator config: load weights must be >= 0")
	}
	return nil
}

// SchedulingContext holds the fleet-shared collaborators a pod schedules
// against. It is built once by the caller and passed in.
type SchedulingContext struct {
	Assignments *assignment.Manager
	Shedder     *shed.Shedder
	Monitor     *backpressure.Monitor
}

func (sc SchedulingContext) validate() error {
	if sc.Assignments == nil || sc.Shedder == nil || sc.Monitor == nil {
		return fmt.Errorf("invalid scheduling context: assignments, shedder and monitor are required")
	}
	return nil
}
