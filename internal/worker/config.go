package worker

import (
	"fmt"
	"strings"
	"time"
)

const (
	defaultWorkers     = 8
	defaultQueueSize   = 1000
	defaultStealMargin = 2
	defaultStealBatch  = 32
	defaultMinBackoff  = time.Millisecond
	defaultMaxBackoff  = time.Second
)

// Placement chooses the worker queue for a newly submitted task.
type Placement uint8

const (
	PlacementLeastLoaded Placement = iota
	PlacementRoundRobin
	PlacementInstrumentHash
)

func (p Placement) String() string {
	switch p {
	case PlacementLeastLoaded:
		return "least_loaded"
	case PlacementRoundRobin:
		return "round_robin"
	case PlacementInstrumentHash:
		return "instrument_hash"
	default:
		return "unknown"
	}
}

func (p Placement) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Placement) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "", "least_loaded":
		*p = PlacementLeastLoaded
	case "round_robin":
		*p = PlacementRoundRobin
	case "instrument_hash", "hash":
		*p = PlacementInstrumentHash
	default:
		return fmt.Errorf("unknown placement %q", text)
	}
	return nil
}

// Config controls the worker pool.
type Config struct {
	Workers     int           `json:"workers"`
	QueueSize   int           `json:"queueSize"`
	StealMargin int           `json:"stealMargin"`
	StealBatch  int           `json:"stealBatch"`
	MinBackoff  time.Duration `json:"minBackoff"`
	MaxBackoff  time.Duration `json:"maxBackoff"`
	Placement   Placement     `json:"placement"`
	Seed        int64         `json:"seed"`
}

// DefaultConfig returns the pool defaults.
func DefaultConfig() Config {
	return Config{
		Workers:     defaultWorkers,
		QueueSize:   defaultQueueSize,
		StealMargin: defaultStealMargin,
		StealBatch:  defaultStealBatch,
		MinBackoff:  defaultMinBackoff,
		MaxBackoff:  defaultMaxBackoff,
		Placement:   PlacementLeastLoaded,
	}
}

func (c Config) withDefaults() Config {
	if c.Workers == 0 {
		c.Workers = defaultWorkers
	}
	if c.QueueSize == 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.StealMargin == 0 {
		c.StealMargin = defaultStealMargin
	}
	if c.StealBatch == 0 {
		c.StealBatch = defaultStealBatch
	}
	if c.MinBackoff == 0 {
		c.MinBackoff = defaultMinBackoff
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = defaultMaxBackoff
	}
	if c.Seed == 0 {
		c.Seed = time.Now().UTC().UnixNano()
	}
	return c
}

// Validate checks if the configuration is usable.
func (c Config) Validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("invalid worker config: Workers must be > 0")
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("invalid worker config: QueueSize must be > 0")
	}
	if c.StealMargin < 0 {
		return fmt.Errorf("invalid worker config: StealMargin must be >= 0")
	}
	if c.StealBatch <= 0 {
		return fmt.Errorf("invalid worker config: StealBatch must be > 0")
	}
	if c.MinBackoff <= 0 || c.MaxBackoff < c.MinBackoff {
		return fmt.Errorf("invalid worker config: backoff must satisfy 0 < MinBackoff <= MaxBackoff")
	}
	return nil
}
