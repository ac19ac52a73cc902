package model

import (
	"time"

	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/model/enum"
)

// SignalResult is the output of one completed computation.
type SignalResult struct {
	InstrumentKey string               `json:"instrument_key"`
	Type          enum.ComputationType `json:"type"`
	TickSeq       uint64               `json:"tick_seq"`
	TaskID        string               `json:"task_id"`
	PodID         string               `json:"pod_id"`
	Values        map[string]float64   `json:"values"`
	ComputedAt    time.Time            `json:"computed_at"`
	Latency       time.Duration        `json:"latency"`
}
