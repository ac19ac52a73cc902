package model

import "github.com/raghurammutya/signal-service-codex-review-sub000/internal/model/enum"

// ShedDecision is the outcome of one admission check. It is logged and
// counted, never persisted.
type ShedDecision struct {
	Priority        enum.Priority
	InstrumentKey   string
	CompositeLoad   float64
	ShedProbability float64
	Accepted        bool
	Reason          string
}
