package backpressure

// Level classifies how strained a pod or the fleet is.
type Level uint8

const (
	LevelLow Level = iota
	LevelMedium
	LevelHigh
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelLow:
		return "low"
	case LevelMedium:
		return "medium"
	case LevelHigh:
		return "high"
	case LevelCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Band holds the lower bounds at which a metric enters each level above LOW.
type Band struct {
	Medium   float64 `json:"medium"`
	High     float64 `json:"high"`
	Critical float64 `json:"critical"`
}

// Classify maps a metric value into a level.
func (b Band) Classify(v float64) Level {
	switch {
	case v >= b.Critical:
		return LevelCritical
	case v >= b.High:
		return LevelHigh
	case v >= b.Medium:
		return LevelMedium
	default:
		return LevelLow
	}
}

// Action is the advisory scaling direction.
type Action string

const (
	ActionScaleUp   Action = "scale_up"
	ActionScaleDown Action = "scale_down"
	ActionMaintain  Action = "maintain"
)

// Urgency is how quickly an external controller should act.
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

// Recommendation is read-only advice for an external scaling controller.
type Recommendation struct {
	Action          Action  `json:"action"`
	Reason          string  `json:"reason"`
	TargetInstances int     `json:"target_instances"`
	Urgency         Urgency `json:"urgency"`
	Level           Level   `json:"level"`
}
