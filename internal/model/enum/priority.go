package enum

import (
	"strings"

	"github.com/yanun0323/errors"
)

// Priority is the scheduling and admission tier of a unit of work.
// Higher values are more important.
type Priority uint8

const (
	_priority_beg Priority = iota
	PriorityLow
	PriorityMedium
	PriorityHigh
	PriorityCritical
	_priority_end
)

// Priorities lists every valid tier from lowest to highest.
var Priorities = []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical}

func (p Priority) IsAvailable() bool {
	return p > _priority_beg && p < _priority_end
}

// Urgent reports whether the task belongs at the front of a worker queue.
func (p Priority) Urgent() bool {
	return p >= PriorityHigh
}

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

func (p Priority) MarshalText() ([]byte, error) {
	if !p.IsAvailable() {
		return nil, errors.Errorf("invalid priority %d", p)
	}
	return []byte(p.String()), nil
}

func (p *Priority) UnmarshalText(text []byte) error {
	parsed, err := ParsePriority(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParsePriority accepts the lower or upper case tier name.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return PriorityLow, nil
	case "medium":
		return PriorityMedium, nil
	case "high":
		return PriorityHigh, nil
	case "critical":
		return PriorityCritical, nil
	default:
		return _priority_beg, errors.Errorf("unknown priority %q", s)
	}
}
