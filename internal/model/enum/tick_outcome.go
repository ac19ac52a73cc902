package enum

// TickOutcome is what the pod did with one consumed tick.
type TickOutcome uint8

const (
	_tickOutcome_beg TickOutcome = iota
	TickAccepted
	TickShed
	TickNotOwner
	TickRejected // admitted but every worker queue was full
	TickInvalid
	_tickOutcome_end
)

// TickOutcomes lists every valid outcome.
var TickOutcomes = []TickOutcome{TickAccepted, TickShed, TickNotOwner, TickRejected, TickInvalid}

func (o TickOutcome) IsAvailable() bool {
	return o > _tickOutcome_beg && o < _tickOutcome_end
}

func (o TickOutcome) String() string {
	switch o {
	case TickAccepted:
		return "accepted"
	case TickShed:
		return "shed"
	case TickNotOwner:
		return "not_owner"
	case TickRejected:
		return "rejected"
	case TickInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}
