package enum

// ComputationType names the signal family a task computes.
type ComputationType string

const (
	ComputationGreeks     ComputationType = "greeks"
	ComputationIndicators ComputationType = "indicators"
	ComputationMoneyness  ComputationType = "moneyness"
)

func (c ComputationType) IsAvailable() bool {
	switch c {
	case ComputationGreeks, ComputationIndicators, ComputationMoneyness:
		return true
	default:
		return false
	}
}
