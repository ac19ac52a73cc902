package compute

import (
	"math"

	"github.com/yanun0323/errors"

	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/model"
)

// atmBand is the relative distance from strike still treated as at the money.
const atmBand = 0.005

// Moneyness compares spot to strike. "state" is 1 in the money, 0 at the
// money and -1 out of the money.
func Moneyness(p model.MoneynessParams) (map[string]float64, error) {
	if p.Spot <= 0 || p.Strike <= 0 {
		return nil, errors.Wrap(ErrInvalidParams, "spot and strike must be positive")
	}

	ratio := p.Spot / p.Strike
	intrinsic := math.Max(p.Spot-p.Strike, 0)
	if !p.Call {
		intrinsic = math.Max(p.Strike-p.Spot, 0)
	}

	state := 0.0
	switch {
	case math.Abs(ratio-1) <= atmBand:
	case intrinsic > 0:
		state = 1
	default:
		state = -1
	}

	return map[string]float64{
		"ratio":     ratio,
		"log_ratio": math.Log(ratio),
		"intrinsic": intrinsic,
		"state":     state,
	}, nil
}
