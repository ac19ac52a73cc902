package compute

import (
	"math"

	"github.com/yanun0323/errors"

	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/model"
)

// Greeks prices a European option with Black-Scholes and returns the price
// and first-order sensitivities. Vega and rho are per 1% move, theta per day.
func Greeks(p model.GreeksParams) (map[string]float64, error) {
	switch {
	case p.Spot <= 0:
		return nil, errors.Wrap(ErrInvalidParams, "spot must be positive")
	case p.Strike <= 0:
		return nil, errors.Wrap(ErrInvalidParams, "strike must be positive")
	case p.Volatility <= 0:
		return nil, errors.Wrap(ErrInvalidParams, "volatility must be positive")
	case p.Expiry <= 0:
		return nil, errors.Wrap(ErrInvalidParams, "option expired")
	}

	sqrtT := math.Sqrt(p.Expiry)
	d1 := (math.Log(p.Spot/p.Strike) + (p.Rate+p.Volatility*p.Volatility/2)*p.Expiry) / (p.Volatility * sqrtT)
	d2 := d1 - p.Volatility*sqrtT
	discount := math.Exp(-p.Rate * p.Expiry)
	pdf := normPDF(d1)

	out := map[string]float64{
		"gamma": pdf / (p.Spot * p.Volatility * sqrtT),
		"vega":  p.Spot * pdf * sqrtT / 100,
		"d1":    d1,
		"d2":    d2,
	}
	decay := -p.Spot * pdf * p.Volatility / (2 * sqrtT)
	if p.Call {
		out["price"] = p.Spot*normCDF(d1) - p.Strike*discount*normCDF(d2)
		out["delta"] = normCDF(d1)
		out["theta"] = (decay - p.Rate*p.Strike*discount*normCDF(d2)) / 365
		out["rho"] = p.Strike * p.Expiry * discount * normCDF(d2) / 100
	} else {
		out["price"] = p.Strike*discount*normCDF(-d2) - p.Spot*normCDF(-d1)
		out["delta"] = normCDF(d1) - 1
		out["theta"] = (decay + p.Rate*p.Strike*discount*normCDF(-d2)) / 365
		out["rho"] = -p.Strike * p.Expiry * discount * normCDF(-d2) / 100
	}
	return out, nil
}

func normCDF(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt2)
}

func normPDF(x float64) float64 {
	return math.Exp(-x*x/2) / math.Sqrt(2*math.Pi)
}
