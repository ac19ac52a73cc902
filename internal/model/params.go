package model

import (
	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"

	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/model/enum"
)

// Params is the closed set of typed computation inputs. Each
// ComputationType has exactly one implementation.
type Params interface {
	ComputationType() enum.ComputationType
	params()
}

// GreeksParams are Black-Scholes inputs. Expiry is in years.
type GreeksParams struct {
	Spot       float64 `json:"spot"`
	Strike     float64 `json:"strike"`
	Volatility float64 `json:"volatility"`
	Rate       float64 `json:"rate"`
	Expiry     float64 `json:"expiry"`
	Call       bool    `json:"call"`
}

// IndicatorParams select rolling indicators over the instrument's price history.
type IndicatorParams struct {
	Price   float64 `json:"price"`
	Windows []int   `json:"windows"`
}

// MoneynessParams compare spot to strike.
type MoneynessParams struct {
	Spot   float64 `json:"spot"`
	Strike float64 `json:"strike"`
	Call   bool    `json:"call"`
}

func (GreeksParams) ComputationType() enum.ComputationType    { return enum.ComputationGreeks }
func (IndicatorParams) ComputationType() enum.ComputationType { return enum.ComputationIndicators }
func (MoneynessParams) ComputationType() enum.ComputationType { return enum.ComputationMoneyness }

func (GreeksParams) params()    {}
func (IndicatorParams) params() {}
func (MoneynessParams) params() {}

var ErrUnknownComputation = errors.New("unknown computation type")

// DecodeParams decodes raw JSON params into the typed variant for t.
func DecodeParams(t enum.ComputationType, raw []byte) (Params, error) {
	switch t {
	case enum.ComputationGreeks:
		var p GreeksParams
		if err := unmarshalParams(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	case enum.ComputationIndicators:
		var p IndicatorParams
		if err := unmarshalParams(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	case enum.ComputationMoneyness:
		var p MoneynessParams
		if err := unmarshalParams(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, errors.Wrap(ErrUnknownComputation, string(t))
	}
}

func unmarshalParams(raw []byte, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := sonic.Unmarshal(raw, dst); err != nil {
		return errors.Wrap(err, "decode params").With("raw", string(raw))
	}
	return nil
}
