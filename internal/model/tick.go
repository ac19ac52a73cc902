package model

import (
	"encoding/json"
	"time"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/decimal"
	"github.com/yanun0323/errors"

	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/model/enum"
)

// Tick is one market update for a single instrument as it arrives on the
// transport. Price fields keep the exchange's decimal representation.
type Tick struct {
	InstrumentKey string               `json:"instrument_key"`
	Seq           uint64               `json:"seq"`
	Class         enum.InstrumentClass `json:"class"`
	Price         decimal.Decimal      `json:"price"`
	Underlying    decimal.Decimal      `json:"underlying"`
	Strike        decimal.Decimal      `json:"strike"`
	Volatility    float64              `json:"volatility,omitempty"`
	Expiry        int64                `json:"expiry,omitempty"` // unix nanos
	OptionType    string               `json:"option_type,omitempty"`
	OrderFlow     bool                 `json:"order_flow,omitempty"`
	TsEvent       int64                `json:"ts_event"`
	Tier          string               `json:"tier,omitempty"`

	// Computations, when present, overrides the default computation set
	// derived from Class. Params stay raw until task creation.
	Computations []ComputationRequest `json:"computations,omitempty"`
}

// ComputationRequest is an explicitly requested computation on a tick.
type ComputationRequest struct {
	Type   enum.ComputationType `json:"type"`
	Params json.RawMessage      `json:"params,omitempty"`
}

// EventTime returns the tick's exchange timestamp, or zero time.
func (t Tick) EventTime() time.Time {
	if t.TsEvent <= 0 {
		return time.Time{}
	}
	return time.Unix(0, t.TsEvent).UTC()
}

// ExpiryTime returns the option expiry, or zero time.
func (t Tick) ExpiryTime() time.Time {
	if t.Expiry <= 0 {
		return time.Time{}
	}
	return time.Unix(0, t.Expiry).UTC()
}

// Float converts a decimal price field for the numeric kernels.
func Float(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

var ErrMissingInstrument = errors.New("tick without instrument key")

type tickFields Tick

// UnmarshalJSON accepts prices as JSON strings or numbers.
func (t *Tick) UnmarshalJSON(b []byte) error {
	var aux struct {
		tickFields
		Price      jsonDecimal `json:"price"`
		Underlying jsonDecimal `json:"underlying"`
		Strike     jsonDecimal `json:"strike"`
	}
	if err := sonic.Unmarshal(b, &aux); err != nil {
		return err
	}
	*t = Tick(aux.tickFields)
	t.Price = decimal.Decimal(aux.Price)
	t.Underlying = decimal.Decimal(aux.Underlying)
	t.Strike = decimal.Decimal(aux.Strike)
	return nil
}

type jsonDecimal decimal.Decimal

func (d *jsonDecimal) UnmarshalJSON(b []byte) error {
	if s := string(b); s == "null" || s == `""` {
		return nil
	}
	v, err := decimal.New(string(b))
	if err != nil {
		return errors.Wrap(err, "decode decimal").With("value", string(b))
	}
	*d = jsonDecimal(v)
	return nil
}

// DecodeTick decodes one transport payload. Prices may be JSON strings or
// numbers.
func DecodeTick(raw []byte) (Tick, error) {
	var t Tick
	if err := sonic.Unmarshal(raw, &t); err != nil {
		return Tick{}, errors.Wrap(err, "decode tick")
	}
	if t.InstrumentKey == "" {
		return Tick{}, ErrMissingInstrument
	}
	return t, nil
}

// EncodeTick is the inverse of DecodeTick.
func EncodeTick(t Tick) ([]byte, error) {
	b, err := sonic.Marshal(t)
	if err != nil {
		return nil, errors.Wrap(err, "encode tick").With("instrument", t.InstrumentKey)
	}
	return b, nil
}

// DecimalFromFloat rounds f to places fractional digits.
func DecimalFromFloat(f float64, places int) decimal.Decimal {
	return decimal.NewFromFloat(f).Round(places)
}
