package compute

import (
	"strings"
	"time"

	"github.com/yanun0323/errors"

	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/model"
	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/model/enum"
)

const year = 365 * 24 * time.Hour

// Planner turns a tick into typed computation tasks. Params are decoded
// once here; workers never see raw payloads.
type Planner struct {
	Rate       float64 `json:"rate"`
	Windows    []int   `json:"windows"`
	MaxRetries int     `json:"maxRetries"`
}

// DefaultPlanner returns the planner defaults.
func DefaultPlanner() Planner {
	return Planner{Rate: 0.065, Windows: DefaultWindows, MaxRetries: 3}
}

// Plan builds the tasks for one tick. Explicit computation requests win
// over the class defaults; request params left empty are filled from the
// tick.
func (pl Planner) Plan(tick model.Tick, priority enum.Priority, now time.Time) ([]*model.ComputationTask, error) {
	if tick.InstrumentKey == "" {
		return nil, errors.Wrap(ErrInvalidParams, "tick without instrument key")
	}

	var params []model.Params
	if len(tick.Computations) > 0 {
		for _, req := range tick.Computations {
			if !req.Type.IsAvailable() {
				return nil, errors.Wrap(model.ErrUnknownComputation, string(req.Type)).With("instrument", tick.InstrumentKey)
			}
			p, err := model.DecodeParams(req.Type, req.Params)
			if err != nil {
				return nil, errors.Wrap(err, "plan").With("instrument", tick.InstrumentKey)
			}
			params = append(params, pl.fill(p, tick))
		}
	} else {
		params = pl.defaults(tick)
	}

	ts := tick.EventTime()
	if ts.IsZero() {
		ts = now
	}
	tasks := make([]*model.ComputationTask, 0, len(params))
	for _, p := range params {
		task := model.NewTask(tick.InstrumentKey, p, priority, pl.MaxRetries, ts)
		task.TickSeq = tick.Seq
		tasks = append(tasks, task)
	}
	return tasks, nil
}

func (pl Planner) defaults(tick model.Tick) []model.Params {
	if tick.Class == enum.InstrumentOption {
		return []model.Params{
			pl.fill(model.GreeksParams{}, tick),
			pl.fill(model.MoneynessParams{}, tick),
		}
	}
	return []model.Params{pl.fill(model.IndicatorParams{}, tick)}
}

func (pl Planner) fill(p model.Params, tick model.Tick) model.Params {
	spot := model.Float(tick.Underlying)
	if spot == 0 {
		spot = model.Float(tick.Price)
	}
	strike := model.Float(tick.Strike)
	call := !strings.EqualFold(tick.OptionType, "put") && !strings.EqualFold(tick.OptionType, "pe")

	switch v := p.(type) {
	case model.GreeksParams:
		if v.Spot == 0 {
			v.Spot = spot
		}
		if v.Strike == 0 {
			v.Strike = strike
			v.Call = call
		}
		if v.Volatility == 0 {
			v.Volatility = tick.Volatility
		}
		if v.Rate == 0 {
			v.Rate = pl.Rate
		}
		if v.Expiry == 0 {
			v.Expiry = yearsToExpiry(tick)
		}
		return v
	case model.MoneynessParams:
		if v.Spot == 0 {
			v.Spot = spot
		}
		if v.Strike == 0 {
			v.Strike = strike
			v.Call = call
		}
		return v
	case model.IndicatorParams:
		if v.Price == 0 {
			v.Price = model.Float(tick.Price)
		}
		if len(v.Windows) == 0 {
			v.Windows = pl.Windows
		}
		return v
	default:
		return p
	}
}

func yearsToExpiry(tick model.Tick) float64 {
	expiry := tick.ExpiryTime()
	if expiry.IsZero() {
		return 0
	}
	ref := tick.EventTime()
	if ref.IsZero() {
		ref = time.Now().UTC()
	}
	return float64(expiry.Sub(ref)) / float64(year)
}
