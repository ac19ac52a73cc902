package compute

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanun0323/errors"

	taskerr "github.com/raghurammutya/signal-service-codex-review-sub000/internal/errors"
	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/model"
	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/model/enum"
)

var now = time.Date(2026, 1, 2, 9, 15, 0, 0, time.UTC)

func TestGreeksPutCallParity(t *testing.T) {
	in := model.GreeksParams{Spot: 100, Strike: 100, Volatility: 0.2, Rate: 0.05, Expiry: 1, Call: true}
	call, err := Greeks(in)
	require.NoError(t, err)
	in.Call = false
	put, err := Greeks(in)
	require.NoError(t, err)

	assert.InDelta(t, 10.4506, call["price"], 1e-3)
	assert.InDelta(t, 0.6368, call["delta"], 1e-3)
	assert.InDelta(t, call["delta"]-1, put["delta"], 1e-9)
	assert.InDelta(t, call["gamma"], put["gamma"], 1e-12)
	// C - P = S - K e^{-rT}
	assert.InDelta(t, 100-100*0.951229, call["price"]-put["price"], 1e-3)
}

func TestGreeksRejectsInvalidInput(t *testing.T) {
	testCases := []struct {
		desc string
		in   model.GreeksParams
	}{
		{desc: "zero spot", in: model.GreeksParams{Strike: 100, Volatility: 0.2, Expiry: 1}},
		{desc: "zero strike", in: model.GreeksParams{Spot: 100, Volatility: 0.2, Expiry: 1}},
		{desc: "zero vol", in: model.GreeksParams{Spot: 100, Strike: 100, Expiry: 1}},
		{desc: "expired", in: model.GreeksParams{Spot: 100, Strike: 100, Volatility: 0.2}},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			_, err := Greeks(tc.in)
			assert.True(t, errors.Is(err, ErrInvalidParams), "%+v", err)
		})
	}
}

func TestMoneyness(t *testing.T) {
	itm, err := Moneyness(model.MoneynessParams{Spot: 110, Strike: 100, Call: true})
	require.NoError(t, err)
	assert.Equal(t, 1.0, itm["state"])
	assert.InDelta(t, 10, itm["intrinsic"], 1e-9)

	otm, err := Moneyness(model.MoneynessParams{Spot: 110, Strike: 100, Call: false})
	require.NoError(t, err)
	assert.Equal(t, -1.0, otm["state"])
	assert.Zero(t, otm["intrinsic"])

	atm, err := Moneyness(model.MoneynessParams{Spot: 100.2, Strike: 100, Call: true})
	require.NoError(t, err)
	assert.Zero(t, atm["state"])
}

func TestIndicators(t *testing.T) {
	out := Indicators([]float64{1, 2, 3, 4, 5, 6}, []int{3, 10})
	assert.InDelta(t, 5, out["sma_3"], 1e-9)
	assert.InDelta(t, 3.5, out["sma_10"], 1e-9)
	assert.InDelta(t, 2, out["momentum_3"], 1e-9)
	assert.InDelta(t, 6, out["last"], 1e-9)
	assert.Empty(t, Indicators(nil, nil))
}

func TestComputerKeepsHistoryPerInstrument(t *testing.T) {
	c := NewComputer("pod-1", 3)
	for _, price := range []float64{10, 20, 30, 40} {
		task := model.NewTask("NSE:INFY", model.IndicatorParams{Price: price, Windows: []int{3}}, enum.PriorityMedium, 3, now)
		res, err := c.Execute(t.Context(), task)
		require.NoError(t, err)
		assert.Equal(t, "pod-1", res.PodID)
		assert.Equal(t, enum.ComputationIndicators, res.Type)
		if price == 40 {
			assert.InDelta(t, 30, res.Values["sma_3"], 1e-9)
		}
	}
	assert.Equal(t, 1, c.Tracked())
	c.Forget("NSE:INFY")
	assert.Zero(t, c.Tracked())
}

func TestComputerClassifiesErrors(t *testing.T) {
	c := NewComputer("pod-1", 0)

	_, err := c.Execute(t.Context(), model.NewTask("NSE:BAD", model.MoneynessParams{}, enum.PriorityLow, 3, now))
	assert.True(t, taskerr.IsFatal(err))

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err = c.Execute(ctx, model.NewTask("NSE:OK", model.MoneynessParams{Spot: 1, Strike: 1}, enum.PriorityLow, 3, now))
	assert.Equal(t, taskerr.KindRetryable, taskerr.KindOf(err))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPlanOptionTick(t *testing.T) {
	tick, err := model.DecodeTick([]byte(fmt.Sprintf(`{
		"instrument_key": "NSE:NIFTY26JAN24000CE",
		"seq": 7,
		"class": "option",
		"price": "120.5",
		"underlying": "24100",
		"strike": "24000",
		"volatility": 0.15,
		"expiry": %d,
		"option_type": "CE",
		"ts_event": %d
	}`, now.Add(30*24*time.Hour).UnixNano(), now.UnixNano())))
	require.NoError(t, err)

	tasks, err := DefaultPlanner().Plan(tick, enum.PriorityMedium, now)
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	g, ok := tasks[0].Params.(model.GreeksParams)
	require.True(t, ok)
	assert.InDelta(t, 24100, g.Spot, 1e-9)
	assert.InDelta(t, 24000, g.Strike, 1e-9)
	assert.True(t, g.Call)
	assert.InDelta(t, 30.0/365, g.Expiry, 1e-9)
	assert.Equal(t, uint64(7), tasks[0].TickSeq)
	assert.Equal(t, 3, tasks[0].MaxRetries)

	_, ok = tasks[1].Params.(model.MoneynessParams)
	assert.True(t, ok)

	for _, task := range tasks {
		_, err := NewComputer("pod-1", 0).Execute(t.Context(), task)
		assert.NoError(t, err)
	}
}

func TestPlanExplicitComputations(t *testing.T) {
	tick, err := model.DecodeTick([]byte(`{
		"instrument_key": "NSE:RELIANCE",
		"class": "equity",
		"price": "2950",
		"computations": [{"type": "indicators", "params": {"windows": [9]}}]
	}`))
	require.NoError(t, err)

	tasks, err := DefaultPlanner().Plan(tick, enum.PriorityHigh, now)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	p := tasks[0].Params.(model.IndicatorParams)
	assert.Equal(t, []int{9}, p.Windows)
	assert.InDelta(t, 2950, p.Price, 1e-9)
	assert.Equal(t, now, tasks[0].Timestamp)

	tick.Computations = []model.ComputationRequest{{Type: "vanna"}}
	_, err = DefaultPlanner().Plan(tick, enum.PriorityHigh, now)
	assert.True(t, errors.Is(err, model.ErrUnknownComputation), "%+v", err)
}
