package mdg

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/compute"
	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/model"
	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/model/enum"
)

func TestParseUniverse(t *testing.T) {
	u, err := ParseUniverse("index/NSE:NIFTY@22000, equity/NSE:INFY@1500.5,")
	require.NoError(t, err)
	require.Len(t, u, 2)
	assert.Equal(t, Instrument{Key: "NSE:NIFTY", Class: enum.InstrumentIndex, Price: 22000}, u[0])
	assert.Equal(t, enum.InstrumentEquity, u[1].Class)
	assert.InDelta(t, 1500.5, u[1].Price, 1e-9)

	bad := []string{
		"",
		"NSE:INFY@10",
		"equity/NSE:INFY",
		"equity/NSE:INFY@-1",
		"option/NSE:X@1",
		"equity/A@1,equity/A@2",
	}
	for _, spec := range bad {
		_, err := ParseUniverse(spec)
		assert.Error(t, err, spec)
	}
}

func TestWithOptions(t *testing.T) {
	u, err := ParseUniverse("index/NSE:NIFTY@22013,equity/NSE:INFY@1500")
	require.NoError(t, err)

	all := WithOptions(u, OptionChain{Strikes: 2, StrikeStep: 0.005})
	// step snaps to 250: 21500..22500, call and put
	require.Len(t, all, 2+10)

	opt := all[2]
	assert.Equal(t, enum.InstrumentOption, opt.Class)
	assert.Equal(t, "NSE:NIFTY", opt.Underlying)
	assert.InDelta(t, 21500, opt.Strike, 1e-9)
	assert.Equal(t, "NSE:NIFTY21500CE", opt.Key)
	assert.True(t, opt.Call)
	assert.False(t, all[3].Call)

	assert.Equal(t, u, WithOptions(u, OptionChain{}))
}

func TestGeneratorRoundRobin(t *testing.T) {
	u, err := ParseUniverse("index/NSE:NIFTY@22000,equity/NSE:INFY@1500")
	require.NoError(t, err)
	u = WithOptions(u, OptionChain{Strikes: 1})

	g, err := NewGenerator(u, Config{Seed: 42, Volatility: 0.001})
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0)
	for i := 0; i < 2*len(u); i++ {
		tk := g.Next(now.Add(time.Duration(i) * time.Millisecond))
		assert.Equal(t, u[i%len(u)].Key, tk.InstrumentKey)
		assert.Equal(t, uint64(i+1), tk.Seq)
		assert.Positive(t, model.Float(tk.Price))

		if tk.Class == enum.InstrumentOption {
			assert.Positive(t, model.Float(tk.Underlying))
			assert.Positive(t, model.Float(tk.Strike))
			assert.Greater(t, tk.Expiry, tk.TsEvent)

			tasks, err := compute.DefaultPlanner().Plan(tk, enum.PriorityMedium, now)
			require.NoError(t, err)
			assert.Len(t, tasks, 2)
		}
	}
	assert.Equal(t, uint64(2*len(u)), g.Seq())
}

func TestGeneratorIsDeterministic(t *testing.T) {
	u, err := ParseUniverse("equity/NSE:INFY@1500")
	require.NoError(t, err)
	cfg := Config{Seed: 7, Volatility: 0.01, OrderFlowRate: 0.3, PremiumRate: 0.3}

	a, err := NewGenerator(u, cfg)
	require.NoError(t, err)
	b, err := NewGenerator(u, cfg)
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0)
	var flows int
	for i := 0; i < 100; i++ {
		ta, tb := a.Next(now), b.Next(now)
		assert.Equal(t, ta, tb)
		if ta.OrderFlow {
			flows++
		}
	}
	assert.Positive(t, flows)
	assert.Less(t, flows, 100)
}

func TestNewGeneratorRejects(t *testing.T) {
	_, err := NewGenerator(nil, Config{})
	assert.Error(t, err)

	_, err = NewGenerator([]Instrument{{Key: "X", Class: enum.InstrumentOption, Underlying: "MISSING", Strike: 1}}, Config{})
	assert.Error(t, err)

	u, _ := ParseUniverse("equity/A@1")
	_, err = NewGenerator(u, Config{OrderFlowRate: 2})
	assert.Error(t, err)
}
