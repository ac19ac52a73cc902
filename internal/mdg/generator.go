// Package mdg generates synthetic market ticks for local runs and load
// tests.
package mdg

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/compute"
	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/model"
	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/model/enum"
)

// Config controls the random walk and tick flags.
type Config struct {
	Seed          int64
	Volatility    float64 // per tick relative move
	Rate          float64
	OrderFlowRate float64
	PremiumRate   float64
}

func (c Config) Validate() error {
	if c.Volatility < 0 || c.Volatility > 0.5 {
		return fmt.Errorf("invalid generator config: volatility must be within [0, 0.5]")
	}
	if c.OrderFlowRate < 0 || c.OrderFlowRate > 1 {
		return fmt.Errorf("invalid generator config: orderFlowRate must be within [0, 1]")
	}
	if c.PremiumRate < 0 || c.PremiumRate > 1 {
		return fmt.Errorf("invalid generator config: premiumRate must be within [0, 1]")
	}
	return nil
}

// Generator creates ticks round robin over its universe. Index moves feed
// the option prices derived from them. Not safe for concurrent use.
type Generator struct {
	cfg         Config
	rng         *rand.Rand
	instruments []Instrument
	prices      map[string]float64
	start       time.Time
	index       int
	seq         uint64
}

// NewGenerator creates a generator for universe.
func NewGenerator(universe []Instrument, cfg Config) (*Generator, error) {
	if len(universe) == 0 {
		return nil, fmt.Errorf("universe has no instruments")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UTC().UnixNano()
	}
	if cfg.Rate == 0 {
		cfg.Rate = compute.DefaultPlanner().Rate
	}
	prices := make(map[string]float64, len(universe))
	for _, in := range universe {
		if in.Class != enum.InstrumentOption {
			prices[in.Key] = in.Price
		}
	}
	for _, in := range universe {
		if in.Class != enum.InstrumentOption {
			continue
		}
		if _, ok := prices[in.Underlying]; !ok {
			return nil, fmt.Errorf("option %s: underlying %s not in universe", in.Key, in.Underlying)
		}
	}
	return &Generator{
		cfg:         cfg,
		rng:         rand.New(rand.NewSource(cfg.Seed)),
		instruments: universe,
		prices:      prices,
	}, nil
}

// Seq is the sequence number of the last generated tick.
func (g *Generator) Seq() uint64 {
	return g.seq
}

// Next creates the next tick in sequence.
func (g *Generator) Next(now time.Time) model.Tick {
	if g.start.IsZero() {
		g.start = now
	}
	in := g.instruments[g.index]
	g.index = (g.index + 1) % len(g.instruments)
	g.seq++

	tick := model.Tick{
		InstrumentKey: in.Key,
		Seq:           g.seq,
		Class:         in.Class,
		TsEvent:       now.UnixNano(),
		OrderFlow:     g.roll(g.cfg.OrderFlowRate),
	}
	if g.roll(g.cfg.PremiumRate) {
		tick.Tier = "premium"
	}

	if in.Class != enum.InstrumentOption {
		price := g.prices[in.Key] * (1 + g.cfg.Volatility*g.rng.NormFloat64())
		price = math.Max(price, 0.01)
		g.prices[in.Key] = price
		tick.Price = model.DecimalFromFloat(price, 2)
		return tick
	}

	spot := g.prices[in.Underlying]
	expiry := in.Expiry - now.Sub(g.start)
	if expiry < time.Hour {
		expiry = time.Hour
	}
	years := expiry.Hours() / (24 * 365)
	price := math.Max(intrinsic(spot, in.Strike, in.Call), 0.05)
	if v, err := compute.Greeks(model.GreeksParams{
		Spot:       spot,
		Strike:     in.Strike,
		Volatility: in.Volatility,
		Rate:       g.cfg.Rate,
		Expiry:     years,
		Call:       in.Call,
	}); err == nil {
		price = math.Max(v["price"], 0.05)
	}

	optionType := "pe"
	if in.Call {
		optionType = "ce"
	}
	tick.Price = model.DecimalFromFloat(price, 2)
	tick.Underlying = model.DecimalFromFloat(spot, 2)
	tick.Strike = model.DecimalFromFloat(in.Strike, 2)
	tick.Volatility = in.Volatility
	tick.Expiry = now.Add(expiry).UnixNano()
	tick.OptionType = optionType
	return tick
}

func (g *Generator) roll(p float64) bool {
	return p > 0 && g.rng.Float64() < p
}

func intrinsic(spot, strike float64, call bool) float64 {
	if call {
		return math.Max(spot-strike, 0)
	}
	return math.Max(strike-spot, 0)
}
