package mdg

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/model/enum"
)

// Instrument is one entry of the synthetic universe.
type Instrument struct {
	Key        string
	Class      enum.InstrumentClass
	Price      float64
	Underlying string // option only
	Strike     float64
	Call       bool
	Expiry     time.Duration // time to expiry at generator start
	Volatility float64
}

// ParseUniverse reads comma separated "class/KEY@price" entries, for
// example "index/NSE:NIFTY@22000,equity/NSE:INFY@1500".
func ParseUniverse(spec string) ([]Instrument, error) {
	var out []Instrument
	seen := make(map[string]struct{})
	for _, raw := range strings.Split(spec, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		class, rest, ok := strings.Cut(raw, "/")
		if !ok {
			return nil, fmt.Errorf("universe entry %q: missing class", raw)
		}
		key, price, ok := strings.Cut(rest, "@")
		if !ok || key == "" {
			return nil, fmt.Errorf("universe entry %q: want class/KEY@price", raw)
		}
		p, err := strconv.ParseFloat(price, 64)
		if err != nil || p <= 0 {
			return nil, fmt.Errorf("universe entry %q: invalid price", raw)
		}
		c := enum.InstrumentClass(strings.ToLower(class))
		switch c {
		case enum.InstrumentEquity, enum.InstrumentIndex, enum.InstrumentFuture:
		default:
			return nil, fmt.Errorf("universe entry %q: unsupported class %s", raw, class)
		}
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("universe entry %q: duplicate key", raw)
		}
		seen[key] = struct{}{}
		out = append(out, Instrument{Key: key, Class: c, Price: p})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("universe is empty")
	}
	return out, nil
}

// OptionChain describes the strikes generated around each index.
type OptionChain struct {
	Strikes    int     // per side of the money
	StrikeStep float64 // as a fraction of spot
	Expiry     time.Duration
	Volatility float64
}

// WithOptions appends a call and a put per strike for every index.
func WithOptions(universe []Instrument, chain OptionChain) []Instrument {
	if chain.Strikes <= 0 {
		return universe
	}
	if chain.StrikeStep <= 0 {
		chain.StrikeStep = 0.01
	}
	if chain.Expiry <= 0 {
		chain.Expiry = 30 * 24 * time.Hour
	}
	if chain.Volatility <= 0 {
		chain.Volatility = 0.2
	}
	out := append([]Instrument(nil), universe...)
	for _, u := range universe {
		if u.Class != enum.InstrumentIndex {
			continue
		}
		step := roundStep(u.Price * chain.StrikeStep)
		atm := math.Round(u.Price/step) * step
		for i := -chain.Strikes; i <= chain.Strikes; i++ {
			strike := atm + float64(i)*step
			if strike <= 0 {
				continue
			}
			for _, call := range []bool{true, false} {
				suffix := "PE"
				if call {
					suffix = "CE"
				}
				out = append(out, Instrument{
					Key:        fmt.Sprintf("%s%.0f%s", u.Key, strike, suffix),
					Class:      enum.InstrumentOption,
					Underlying: u.Key,
					Strike:     strike,
					Call:       call,
					Expiry:     chain.Expiry,
					Volatility: chain.Volatility,
				})
			}
		}
	}
	return out
}

// roundStep snaps a raw strike step to 1, 2.5 or 5 times a power of ten.
func roundStep(raw float64) float64 {
	if raw <= 0 {
		return 1
	}
	pow := math.Pow(10, math.Floor(math.Log10(raw)))
	for _, m := range []float64{1, 2.5, 5, 10} {
		if raw <= m*pow {
			return m * pow
		}
	}
	return 10 * pow
}
