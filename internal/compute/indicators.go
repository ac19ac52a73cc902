package compute

import (
	"fmt"
)

// DefaultWindows are used when a request names none.
var DefaultWindows = []int{5, 20}

type series struct {
	prices []float64
	limit  int
}

func newSeries(limit int) *series {
	return &series{prices: make([]float64, 0, limit), limit: limit}
}

func (s *series) add(price float64) {
	if len(s.prices) == s.limit {
		copy(s.prices, s.prices[1:])
		s.prices = s.prices[:len(s.prices)-1]
	}
	s.prices = append(s.prices, price)
}

func (s *series) snapshot() []float64 {
	out := make([]float64, len(s.prices))
	copy(out, s.prices)
	return out
}

// Indicators computes, per window, the simple moving average, the
// exponential moving average and the momentum over prices (oldest first).
// Windows longer than the available history use what is there.
func Indicators(prices []float64, windows []int) map[string]float64 {
	if len(windows) == 0 {
		windows = DefaultWindows
	}
	out := make(map[string]float64, len(windows)*3+1)
	if len(prices) == 0 {
		return out
	}
	last := prices[len(prices)-1]
	out["last"] = last

	for _, w := range windows {
		if w <= 0 {
			continue
		}
		n := min(w, len(prices))
		tail := prices[len(prices)-n:]

		sum := 0.0
		for _, p := range tail {
			sum += p
		}
		out[fmt.Sprintf("sma_%d", w)] = sum / float64(n)

		alpha := 2 / float64(w+1)
		ema := tail[0]
		for _, p := range tail[1:] {
			ema += alpha * (p - ema)
		}
		out[fmt.Sprintf("ema_%d", w)] = ema

		out[fmt.Sprintf("momentum_%d", w)] = last - tail[0]
	}
	return out
}
