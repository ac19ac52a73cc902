package shed

import (
	"fmt"
	"time"

	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/model/enum"
)

// Policy is the linear shed ramp of one priority tier: zero below
// StartSheddingAt, reaching MaxShedRatio at load 1.0.
type Policy struct {
	StartSheddingAt float64 `json:"startSheddingAt"`
	MaxShedRatio    float64 `json:"maxShedRatio"`
}

// Probability is the base shed probability at load.
func (p Policy) Probability(load float64) float64 {
	if load < p.StartSheddingAt || p.MaxShedRatio <= 0 {
		return 0
	}
	if p.StartSheddingAt >= 1 {
		return p.MaxShedRatio
	}
	prob := (load - p.StartSheddingAt) / (1 - p.StartSheddingAt)
	return clamp(prob, 0, p.MaxShedRatio)
}

func (p Policy) validate() error {
	if p.StartSheddingAt < 0 || p.StartSheddingAt > 1 {
		return fmt.Errorf("startSheddingAt must be within [0, 1]")
	}
	if p.MaxShedRatio < 0 || p.MaxShedRatio > 1 {
		return fmt.Errorf("maxShedRatio must be within [0, 1]")
	}
	return nil
}

// Config holds the tier policies and the probability adjustments. A tier
// without a policy is never shed; CRITICAL has none by default.
type Config struct {
	Policies  map[enum.Priority]Policy `json:"policies"`
	AllowList []string                 `json:"allowList"`

	SampleInterval  time.Duration `json:"sampleInterval"`
	TrendWindow     int           `json:"trendWindow"`
	TrendSlope      float64       `json:"trendSlope"` // load per second
	TrendMultiplier float64       `json:"trendMultiplier"`

	OverloadLoad     float64 `json:"overloadLoad"`
	OverloadStep     float64 `json:"overloadStep"`
	OverloadMaxCount int     `json:"overloadMaxCount"`

	AdaptiveAlpha      float64 `json:"adaptiveAlpha"`
	AdaptiveMinSamples int     `json:"adaptiveMinSamples"`
	AdaptiveMultiplier float64 `json:"adaptiveMultiplier"`

	PremiumFactor float64       `json:"premiumFactor"`
	VIPFactor     float64       `json:"vipFactor"`
	AgeScale      time.Duration `json:"ageScale"`
	RetryFactor   float64       `json:"retryFactor"`

	Seed int64 `json:"seed"`
}

// DefaultPolicies are the per-tier ramps used when none are configured.
func DefaultPolicies() map[enum.Priority]Policy {
	return map[enum.Priority]Policy{
		enum.PriorityHigh:   {StartSheddingAt: 0.85, MaxShedRatio: 0.3},
		enum.PriorityMedium: {StartSheddingAt: 0.7, MaxShedRatio: 0.6},
		enum.PriorityLow:    {StartSheddingAt: 0.5, MaxShedRatio: 0.8},
	}
}

// DefaultConfig returns the default shedding configuration.
func DefaultConfig() Config {
	return Config{
		Policies:           DefaultPolicies(),
		SampleInterval:     100 * time.Millisecond,
		TrendWindow:        10,
		TrendSlope:         0.05,
		TrendMultiplier:    1.5,
		OverloadLoad:       0.8,
		OverloadStep:       0.05,
		OverloadMaxCount:   10,
		AdaptiveAlpha:      0.1,
		AdaptiveMinSamples: 50,
		AdaptiveMultiplier: 1.2,
		PremiumFactor:      0.5,
		VIPFactor:          0.2,
		AgeScale:           5 * time.Second,
		RetryFactor:        0.5,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Policies == nil {
		c.Policies = d.Policies
	}
	if c.SampleInterval <= 0 {
		c.SampleInterval = d.SampleInterval
	}
	if c.TrendWindow <= 1 {
		c.TrendWindow = d.TrendWindow
	}
	if c.TrendSlope <= 0 {
		c.TrendSlope = d.TrendSlope
	}
	if c.TrendMultiplier <= 0 {
		c.TrendMultiplier = d.TrendMultiplier
	}
	if c.OverloadLoad <= 0 {
		c.OverloadLoad = d.OverloadLoad
	}
	if c.OverloadStep <= 0 {
		c.OverloadStep = d.OverloadStep
	}
	if c.OverloadMaxCount <= 0 {
		c.OverloadMaxCount = d.OverloadMaxCount
	}
	if c.AdaptiveAlpha <= 0 {
		c.AdaptiveAlpha = d.AdaptiveAlpha
	}
	if c.AdaptiveMinSamples <= 0 {
		c.AdaptiveMinSamples = d.AdaptiveMinSamples
	}
	if c.AdaptiveMultiplier <= 0 {
		c.AdaptiveMultiplier = d.AdaptiveMultiplier
	}
	if c.PremiumFactor <= 0 {
		c.PremiumFactor = d.PremiumFactor
	}
	if c.VIPFactor <= 0 {
		c.VIPFactor = d.VIPFactor
	}
	if c.AgeScale <= 0 {
		c.AgeScale = d.AgeScale
	}
	if c.RetryFactor <= 0 {
		c.RetryFactor = d.RetryFactor
	}
	if c.Seed == 0 {
		c.Seed = time.Now().UTC().UnixNano()
	}
	return c
}

// Validate checks if the configuration is usable.
func (c Config) Validate() error {
	for p, policy := range c.Policies {
		if !p.IsAvailable() {
			return fmt.Errorf("invalid shed config: unknown priority %d", p)
		}
		if err := policy.validate(); err != nil {
			return fmt.Errorf("invalid shed config: %s: %v", p, err)
		}
	}
	if c.AdaptiveAlpha > 1 {
		return fmt.Errorf("invalid shed config: adaptiveAlpha must be <= 1")
	}
	if c.PremiumFactor > 1 || c.VIPFactor > 1 || c.RetryFactor > 1 {
		return fmt.Errorf("invalid shed config: discount factors must be <= 1")
	}
	return nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
