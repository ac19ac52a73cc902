package shed

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/model/enum"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newShedder(t *testing.T, mutate func(*Config)) (*Shedder, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 1, 2, 9, 15, 0, 0, time.UTC)}
	cfg := DefaultConfig()
	cfg.Seed = 42
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := New(cfg, WithClock(clock.Now))
	require.NoError(t, err)
	return s, clock
}

func TestPolicyRamp(t *testing.T) {
	low := Policy{StartSheddingAt: 0.5, MaxShedRatio: 0.8}

	testCases := []struct {
		desc string
		load float64
		want float64
	}{
		{desc: "idle", load: 0, want: 0},
		{desc: "just below start", load: 0.49, want: 0},
		{desc: "at start", load: 0.5, want: 0},
		{desc: "mid ramp", load: 0.75, want: 0.5},
		{desc: "early ramp", load: 0.6, want: 0.2},
		{desc: "ceiling", load: 0.9, want: 0.8},
		{desc: "full", load: 1, want: 0.8},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			assert.InDelta(t, tc.want, low.Probability(tc.load), 1e-9)
		})
	}
}

func TestLowPriorityBaseProbabilityAtHighLoad(t *testing.T) {
	s, _ := newShedder(t, nil)
	assert.InDelta(t, 0.8, s.BaseProbability(enum.PriorityLow, 0.9), 1e-9)
}

func TestShedProbabilityMonotonic(t *testing.T) {
	s, _ := newShedder(t, nil)
	for _, p := range []enum.Priority{enum.PriorityLow, enum.PriorityMedium, enum.PriorityHigh} {
		start := DefaultPolicies()[p].StartSheddingAt
		prev := 0.0
		for load := 0.0; load <= 1.0; load += 0.01 {
			got := s.Probability(p, load, Metadata{})
			if load < start {
				assert.Zerof(t, got, "%s at %.2f", p, load)
			}
			assert.GreaterOrEqualf(t, got, prev, "%s at %.2f", p, load)
			prev = got
		}
	}
}

func TestCriticalNeverShed(t *testing.T) {
	s, clock := newShedder(t, func(c *Config) {
		c.AllowList = []string{"NSE:NIFTY"}
	})
	for i := 0; i < 500; i++ {
		clock.Advance(50 * time.Millisecond)
		ok, reason := s.ShouldAcceptRequest(enum.PriorityCritical, 1.0, fmt.Sprintf("NSE:OPT-%d", i), Metadata{})
		assert.True(t, ok)
		assert.Equal(t, ReasonNeverShed, reason)

		ok, reason = s.ShouldAcceptRequest(enum.PriorityCritical, 1.0, "NSE:NIFTY", Metadata{})
		assert.True(t, ok)
		assert.Equal(t, ReasonAllowListed, reason)
	}
	assert.Zero(t, s.Stats().ShedRate(enum.PriorityCritical))
}

func TestAllowListBypassesConfiguredCriticalPolicy(t *testing.T) {
	s, _ := newShedder(t, func(c *Config) {
		c.Policies = DefaultPolicies()
		c.Policies[enum.PriorityCritical] = Policy{StartSheddingAt: 0.1, MaxShedRatio: 1}
		c.AllowList = []string{"NSE:NIFTY"}
	})
	for i := 0; i < 100; i++ {
		ok, _ := s.ShouldAcceptRequest(enum.PriorityCritical, 1.0, "NSE:NIFTY", Metadata{})
		require.True(t, ok)
	}
	ok, _ := s.ShouldAcceptRequest(enum.PriorityCritical, 1.0, "NSE:OTHER", Metadata{})
	assert.False(t, ok)
}

func TestBelowThresholdAlwaysAccepted(t *testing.T) {
	s, _ := newShedder(t, nil)
	for i := 0; i < 200; i++ {
		ok, reason := s.ShouldAcceptRequest(enum.PriorityLow, 0.3, "NSE:OPT", Metadata{})
		require.True(t, ok)
		require.Equal(t, ReasonBelowStart, reason)
	}
	st := s.Stats()
	assert.Equal(t, uint64(200), st.Accepted[enum.PriorityLow])
	assert.Zero(t, st.Shed[enum.PriorityLow])
}

func TestShedRateTracksProbability(t *testing.T) {
	s, clock := newShedder(t, func(c *Config) {
		// isolate the ramp from the adjustments
		c.OverloadLoad = 1
		c.AdaptiveMinSamples = 1 << 30
	})
	for i := 0; i < 4000; i++ {
		clock.Advance(time.Second)
		s.ShouldAcceptRequest(enum.PriorityLow, 0.6, "NSE:OPT", Metadata{})
	}
	assert.InDelta(t, 0.2, s.Stats().ShedRate(enum.PriorityLow), 0.03)
}

func TestMetadataDiscounts(t *testing.T) {
	s, _ := newShedder(t, nil)
	base := s.Probability(enum.PriorityLow, 0.6, Metadata{})
	require.InDelta(t, 0.2, base, 1e-9)

	assert.InDelta(t, base*0.5, s.Probability(enum.PriorityLow, 0.6, Metadata{Tier: "premium"}), 1e-9)
	assert.InDelta(t, base*0.2, s.Probability(enum.PriorityLow, 0.6, Metadata{Tier: "VIP"}), 1e-9)
	assert.InDelta(t, base*0.25, s.Probability(enum.PriorityLow, 0.6, Metadata{RetryCount: 2}), 1e-9)
	assert.InDelta(t, base/2, s.Probability(enum.PriorityLow, 0.6, Metadata{Age: 5 * time.Second}), 1e-9)
}

func TestRisingLoadBoostsProbability(t *testing.T) {
	s, clock := newShedder(t, func(c *Config) {
		c.OverloadLoad = 1
	})
	for i := 0; i < 10; i++ {
		clock.Advance(time.Second)
		s.ShouldAcceptRequest(enum.PriorityLow, 0.3+0.06*float64(i), "NSE:OPT", Metadata{})
	}
	assert.InDelta(t, 0.06, s.Stats().LoadTrend, 1e-6)
	assert.InDelta(t, 0.2*1.5, s.Probability(enum.PriorityLow, 0.6, Metadata{}), 1e-9)
}

func TestConsecutiveOverloadPenalty(t *testing.T) {
	s, clock := newShedder(t, nil)
	for i := 0; i < 4; i++ {
		clock.Advance(time.Second)
		s.ShouldAcceptRequest(enum.PriorityCritical, 0.85, "NSE:OPT", Metadata{})
	}
	assert.Equal(t, 4, s.Stats().ConsecutiveOverload)
	assert.InDelta(t, 0.7*1.2, s.Probability(enum.PriorityLow, 0.85, Metadata{}), 1e-9)

	clock.Advance(time.Second)
	s.ShouldAcceptRequest(enum.PriorityCritical, 0.2, "NSE:OPT", Metadata{})
	assert.Zero(t, s.Stats().ConsecutiveOverload)
}

func TestOverloadCountsOnlyAboveThreshold(t *testing.T) {
	s, clock := newShedder(t, nil)
	for _, load := range []float64{0.81, 0.9} {
		clock.Advance(time.Second)
		s.ShouldAcceptRequest(enum.PriorityCritical, load, "NSE:OPT", Metadata{})
	}
	assert.Equal(t, 2, s.Stats().ConsecutiveOverload)

	// exactly at the threshold is not an overload
	clock.Advance(time.Second)
	s.ShouldAcceptRequest(enum.PriorityCritical, 0.8, "NSE:OPT", Metadata{})
	assert.Zero(t, s.Stats().ConsecutiveOverload)
}

func TestResetClearsHistory(t *testing.T) {
	s, clock := newShedder(t, nil)
	for i := 0; i < 20; i++ {
		clock.Advance(time.Second)
		s.ShouldAcceptRequest(enum.PriorityMedium, 0.95, "NSE:OPT", Metadata{})
	}
	require.NotZero(t, s.Stats().Decisions)

	s.Reset()
	st := s.Stats()
	assert.Zero(t, st.Decisions)
	assert.Zero(t, st.ConsecutiveOverload)
	assert.Zero(t, st.ThresholdSamples)
	assert.Empty(t, st.Accepted)
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Policies = map[enum.Priority]Policy{enum.PriorityLow: {StartSheddingAt: 1.5, MaxShedRatio: 0.5}}
	assert.Error(t, cfg.Validate())
}

func TestAdaptiveThresholdLearnsRejectionLoad(t *testing.T) {
	s, clock := newShedder(t, func(c *Config) {
		c.Policies = DefaultPolicies()
		c.Policies[enum.PriorityMedium] = Policy{StartSheddingAt: 0.1, MaxShedRatio: 1}
		c.OverloadLoad = 1
		c.AdaptiveMinSamples = 5
	})
	for i := 0; i < 5; i++ {
		clock.Advance(time.Second)
		ok, _ := s.ShouldAcceptRequest(enum.PriorityMedium, 0.9, "NSE:OPT", Metadata{})
		require.False(t, ok)
	}

	st := s.Stats()
	assert.Equal(t, 5, st.ThresholdSamples)
	assert.InDelta(t, 0.9, st.AdaptiveThreshold, 1e-9)
	assert.InDelta(t, 0.8, s.Probability(enum.PriorityLow, 0.9, Metadata{}), 1e-9)
	assert.InDelta(t, 0.96, s.Probability(enum.PriorityLow, 0.95, Metadata{}), 1e-9)
}

func TestConcurrentDecisionsAreCounted(t *testing.T) {
	s, _ := newShedder(t, func(c *Config) {
		c.Policies = DefaultPolicies()
		c.Policies[enum.PriorityMedium] = Policy{StartSheddingAt: 0.1, MaxShedRatio: 1}
	})

	const workers, perWorker = 8, 500
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				p := enum.PriorityLow
				if i%2 == 0 {
					p = enum.PriorityMedium
				}
				s.ShouldAcceptRequest(p, 0.95, fmt.Sprintf("NSE:OPT-%d", w), Metadata{})
			}
		}(w)
	}
	wg.Wait()

	st := s.Stats()
	assert.Equal(t, workers*perWorker, st.Decisions)
	var total uint64
	for _, p := range []enum.Priority{enum.PriorityLow, enum.PriorityMedium} {
		total += st.Accepted[p] + st.Shed[p]
	}
	assert.Equal(t, uint64(workers*perWorker), total)
	assert.Equal(t, int(st.Shed[enum.PriorityMedium]), st.ThresholdSamples)
	assert.NotZero(t, st.Shed[enum.PriorityLow])
}
