// Package shed is the pod's admission controller. It decides per unit of
// incoming work whether to accept it, from the work's priority tier, the
// instantaneous load and what the shedder has recently observed.
package shed

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/model"
	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/model/enum"
)

const (
	ReasonAllowListed = "allow_listed"
	ReasonNeverShed   = "never_shed"
	ReasonBelowStart  = "below_threshold"
	ReasonAccepted    = "accepted"
	ReasonShed        = "shed"

	TierPremium = "premium"
	TierVIP     = "vip"
)

// Metadata is optional per-request context that softens shedding.
type Metadata struct {
	Tier       string
	Age        time.Duration
	RetryCount int
}

type sample struct {
	at   time.Time
	load float64
}

type counter struct {
	accepted atomic.Uint64
	shed     atomic.Uint64
}

// pressure is the learned state one decision reads.
type pressure struct {
	trend      float64
	overloads  int
	threshold  float64
	thresholdN int
}

// Shedder is safe for concurrent use. Decisions only take mu to push a
// load sample or learn the threshold; counters are atomic and every caller
// draws from its own random source.
type Shedder struct {
	cfg   Config
	allow map[string]struct{}
	now   func() time.Time

	rngs     sync.Pool // *rand.Rand
	rngSeeds atomic.Int64

	decisions atomic.Int64
	counts    []counter // indexed by priority

	mu         sync.Mutex
	samples    []sample // ring of TrendWindow entries
	next       int
	lastSample time.Time
	overloads  int
	threshold  float64
	thresholdN int
}

// Option configures a Shedder.
type Option func(*Shedder)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Shedder) { s.now = now }
}

// New creates a shedder.
func New(cfg Config, opts ...Option) (*Shedder, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Shedder{
		cfg:    cfg,
		allow:  make(map[string]struct{}, len(cfg.AllowList)),
		now:    time.Now,
		counts: make([]counter, len(enum.Priorities)+1),
	}
	s.rngs.New = func() any {
		return rand.New(rand.NewSource(cfg.Seed + s.rngSeeds.Add(1) - 1))
	}
	for _, key := range cfg.AllowList {
		s.allow[key] = struct{}{}
	}
	for _, opt := range opts {
		opt(s)
	}
	s.resetLocked()
	return s, nil
}

// ShouldAcceptRequest decides admission for one request and returns the
// reason alongside.
func (s *Shedder) ShouldAcceptRequest(priority enum.Priority, load float64, instrumentKey string, meta Metadata) (bool, string) {
	d := s.Decide(priority, load, instrumentKey, meta)
	return d.Accepted, d.Reason
}

// Decide is ShouldAcceptRequest returning the full decision.
func (s *Shedder) Decide(priority enum.Priority, load float64, instrumentKey string, meta Metadata) model.ShedDecision {
	load = clamp(load, 0, 1)
	d := model.ShedDecision{
		Priority:      priority,
		InstrumentKey: instrumentKey,
		CompositeLoad: load,
	}
	pr := s.observe(load)

	switch {
	case priority == enum.PriorityCritical && s.allowed(instrumentKey):
		d.Accepted, d.Reason = true, ReasonAllowListed
	case !s.hasPolicy(priority):
		d.Accepted, d.Reason = true, ReasonNeverShed
	default:
		d.ShedProbability = s.probability(priority, load, meta, pr)
		switch {
		case d.ShedProbability <= 0:
			d.Accepted, d.Reason = true, ReasonBelowStart
		case s.draw() < d.ShedProbability:
			d.Accepted = false
			d.Reason = fmt.Sprintf("%s: %s priority at load %.2f (p=%.2f)", ReasonShed, priority, load, d.ShedProbability)
		default:
			d.Accepted, d.Reason = true, ReasonAccepted
		}
	}

	s.record(d)
	return d
}

// Probability is the adjusted shed probability the next decision would use,
// without drawing or recording anything.
func (s *Shedder) Probability(priority enum.Priority, load float64, meta Metadata) float64 {
	if !s.hasPolicy(priority) {
		return 0
	}
	s.mu.Lock()
	pr := s.pressureLocked()
	s.mu.Unlock()
	return s.probability(priority, clamp(load, 0, 1), meta, pr)
}

// BaseProbability is the tier ramp alone.
func (s *Shedder) BaseProbability(priority enum.Priority, load float64) float64 {
	policy, ok := s.cfg.Policies[priority]
	if !ok {
		return 0
	}
	return policy.Probability(clamp(load, 0, 1))
}

func (s *Shedder) hasPolicy(p enum.Priority) bool {
	policy, ok := s.cfg.Policies[p]
	return ok && policy.MaxShedRatio > 0
}

func (s *Shedder) allowed(key string) bool {
	_, ok := s.allow[key]
	return ok
}

func (s *Shedder) draw() float64 {
	r := s.rngs.Get().(*rand.Rand)
	f := r.Float64()
	s.rngs.Put(r)
	return f
}

func (s *Shedder) probability(priority enum.Priority, load float64, meta Metadata, pr pressure) float64 {
	p := s.cfg.Policies[priority].Probability(load)
	if p <= 0 {
		return 0
	}

	if pr.trend > s.cfg.TrendSlope {
		p *= s.cfg.TrendMultiplier
	}
	if pr.overloads > 0 {
		p *= 1 + float64(min(pr.overloads, s.cfg.OverloadMaxCount))*s.cfg.OverloadStep
	}
	if pr.thresholdN >= s.cfg.AdaptiveMinSamples && load > pr.threshold {
		p *= s.cfg.AdaptiveMultiplier
	}

	switch strings.ToLower(meta.Tier) {
	case TierVIP:
		p *= s.cfg.VIPFactor
	case TierPremium:
		p *= s.cfg.PremiumFactor
	}
	if meta.Age > 0 {
		p /= 1 + float64(meta.Age)/float64(s.cfg.AgeScale)
	}
	for i := 0; i < meta.RetryCount; i++ {
		p *= s.cfg.RetryFactor
	}
	return clamp(p, 0, 1)
}

// observe records load and returns the state the decision should use.
func (s *Shedder) observe(load float64) pressure {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observeLocked(load)
	return s.pressureLocked()
}

func (s *Shedder) pressureLocked() pressure {
	return pressure{
		trend:      s.trendLocked(),
		overloads:  s.overloads,
		threshold:  s.threshold,
		thresholdN: s.thresholdN,
	}
}

// observeLocked keeps at most one load sample per SampleInterval for trend
// and overload tracking.
func (s *Shedder) observeLocked(load float64) {
	now := s.now()
	if !s.lastSample.IsZero() && now.Sub(s.lastSample) < s.cfg.SampleInterval {
		return
	}
	s.lastSample = now
	s.samples[s.next%len(s.samples)] = sample{at: now, load: load}
	s.next++

	if load > s.cfg.OverloadLoad {
		s.overloads++
	} else {
		s.overloads = 0
	}
}

// trendLocked is the least-squares slope of load over time, in load per
// second, across the retained samples.
func (s *Shedder) trendLocked() float64 {
	n := min(s.next, len(s.samples))
	if n < 2 {
		return 0
	}
	origin := s.samples[(s.next-n)%len(s.samples)].at
	var sx, sy, sxx, sxy float64
	for i := 0; i < n; i++ {
		smp := s.samples[(s.next-n+i)%len(s.samples)]
		x := smp.at.Sub(origin).Seconds()
		sx += x
		sy += smp.load
		sxx += x * x
		sxy += x * smp.load
	}
	fn := float64(n)
	den := fn*sxx - sx*sx
	if den == 0 {
		return 0
	}
	return (fn*sxy - sx*sy) / den
}

func (s *Shedder) counter(p enum.Priority) *counter {
	if !p.IsAvailable() || int(p) >= len(s.counts) {
		return nil
	}
	return &s.counts[p]
}

// record counts the decision and learns the load at which work above LOW
// starts being rejected.
func (s *Shedder) record(d model.ShedDecision) {
	s.decisions.Add(1)
	if c := s.counter(d.Priority); c != nil {
		if d.Accepted {
			c.accepted.Add(1)
		} else {
			c.shed.Add(1)
		}
	}
	if d.Accepted || d.Priority <= enum.PriorityLow {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.thresholdN == 0 {
		s.threshold = d.CompositeLoad
	} else {
		s.threshold += s.cfg.AdaptiveAlpha * (d.CompositeLoad - s.threshold)
	}
	s.thresholdN++
}

// Stats is a snapshot of the shedder's counters and learned state.
type Stats struct {
	Accepted            map[enum.Priority]uint64 `json:"accepted"`
	Shed                map[enum.Priority]uint64 `json:"shed"`
	Decisions           int                      `json:"decisions"`
	AdaptiveThreshold   float64                  `json:"adaptive_threshold"`
	ThresholdSamples    int                      `json:"threshold_samples"`
	ConsecutiveOverload int                      `json:"consecutive_overload"`
	LoadTrend           float64                  `json:"load_trend"`
}

// ShedRate is shed over all decisions for p.
func (st Stats) ShedRate(p enum.Priority) float64 {
	total := st.Accepted[p] + st.Shed[p]
	if total == 0 {
		return 0
	}
	return float64(st.Shed[p]) / float64(total)
}

func (s *Shedder) Stats() Stats {
	st := Stats{
		Accepted:  make(map[enum.Priority]uint64, len(enum.Priorities)),
		Shed:      make(map[enum.Priority]uint64, len(enum.Priorities)),
		Decisions: int(s.decisions.Load()),
	}
	for _, p := range enum.Priorities {
		c := s.counter(p)
		accepted, shed := c.accepted.Load(), c.shed.Load()
		if accepted+shed == 0 {
			continue
		}
		st.Accepted[p] = accepted
		st.Shed[p] = shed
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st.AdaptiveThreshold = s.threshold
	st.ThresholdSamples = s.thresholdN
	st.ConsecutiveOverload = s.overloads
	st.LoadTrend = s.trendLocked()
	return st
}

// Reset clears history, counters and the learned threshold.
func (s *Shedder) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

func (s *Shedder) resetLocked() {
	s.samples = make([]sample, s.cfg.TrendWindow)
	s.next = 0
	s.lastSample = time.Time{}
	s.overloads = 0
	s.threshold = 0
	s.thresholdN = 0
	s.decisions.Store(0)
	for i := range s.counts {
		s.counts[i].accepted.Store(0)
		s.counts[i].shed.Store(0)
	}
}
