// Package chaos perturbs a tick stream the way a lossy feed would, so the
// pods can be exercised against drops, duplicates, reordering and late
// arrivals.
package chaos

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/model"
)

// Config controls chaos injection.
type Config struct {
	Seed          int64
	DropRate      float64
	DuplicateRate float64
	ReorderWindow int
	// MaxLag backdates a tick's event time by up to this much, so it
	// arrives looking stale.
	MaxLag time.Duration
}

func (c Config) Validate() error {
	if c.DropRate < 0 || c.DropRate > 1 {
		return fmt.Errorf("invalid chaos config: dropRate must be between 0 and 1")
	}
	if c.DuplicateRate < 0 || c.DuplicateRate > 1 {
		return fmt.Errorf("invalid chaos config: duplicateRate must be between 0 and 1")
	}
	if c.ReorderWindow <= 0 {
		return fmt.Errorf("invalid chaos config: reorderWindow must be >= 1")
	}
	if c.MaxLag < 0 {
		return fmt.Errorf("invalid chaos config: maxLag must be >= 0")
	}
	return nil
}

// Stats counts what the engine did.
type Stats struct {
	In         uint64
	Out        uint64
	Dropped    uint64
	Duplicated uint64
	Lagged     uint64
}

// Engine applies chaos rules to ticks. Not safe for concurrent use.
type Engine struct {
	cfg     Config
	rng     *rand.Rand
	pending []model.Tick
	stats   Stats
}

// NewEngine creates a chaos engine. A zero ReorderWindow keeps order.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.ReorderWindow <= 0 {
		cfg.ReorderWindow = 1
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UTC().UnixNano()
	}
	return &Engine{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}, nil
}

// Process takes one tick and returns the ticks to emit now, possibly none.
func (e *Engine) Process(t model.Tick) []model.Tick {
	if e == nil {
		return []model.Tick{t}
	}
	e.stats.In++
	if e.roll(e.cfg.DropRate) {
		e.stats.Dropped++
		return nil
	}
	t = e.lag(t)
	if e.cfg.ReorderWindow <= 1 {
		return e.emit(t)
	}
	e.pending = append(e.pending, t)
	if len(e.pending) < e.cfg.ReorderWindow {
		return nil
	}
	return e.emit(e.takeRandom())
}

// Flush returns the ticks still held for reordering.
func (e *Engine) Flush() []model.Tick {
	if e == nil || len(e.pending) == 0 {
		return nil
	}
	out := make([]model.Tick, 0, len(e.pending))
	for len(e.pending) > 0 {
		out = append(out, e.emit(e.takeRandom())...)
	}
	return out
}

func (e *Engine) Stats() Stats {
	if e == nil {
		return Stats{}
	}
	return e.stats
}

func (e *Engine) takeRandom() model.Tick {
	idx := e.rng.Intn(len(e.pending))
	t := e.pending[idx]
	e.pending = append(e.pending[:idx], e.pending[idx+1:]...)
	return t
}

func (e *Engine) emit(t model.Tick) []model.Tick {
	out := []model.Tick{t}
	if e.roll(e.cfg.DuplicateRate) {
		out = append(out, t)
		e.stats.Duplicated++
	}
	e.stats.Out += uint64(len(out))
	return out
}

func (e *Engine) lag(t model.Tick) model.Tick {
	if e.cfg.MaxLag <= 0 || t.TsEvent <= 0 {
		return t
	}
	lag := e.rng.Int63n(e.cfg.MaxLag.Nanoseconds() + 1)
	if lag == 0 {
		return t
	}
	t.TsEvent -= lag
	e.stats.Lagged++
	return t
}

func (e *Engine) roll(p float64) bool {
	return p > 0 && e.rng.Float64() < p
}
