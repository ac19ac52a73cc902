// Package compute holds the signal kernels executed by workers and the
// planner that turns a tick into computation tasks.
package compute

import (
	"context"
	"sync"
	"time"

	"github.com/yanun0323/errors"

	taskerr "github.com/raghurammutya/signal-service-codex-review-sub000/internal/errors"
	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/model"
)

var (
	ErrInvalidParams = errors.New("invalid computation params")
	ErrNilTask       = errors.New("nil task")
)

const defaultHistory = 256

// Computer dispatches a task to the kernel for its params variant. It keeps
// a bounded price history per instrument for the indicator kernel.
type Computer struct {
	podID   string
	history int

	mu     sync.Mutex
	series map[string]*series
}

// NewComputer creates a Computer whose results are stamped with podID.
// history bounds the retained prices per instrument.
func NewComputer(podID string, history int) *Computer {
	if history <= 0 {
		history = defaultHistory
	}
	return &Computer{
		podID:   podID,
		history: history,
		series:  make(map[string]*series),
	}
}

// Execute runs one task. Invalid params are Fatal; a cancelled context is
// Retryable.
func (c *Computer) Execute(ctx context.Context, task *model.ComputationTask) (model.SignalResult, error) {
	if task == nil {
		return model.SignalResult{}, taskerr.Fatal(ErrNilTask)
	}
	if err := ctx.Err(); err != nil {
		return model.SignalResult{}, taskerr.Retryable(err)
	}

	var (
		values map[string]float64
		err    error
	)
	switch p := task.Params.(type) {
	case model.GreeksParams:
		values, err = Greeks(p)
	case model.MoneynessParams:
		values, err = Moneyness(p)
	case model.IndicatorParams:
		values, err = c.indicators(task.InstrumentKey, p)
	default:
		err = errors.Wrap(model.ErrUnknownComputation, "dispatch").With("instrument", task.InstrumentKey)
	}
	if err != nil {
		return model.SignalResult{}, taskerr.Fatal(err)
	}

	return model.SignalResult{
		InstrumentKey: task.InstrumentKey,
		Type:          task.Type(),
		TickSeq:       task.TickSeq,
		TaskID:        task.ID,
		PodID:         c.podID,
		Values:        values,
		ComputedAt:    time.Now().UTC(),
	}, nil
}

// Forget drops the price history of an instrument this pod no longer owns.
func (c *Computer) Forget(instrumentKey string) {
	c.mu.Lock()
	delete(c.series, instrumentKey)
	c.mu.Unlock()
}

// Tracked is the number of instruments with retained history.
func (c *Computer) Tracked() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.series)
}

func (c *Computer) indicators(key string, p model.IndicatorParams) (map[string]float64, error) {
	if p.Price <= 0 {
		return nil, errors.Wrap(ErrInvalidParams, "price must be positive").With("instrument", key)
	}

	c.mu.Lock()
	s, ok := c.series[key]
	if !ok {
		s = newSeries(c.history)
		c.series[key] = s
	}
	s.add(p.Price)
	prices := s.snapshot()
	c.mu.Unlock()

	return Indicators(prices, p.Windows), nil
}
