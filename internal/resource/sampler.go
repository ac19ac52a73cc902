// Package resource samples host CPU and memory utilisation for the pod's
// composite load.
package resource

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/yanun0323/errors"
)

// Usage is utilisation in [0, 1].
type Usage struct {
	CPU    float64
	Memory float64
	At     time.Time
}

// Sampler reports current utilisation.
type Sampler interface {
	Sample(ctx context.Context) (Usage, error)
}

// HostSampler reads the host through gopsutil. CPU is the busy fraction
// since the previous call.
type HostSampler struct{}

func (HostSampler) Sample(ctx context.Context) (Usage, error) {
	pct, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return Usage{}, errors.Wrap(err, "sample cpu")
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Usage{}, errors.Wrap(err, "sample memory")
	}
	u := Usage{Memory: vm.UsedPercent / 100, At: time.Now().UTC()}
	if len(pct) > 0 {
		u.CPU = pct[0] / 100
	}
	return u.clamped(), nil
}

// Static returns fixed values; tests and hosts without /proc use it.
type Static struct {
	CPU    float64
	Memory float64
}

func (s Static) Sample(context.Context) (Usage, error) {
	return Usage{CPU: s.CPU, Memory: s.Memory, At: time.Now().UTC()}.clamped(), nil
}

// Cached refreshes from an inner sampler at most once per interval so the
// per-tick admission path never waits on the host.
type Cached struct {
	inner    Sampler
	interval time.Duration
	last     atomic.Pointer[Usage]
}

func NewCached(inner Sampler, interval time.Duration) *Cached {
	return &Cached{inner: inner, interval: interval}
}

// Refresh samples the inner sampler now.
func (c *Cached) Refresh(ctx context.Context) (Usage, error) {
	u, err := c.inner.Sample(ctx)
	if err != nil {
		return c.Latest(), err
	}
	c.last.Store(&u)
	return u, nil
}

// Latest returns the most recent sample without blocking.
func (c *Cached) Latest() Usage {
	if u := c.last.Load(); u != nil {
		return *u
	}
	return Usage{}
}

// Sample returns the cached value, refreshing it when older than interval.
func (c *Cached) Sample(ctx context.Context) (Usage, error) {
	if u := c.last.Load(); u != nil && time.Since(u.At) < c.interval {
		return *u, nil
	}
	return c.Refresh(ctx)
}

func (u Usage) clamped() Usage {
	u.CPU = min(max(u.CPU, 0), 1)
	u.Memory = min(max(u.Memory, 0), 1)
	return u
}
