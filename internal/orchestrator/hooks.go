package orchestrator

import (
	"context"

	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/compute"
)

// InstrumentHooks are told when this pod gains or loses an instrument.
type InstrumentHooks interface {
	OnAssigned(ctx context.Context, instrumentKey string) error
	OnReleased(ctx context.Context, instrumentKey string) error
}

type NopHooks struct{}

func (NopHooks) OnAssigned(context.Context, string) error { return nil }
func (NopHooks) OnReleased(context.Context, string) error { return nil }

// ComputerHooks drop the rolling price history of released instruments.
type ComputerHooks struct {
	Computer *compute.Computer
}

func (ComputerHooks) OnAssigned(context.Context, string) error { return nil }

func (h ComputerHooks) OnReleased(_ context.Context, instrumentKey string) error {
	h.Computer.Forget(instrumentKey)
	return nil
}
