// Package transport connects the scheduling core to its external log,
// stores and sinks: the tick stream it consumes, the result log and
// latest-value store it writes, and the per-pod metrics sink.
package transport

import (
	"context"
	"time"

	"github.com/yanun0323/errors"
)

var (
	// ErrNoMessage is returned by Fetch when the poll window passed with
	// nothing to deliver.
	ErrNoMessage    = errors.New("no message within poll window")
	ErrSourceClosed = errors.New("tick source closed")
)

// Delivery is one message taken from a tick source. It must be committed
// through the same source once the admission decision is made.
type Delivery struct {
	Key        string
	Value      []byte
	Partition  int
	Offset     int64
	ReceivedAt time.Time

	handle any
}

// TickSource is a consumer-group member of the tick stream. Fetch blocks
// for at most the source's poll window.
type TickSource interface {
	Fetch(ctx context.Context) (Delivery, error)
	Commit(ctx context.Context, deliveries ...Delivery) error
	Close() error
}
