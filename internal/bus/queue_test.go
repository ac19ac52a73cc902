package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryPublishNeverBlocks(t *testing.T) {
	q := NewQueue[int](2)
	require.NoError(t, q.TryPublish(1))
	require.NoError(t, q.TryPublish(2))
	assert.ErrorIs(t, q.TryPublish(3), ErrQueueFull)

	assert.Equal(t, 2, q.Len())
	assert.Equal(t, uint64(2), q.Published())
	assert.Equal(t, uint64(1), q.Dropped())
}

func TestCloseDrainsPending(t *testing.T) {
	q := NewQueue[string](4)
	require.NoError(t, q.TryPublish("a"))
	require.NoError(t, q.TryPublish("b"))
	q.Close()
	q.Close()
	assert.ErrorIs(t, q.TryPublish("c"), ErrQueueClosed)

	var got []string
	done := make(chan struct{})
	go func() {
		q.Run(t.Context(), func(s string) { got = append(got, s) })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("run did not return after close")
	}
	assert.ElementsMatch(t, []string{"a", "b"}, got)
}

func TestRunStopsOnContext(t *testing.T) {
	q := NewQueue[int](1)
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		q.Run(ctx, func(int) {})
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("run did not return after cancel")
	}
}
