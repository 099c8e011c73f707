package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcher_FansOutToAllQueues(t *testing.T) {
	d := NewDispatcher(3, 4)

	for i := 0; i < 3; i++ {
		require.NoError(t, d.Dispatch(context.Background(), Chunk{Index: i, Data: []byte{byte(i)}}))
	}
	d.CloseAll()

	for q := 0; q < 3; q++ {
		var got []int
		for chunk := range d.Queue(q) {
			got = append(got, chunk.Index)
		}
		assert.Equal(t, []int{0, 1, 2}, got, "queue %d", q)
	}
}

func TestDispatcher_BlocksUntilSlowQueueDrains(t *testing.T) {
	d := NewDispatcher(2, 1)

	require.NoError(t, d.Dispatch(context.Background(), Chunk{Index: 0}))

	// Queue 1 is full, so the next dispatch must wait for its consumer.
	dispatched := make(chan error, 1)
	go func() {
		dispatched <- d.Dispatch(context.Background(), Chunk{Index: 1})
	}()

	select {
	case err := <-dispatched:
		t.Fatalf("dispatch completed against a full queue: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	<-d.Queue(0)
	<-d.Queue(1)
	require.NoError(t, <-dispatched)

	d.CloseAll()
	for range d.Queue(0) {
	}
	for range d.Queue(1) {
	}
}

func TestDispatcher_CancelledContextUnblocks(t *testing.T) {
	d := NewDispatcher(1, 1)
	require.NoError(t, d.Dispatch(context.Background(), Chunk{Index: 0}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := d.Dispatch(ctx, Chunk{Index: 1})
	assert.ErrorIs(t, err, context.Canceled)

	d.CloseAll()
	for range d.Queue(0) {
	}
}

func TestDispatcher_CloseAllIsIdempotent(t *testing.T) {
	d := NewDispatcher(2, 1)
	d.CloseAll()
	assert.NotPanics(t, d.CloseAll)

	_, ok := <-d.Queue(0)
	assert.False(t, ok)
	_, ok = <-d.Queue(1)
	assert.False(t, ok)
}
