package buffer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueFIFO(t *testing.T) {
	q := NewQueue[int]()
	for i := 0; i < 5; i++ {
		q.Enqueue(i)
	}
	assert.Equal(t, 5, q.Len())

	for i := 0; i < 5; i++ {
		v, err := q.Dequeue(context.Background())
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}
	_, ok := q.TryDequeue()
	assert.False(t, ok)
}

func TestQueueBlocking(t *testing.T) {
	q := NewQueue[int]()
	const n = 1000

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			q.Enqueue(i)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := 0; i < n; i++ {
		v, err := q.Dequeue(ctx)
		require.NoError(t, err)
		require.Equal(t, i, v)
	}
	wg.Wait()
}

func TestQueueCancel(t *testing.T) {
	q := NewQueue[int]()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error)
	go func() {
		_, err := q.Dequeue(ctx)
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Dequeue didn't return after cancel")
	}
}

func TestQueueReset(t *testing.T) {
	q := NewQueue[Descriptor]()
	h := &Header{ID: 7, AllocLen: 16, Data: make([]byte, 16)}
	q.Enqueue(FromHeader(h))
	q.Enqueue(EOSMarker(33, 0))

	drained := q.Reset()
	require.Len(t, drained, 2)
	assert.Same(t, h, drained[0].Header)
	assert.Equal(t, KindEOSMarker, drained[1].Kind)
	assert.Equal(t, 0, q.Len())

	// No stale token survives the reset.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Empty(t, q.Reset())
}
