package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyclops-relay/cyclops/internal/core"
)

func newRequest(id string) *core.PendingRequest {
	return core.NewPendingRequest(id, "42", "POST", "http://upstream.test/api/42/store/", nil, []byte(id))
}

func TestPendingQueueFIFO(t *testing.T) {
	q := NewPendingQueue(3)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Offer(newRequest(id)))
	}
	require.Equal(t, 3, q.Len())

	for _, want := range []string{"a", "b", "c"} {
		req, ok := q.TryPop()
		require.True(t, ok)
		assert.Equal(t, want, req.ID)
	}

	_, ok := q.TryPop()
	assert.False(t, ok)
}

func TestPendingQueueOfferFull(t *testing.T) {
	q := NewPendingQueue(1)
	require.NoError(t, q.Offer(newRequest("a")))
	require.ErrorIs(t, q.Offer(newRequest("b")), ErrQueueFull)
	assert.Equal(t, 1, q.Cap())
}

func TestPendingQueuePushWaitsForSpace(t *testing.T) {
	q := NewPendingQueue(1)
	require.NoError(t, q.Push(context.Background(), newRequest("a")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, q.Push(ctx, newRequest("b")), context.DeadlineExceeded)

	done := make(chan error, 1)
	go func() {
		done <- q.Push(context.Background(), newRequest("c"))
	}()

	req, ok := q.TryPop()
	require.True(t, ok)
	assert.Equal(t, "a", req.ID)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("push did not complete after space was freed")
	}
}

func TestPendingQueueClose(t *testing.T) {
	q := NewPendingQueue(2)
	require.NoError(t, q.Offer(newRequest("a")))

	q.Close()
	q.Close()

	require.ErrorIs(t, q.Offer(newRequest("b")), ErrQueueClosed)
	require.ErrorIs(t, q.Push(context.Background(), newRequest("b")), ErrQueueClosed)

	req, ok := q.TryPop()
	require.True(t, ok)
	assert.Equal(t, "a", req.ID)
}

func TestPendingQueueRejectsNil(t *testing.T) {
	q := NewPendingQueue(0)
	assert.Equal(t, 1, q.Cap())
	require.Error(t, q.Offer(nil))
	require.Error(t, q.Push(context.Background(), nil))
}
