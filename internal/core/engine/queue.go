package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/cyclops-relay/cyclops/internal/core"
)

var (
	// ErrQueueFull is returned by Offer when the queue has no free slot.
	ErrQueueFull = errors.New("pending queue is full")

	// ErrQueueClosed is returned when pushing into a closed queue.
	ErrQueueClosed = errors.New("pending queue is closed")
)

// Dequeuer is the consumption side of the pending queue used by the controller.
type Dequeuer interface {
	TryPop() (*core.PendingRequest, bool)
}

// PendingQueue is a bounded FIFO of requests waiting to be forwarded.
// Producers may block (Push) or drop (Offer); the controller never blocks.
type PendingQueue struct {
	items  chan *core.PendingRequest
	done   chan struct{}
	closed sync.Once
}

// NewPendingQueue creates a queue holding at most capacity requests.
func NewPendingQueue(capacity int) *PendingQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &PendingQueue{
		items: make(chan *core.PendingRequest, capacity),
		done:  make(chan struct{}),
	}
}

// Push enqueues req, waiting for a free slot until ctx is done.
func (q *PendingQueue) Push(ctx context.Context, req *core.PendingRequest) error {
	if req == nil {
		return errors.New("request is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}

	select {
	case q.items <- req:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Offer enqueues req without waiting.
func (q *PendingQueue) Offer(req *core.PendingRequest) error {
	if req == nil {
		return errors.New("request is required")
	}

	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}

	select {
	case q.items <- req:
		return nil
	default:
		return ErrQueueFull
	}
}

// TryPop removes the oldest request if one is available.
func (q *PendingQueue) TryPop() (*core.PendingRequest, bool) {
	select {
	case req := <-q.items:
		return req, true
	default:
		return nil, false
	}
}

// Close stops accepting new requests. Queued requests remain poppable.
func (q *PendingQueue) Close() {
	q.closed.Do(func() { close(q.done) })
}

// Len returns the number of queued requests.
func (q *PendingQueue) Len() int {
	return len(q.items)
}

// Cap returns the queue capacity.
func (q *PendingQueue) Cap() int {
	return cap(q.items)
}
