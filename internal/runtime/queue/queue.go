// Package queue implements the bounded ingestion buffer between the inbound
// transport and the worker pool.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	errspkg "github.com/drblury/botpipe/internal/runtime/errors"
	"github.com/drblury/botpipe/internal/runtime/event"
)

// Queue is a fixed-capacity FIFO of events. Producers wait a bounded time for
// space and then drop; consumers block until an event arrives, their context
// ends, or the queue is closed and drained.
type Queue struct {
	items chan event.Event

	// mu serialises the closed check in Enqueue against Close so that no send
	// can land after Close returns.
	mu       sync.RWMutex
	isClosed bool

	closing   chan struct{}
	sealed    chan struct{}
	closeOnce sync.Once
}

// New creates a queue holding at most capacity events.
func New(capacity int) (*Queue, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("queue: capacity must be positive, got %d", capacity)
	}
	return &Queue{
		items:   make(chan event.Event, capacity),
		closing: make(chan struct{}),
		sealed:  make(chan struct{}),
	}, nil
}

// Enqueue adds ev, waiting up to wait for free space. It returns
// ErrQueueFull when the wait elapses (the event is discarded), ErrQueueClosed
// once Close has been called, or the context error.
func (q *Queue) Enqueue(ctx context.Context, ev event.Event, wait time.Duration) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.isClosed {
		return errspkg.ErrQueueClosed
	}

	select {
	case q.items <- ev:
		return nil
	default:
	}
	if wait <= 0 {
		return errspkg.ErrQueueFull
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case q.items <- ev:
		return nil
	case <-timer.C:
		return errspkg.ErrQueueFull
	case <-q.closing:
		return errspkg.ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue removes the oldest event. After Close it keeps returning buffered
// events and reports ErrQueueClosed once the buffer is empty.
func (q *Queue) Dequeue(ctx context.Context) (event.Event, error) {
	select {
	case ev := <-q.items:
		return ev, nil
	case <-ctx.Done():
		return event.Event{}, ctx.Err()
	case <-q.closing:
	}

	select {
	case <-q.sealed:
	case <-ctx.Done():
		return event.Event{}, ctx.Err()
	}
	select {
	case ev := <-q.items:
		return ev, nil
	default:
		return event.Event{}, errspkg.ErrQueueClosed
	}
}

// Close stops accepting events and wakes blocked producers. It is safe to
// call more than once.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.closing)
		q.mu.Lock()
		q.isClosed = true
		q.mu.Unlock()
		close(q.sealed)
	})
}

// Closed reports whether Close has been called.
func (q *Queue) Closed() bool {
	select {
	case <-q.closing:
		return true
	default:
		return false
	}
}

// Len returns the number of buffered events.
func (q *Queue) Len() int { return len(q.items) }

// Cap returns the fixed capacity.
func (q *Queue) Cap() int { return cap(q.items) }
