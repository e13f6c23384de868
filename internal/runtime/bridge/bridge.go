// Package bridge runs handler bodies on their own goroutines and waits for
// them, so a worker never executes user code on its own stack.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	errspkg "github.com/drblury/botpipe/internal/runtime/errors"
	"github.com/drblury/botpipe/internal/runtime/event"
	loggingpkg "github.com/drblury/botpipe/internal/runtime/logging"
)

// Func is the handler body invoked for one event.
type Func func(ctx context.Context, ev event.Event) error

// Options tunes the bridge.
type Options struct {
	// MaxConcurrent bounds simultaneously running handler goroutines.
	// Zero leaves the pool elastic.
	MaxConcurrent int64
	// Timeout bounds how long InvokeAndWait waits for a handler slot and the
	// handler together. Zero waits forever.
	Timeout time.Duration
}

// Bridge hands events to handler goroutines.
type Bridge struct {
	opts    Options
	sem     *semaphore.Weighted
	logger  loggingpkg.ServiceLogger
	running atomic.Int64
}

// New creates a bridge.
func New(opts Options, logger loggingpkg.ServiceLogger) (*Bridge, error) {
	if opts.MaxConcurrent < 0 {
		return nil, fmt.Errorf("bridge: max concurrent cannot be negative, got %d", opts.MaxConcurrent)
	}
	if opts.Timeout < 0 {
		return nil, fmt.Errorf("bridge: timeout cannot be negative, got %s", opts.Timeout)
	}
	if logger == nil {
		logger = loggingpkg.NopLogger{}
	}
	b := &Bridge{opts: opts, logger: logger}
	if opts.MaxConcurrent > 0 {
		b.sem = semaphore.NewWeighted(opts.MaxConcurrent)
	}
	return b, nil
}

// InvokeAndWait runs fn for ev on a new goroutine and blocks until it
// returns, the timeout elapses or ctx ends. The timeout also covers waiting
// for a slot when MaxConcurrent is set.
//
// The returned channel closes once the handler goroutine has exited. When
// InvokeAndWait gives up early (ErrHandlerTimeout, ErrCancelled) the handler
// may still be running; its context is cancelled but it is not killed.
func (b *Bridge) InvokeAndWait(ctx context.Context, ev event.Event, fn Func) (<-chan struct{}, error) {
	done := make(chan struct{})
	if fn == nil {
		close(done)
		return done, errspkg.ErrHandlerRequired
	}

	waitCtx := ctx
	if b.opts.Timeout > 0 {
		var cancelWait context.CancelFunc
		waitCtx, cancelWait = context.WithTimeout(ctx, b.opts.Timeout)
		defer cancelWait()
	}

	if b.sem != nil {
		if err := b.sem.Acquire(waitCtx, 1); err != nil {
			close(done)
			if ctx.Err() != nil {
				return done, fmt.Errorf("%w: waiting for handler slot: %w", errspkg.ErrCancelled, ctx.Err())
			}
			return done, fmt.Errorf("%w after %s waiting for a handler slot for event %s", errspkg.ErrHandlerTimeout, b.opts.Timeout, ev.ID)
		}
	}

	handlerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// done is closed before the result is sent, so a caller that got the
	// result observes the handler as finished.
	result := make(chan error, 1)
	b.running.Add(1)
	go func() {
		err := b.run(handlerCtx, ev, fn)
		b.running.Add(-1)
		if b.sem != nil {
			b.sem.Release(1)
		}
		close(done)
		result <- err
	}()

	select {
	case err := <-result:
		if err != nil && ctx.Err() != nil {
			return done, fmt.Errorf("%w: %w", errspkg.ErrCancelled, err)
		}
		return done, err
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return done, fmt.Errorf("%w: %w", errspkg.ErrCancelled, ctx.Err())
		}
		return done, fmt.Errorf("%w after %s on event %s", errspkg.ErrHandlerTimeout, b.opts.Timeout, ev.ID)
	}
}

func (b *Bridge) run(ctx context.Context, ev event.Event, fn Func) (err error) {
	var actor int64
	if id, ok := ev.Originator(); ok {
		actor = int64(id)
	}
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Handler panicked", fmt.Errorf("panic: %v", r), loggingpkg.LogFields{
				"event_id": ev.ID,
				"actor_id": actor,
				"stack":    string(debug.Stack()),
			})
			err = &errspkg.HandlerError{EventID: ev.ID, ActorID: actor, Panic: r}
		}
	}()

	if herr := fn(ctx, ev); herr != nil {
		var handlerErr *errspkg.HandlerError
		if errors.As(herr, &handlerErr) {
			return herr
		}
		return &errspkg.HandlerError{EventID: ev.ID, ActorID: actor, Err: herr}
	}
	return nil
}

// Running reports handler goroutines that have not exited yet, including
// ones InvokeAndWait stopped waiting for.
func (b *Bridge) Running() int64 {
	return b.running.Load()
}

// Options returns the options the bridge was built with.
func (b *Bridge) Options() Options {
	return b.opts
}
