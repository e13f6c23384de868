// Package worker runs the fixed set of goroutines that drain the ingestion
// queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	errspkg "github.com/drblury/botpipe/internal/runtime/errors"
	"github.com/drblury/botpipe/internal/runtime/event"
	loggingpkg "github.com/drblury/botpipe/internal/runtime/logging"
)

// Source yields events until it is closed and drained or ctx ends.
type Source interface {
	Dequeue(ctx context.Context) (event.Event, error)
}

// DispatchFunc processes one event. Panics are contained by the pool.
type DispatchFunc func(ctx context.Context, ev event.Event)

// Pool is a fixed number of long-lived workers.
type Pool struct {
	size     int
	source   Source
	dispatch DispatchFunc
	logger   loggingpkg.ServiceLogger

	started   atomic.Bool
	live      atomic.Int64
	recovered atomic.Uint64
	wg        sync.WaitGroup
}

// New creates a pool of size workers reading from source.
func New(size int, source Source, dispatch DispatchFunc, logger loggingpkg.ServiceLogger) (*Pool, error) {
	if size <= 0 {
		return nil, fmt.Errorf("worker: size must be positive, got %d", size)
	}
	if source == nil {
		return nil, errors.New("worker: source is required")
	}
	if dispatch == nil {
		return nil, errors.New("worker: dispatch func is required")
	}
	if logger == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	return &Pool{
		size:     size,
		source:   source,
		dispatch: dispatch,
		logger:   logger.With(loggingpkg.LogFields{"component": "worker_pool"}),
	}, nil
}

// Start launches the workers. They run until the source reports an error,
// which happens once ctx is cancelled or the source is closed and drained.
func (p *Pool) Start(ctx context.Context) error {
	if !p.started.CompareAndSwap(false, true) {
		return errspkg.ErrAlreadyStarted
	}
	p.wg.Add(p.size)
	p.live.Add(int64(p.size))
	for id := 0; id < p.size; id++ {
		go p.loop(ctx, id)
	}
	p.logger.Info("Worker pool started", loggingpkg.LogFields{"workers": p.size})
	return nil
}

func (p *Pool) loop(ctx context.Context, id int) {
	defer p.wg.Done()
	defer p.live.Add(-1)

	log := p.logger.With(loggingpkg.LogFields{"worker": id})
	for {
		ev, err := p.source.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, errspkg.ErrQueueClosed) || ctx.Err() != nil {
				log.Debug("Worker stopped", nil)
			} else {
				log.Error("Worker stopped on dequeue error", err, nil)
			}
			return
		}
		p.runOne(ctx, log, ev)
	}
}

// runOne keeps a panicking dispatch from killing the worker.
func (p *Pool) runOne(ctx context.Context, log loggingpkg.ServiceLogger, ev event.Event) {
	defer func() {
		if r := recover(); r != nil {
			p.recovered.Add(1)
			log.Error("Recovered from dispatch panic", fmt.Errorf("panic: %v", r), loggingpkg.LogFields{
				"event_id": ev.ID,
				"stack":    string(debug.Stack()),
			})
		}
	}()
	p.dispatch(ctx, ev)
}

// Wait blocks until every worker has exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Live returns the number of running workers.
func (p *Pool) Live() int {
	return int(p.live.Load())
}

// Size returns the configured number of workers.
func (p *Pool) Size() int {
	return p.size
}

// Recovered returns the number of contained dispatch panics.
func (p *Pool) Recovered() uint64 {
	return p.recovered.Load()
}
