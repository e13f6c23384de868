// Package inflight tracks which actors currently have an event being
// processed, so that at most one task per actor runs at any time.
package inflight

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/drblury/botpipe/internal/runtime/event"
)

type marker struct{}

// Registry is an in-process set of in-flight actors. A marker exists for an
// actor iff a task for that actor is executing.
type Registry struct {
	held sync.Map // event.ActorID -> marker
	size atomic.Int64
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// TryAcquire inserts a marker for actor if none exists. Only the first of
// several concurrent callers succeeds; the others get false immediately.
func (r *Registry) TryAcquire(_ context.Context, actor event.ActorID) (bool, error) {
	if _, loaded := r.held.LoadOrStore(actor, marker{}); loaded {
		return false, nil
	}
	r.size.Add(1)
	return true, nil
}

// Release removes actor's marker. Releasing an actor that holds nothing is a
// no-op.
func (r *Registry) Release(_ context.Context, actor event.ActorID) error {
	if _, loaded := r.held.LoadAndDelete(actor); loaded {
		r.size.Add(-1)
	}
	return nil
}

// Held reports whether actor currently has a task in flight.
func (r *Registry) Held(actor event.ActorID) bool {
	_, ok := r.held.Load(actor)
	return ok
}

// Len returns the number of actors in flight.
func (r *Registry) Len() int {
	return int(r.size.Load())
}
