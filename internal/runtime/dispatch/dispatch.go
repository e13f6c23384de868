// Package dispatch decides, for every dequeued event, whether it may run and
// enforces that an actor never has two events in flight at once.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/botpipe/internal/runtime/bridge"
	errspkg "github.com/drblury/botpipe/internal/runtime/errors"
	"github.com/drblury/botpipe/internal/runtime/event"
	loggingpkg "github.com/drblury/botpipe/internal/runtime/logging"
	"github.com/drblury/botpipe/internal/runtime/notify"
)

const (
	// DefaultNotifyTimeout bounds a single notification attempt.
	DefaultNotifyTimeout = 5 * time.Second

	releaseTimeout = 5 * time.Second
	tracerName     = "github.com/drblury/botpipe/dispatch"
)

// Handler is the business logic run for an accepted event.
type Handler interface {
	Handle(ctx context.Context, ev event.Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev event.Event) error

func (f HandlerFunc) Handle(ctx context.Context, ev event.Event) error {
	return f(ctx, ev)
}

// Limiter decides whether an actor's event falls outside its cooldown.
type Limiter interface {
	Accept(ctx context.Context, actor event.ActorID, now time.Time) (bool, error)
}

// Registry tracks actors with an event in flight.
type Registry interface {
	TryAcquire(ctx context.Context, actor event.ActorID) (bool, error)
	Release(ctx context.Context, actor event.ActorID) error
}

// Invoker runs a handler and waits for it.
type Invoker interface {
	InvokeAndWait(ctx context.Context, ev event.Event, fn bridge.Func) (<-chan struct{}, error)
}

// Outcome is the final state of one dispatch.
type Outcome string

const (
	OutcomeHandled      Outcome = "handled"
	OutcomeFailed       Outcome = "failed"
	OutcomeRateLimited  Outcome = "rate_limited"
	OutcomeBusy         Outcome = "busy"
	OutcomeUnknownActor Outcome = "unknown_actor"
	OutcomeCancelled    Outcome = "cancelled"
	OutcomeBackendError Outcome = "backend_error"
)

// Outcomes lists every outcome in a stable order.
var Outcomes = []Outcome{
	OutcomeHandled,
	OutcomeFailed,
	OutcomeRateLimited,
	OutcomeBusy,
	OutcomeUnknownActor,
	OutcomeCancelled,
	OutcomeBackendError,
}

// Options wires a Dispatcher. Limiter, Registry, Bridge, Handler and Logger
// are required.
type Options struct {
	Limiter  Limiter
	Registry Registry
	Bridge   Invoker
	Handler  Handler
	Logger   loggingpkg.ServiceLogger

	Notifier notify.Notifier
	Hooks    JobHooks
	Clock    func() time.Time
	Tracer   trace.Tracer

	RateLimitedText string
	BusyText        string
	NotifyTimeout   time.Duration
}

// Dispatcher runs the admission checks and the handler for one event at a
// time per caller. It is safe for concurrent use by many workers.
type Dispatcher struct {
	limiter  Limiter
	registry Registry
	bridge   Invoker
	handler  Handler
	logger   loggingpkg.ServiceLogger
	notifier notify.Notifier
	hooks    JobHooks
	clock    func() time.Time
	tracer   trace.Tracer

	rateLimitedText string
	busyText        string
	notifyTimeout   time.Duration

	counts map[Outcome]*atomic.Uint64

	// background tracks notifications and deferred releases of abandoned
	// handlers.
	background      sync.WaitGroup
	pendingReleases atomic.Int64
}

// New validates opts and builds a Dispatcher.
func New(opts Options) (*Dispatcher, error) {
	var errs []error
	if opts.Limiter == nil {
		errs = append(errs, errors.New("limiter is required"))
	}
	if opts.Registry == nil {
		errs = append(errs, errors.New("registry is required"))
	}
	if opts.Bridge == nil {
		errs = append(errs, errors.New("bridge is required"))
	}
	if opts.Handler == nil {
		errs = append(errs, errspkg.ErrHandlerRequired)
	}
	if opts.Logger == nil {
		errs = append(errs, errspkg.ErrLoggerRequired)
	}
	if opts.NotifyTimeout < 0 {
		errs = append(errs, fmt.Errorf("notify timeout cannot be negative, got %s", opts.NotifyTimeout))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("dispatch: %w", err)
	}

	d := &Dispatcher{
		limiter:         opts.Limiter,
		registry:        opts.Registry,
		bridge:          opts.Bridge,
		handler:         opts.Handler,
		logger:          opts.Logger.With(loggingpkg.LogFields{"component": "dispatcher"}),
		notifier:        opts.Notifier,
		hooks:           opts.Hooks,
		clock:           opts.Clock,
		tracer:          opts.Tracer,
		rateLimitedText: opts.RateLimitedText,
		busyText:        opts.BusyText,
		notifyTimeout:   opts.NotifyTimeout,
		counts:          make(map[Outcome]*atomic.Uint64, len(Outcomes)),
	}
	if d.notifier == nil {
		d.notifier = notify.Nop{}
	}
	if d.clock == nil {
		d.clock = time.Now
	}
	if d.tracer == nil {
		d.tracer = otel.Tracer(tracerName)
	}
	if d.rateLimitedText == "" {
		d.rateLimitedText = notify.DefaultRateLimitedText
	}
	if d.busyText == "" {
		d.busyText = notify.DefaultBusyText
	}
	if d.notifyTimeout == 0 {
		d.notifyTimeout = DefaultNotifyTimeout
	}
	for _, o := range Outcomes {
		d.counts[o] = &atomic.Uint64{}
	}
	return d, nil
}

// Dispatch runs the admission checks for ev and, when they pass, the handler.
// It never returns an error and never panics because of the handler: every
// failure is reported through the outcome, the logger and the hooks.
func (d *Dispatcher) Dispatch(ctx context.Context, ev event.Event) Outcome {
	ctx, span := d.tracer.Start(ctx, "botpipe.dispatch", trace.WithAttributes(
		attribute.String("botpipe.event_id", ev.ID),
		attribute.String("botpipe.event_kind", string(ev.Kind)),
	))
	defer span.End()

	jc := JobContext{
		EventID:   ev.ID,
		Kind:      ev.Kind,
		Context:   ctx,
		StartedAt: d.clock(),
	}

	outcome, err := d.dispatch(ctx, ev, &jc)
	d.counts[outcome].Add(1)

	span.SetAttributes(attribute.String("botpipe.outcome", string(outcome)))
	if err != nil && outcome != OutcomeRateLimited && outcome != OutcomeBusy {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(outcome))
	}
	return outcome
}

func (d *Dispatcher) dispatch(ctx context.Context, ev event.Event, jc *JobContext) (Outcome, error) {
	actor, ok := ev.Originator()
	if !ok {
		d.logger.Info("Ignoring event without originating actor", loggingpkg.LogFields{"event_id": ev.ID})
		return d.reject(jc, OutcomeUnknownActor, errspkg.ErrUnknownActor), errspkg.ErrUnknownActor
	}
	jc.ActorID = int64(actor)
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int64("botpipe.actor_id", jc.ActorID))

	allowed, err := d.limiter.Accept(ctx, actor, d.clock())
	if err != nil {
		d.logger.Error("Rate limiter failed", err, loggingpkg.LogFields{"event_id": ev.ID, "actor_id": jc.ActorID})
		return d.reject(jc, OutcomeBackendError, err), err
	}
	if !allowed {
		d.notify(ctx, ev, *jc, notify.ReasonRateLimited, d.rateLimitedText)
		return d.reject(jc, OutcomeRateLimited, nil), errspkg.ErrRateLimited
	}

	acquired, err := d.registry.TryAcquire(ctx, actor)
	if err != nil {
		d.logger.Error("In-flight registry failed", err, loggingpkg.LogFields{"event_id": ev.ID, "actor_id": jc.ActorID})
		return d.reject(jc, OutcomeBackendError, err), err
	}
	if !acquired {
		d.notify(ctx, ev, *jc, notify.ReasonBusy, d.busyText)
		return d.reject(jc, OutcomeBusy, nil), errspkg.ErrBusy
	}

	return d.run(ctx, ev, actor, jc)
}

// run invokes the handler while actor's marker is held. The marker is
// released on every exit path; when the bridge stopped waiting for a handler
// that is still running, the release is deferred until that handler exits.
func (d *Dispatcher) run(ctx context.Context, ev event.Event, actor event.ActorID, jc *JobContext) (outcome Outcome, err error) {
	var done <-chan struct{}
	defer func() {
		d.releaseWhenDone(ctx, actor, ev.ID, done)
	}()

	if d.hooks.OnJobStart != nil {
		d.hooks.OnJobStart(*jc)
	}

	started := time.Now()
	done, err = d.bridge.InvokeAndWait(ctx, ev, d.handler.Handle)
	jc.Duration = time.Since(started)

	switch {
	case err == nil:
		jc.Outcome = OutcomeHandled
		if d.hooks.OnJobDone != nil {
			d.hooks.OnJobDone(*jc)
		}
		return OutcomeHandled, nil
	case errors.Is(err, errspkg.ErrCancelled):
		jc.Outcome = OutcomeCancelled
	default:
		jc.Outcome = OutcomeFailed
	}
	if d.hooks.OnJobError != nil {
		d.hooks.OnJobError(*jc, err)
	}
	return jc.Outcome, err
}

func (d *Dispatcher) reject(jc *JobContext, outcome Outcome, err error) Outcome {
	jc.Outcome = outcome
	if d.hooks.OnRejected != nil {
		d.hooks.OnRejected(*jc, err)
	}
	return outcome
}

func (d *Dispatcher) releaseWhenDone(ctx context.Context, actor event.ActorID, eventID string, done <-chan struct{}) {
	if done == nil {
		d.release(ctx, actor, eventID)
		return
	}
	select {
	case <-done:
		d.release(ctx, actor, eventID)
		return
	default:
	}

	d.logger.Info("Handler still running, deferring release", loggingpkg.LogFields{
		"event_id": eventID,
		"actor_id": int64(actor),
	})
	d.pendingReleases.Add(1)
	d.background.Add(1)
	go func() {
		defer d.background.Done()
		defer d.pendingReleases.Add(-1)
		<-done
		d.release(ctx, actor, eventID)
	}()
}

func (d *Dispatcher) release(ctx context.Context, actor event.ActorID, eventID string) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := d.registry.Release(releaseCtx, actor); err != nil {
		d.logger.Error("Failed to release in-flight marker", err, loggingpkg.LogFields{
			"event_id": eventID,
			"actor_id": int64(actor),
		})
	}
}

// notify sends an acknowledgment without blocking the worker. Events without
// an interaction token are never acknowledged.
func (d *Dispatcher) notify(ctx context.Context, ev event.Event, jc JobContext, reason notify.Reason, text string) {
	if !ev.CanNotify() {
		return
	}
	n := notify.Notification{
		Token:   ev.InteractionToken,
		Text:    text,
		Reason:  reason,
		EventID: ev.ID,
		ActorID: jc.ActorID,
		SentAt:  d.clock(),
	}

	d.background.Add(1)
	go func() {
		defer d.background.Done()
		notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.notifyTimeout)
		defer cancel()

		err := d.notifier.Notify(notifyCtx, n)
		if err != nil && !errors.Is(err, errspkg.ErrNotifyThrottled) {
			d.logger.Error("Failed to send notification", err, loggingpkg.LogFields{
				"event_id": n.EventID,
				"actor_id": n.ActorID,
				"reason":   string(reason),
			})
		}
		if d.hooks.OnNotify != nil {
			d.hooks.OnNotify(jc, n, err)
		}
	}()
}

// Wait blocks until outstanding notifications and deferred releases finish or
// ctx ends.
func (d *Dispatcher) Wait(ctx context.Context) error {
	finished := make(chan struct{})
	go func() {
		d.background.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PendingReleases reports markers waiting for an abandoned handler to exit.
func (d *Dispatcher) PendingReleases() int64 {
	return d.pendingReleases.Load()
}

// Counts returns the number of dispatches per outcome.
func (d *Dispatcher) Counts() map[Outcome]uint64 {
	out := make(map[Outcome]uint64, len(d.counts))
	for outcome, c := range d.counts {
		out[outcome] = c.Load()
	}
	return out
}
