package dispatch

import (
	"context"
	"time"

	"github.com/drblury/botpipe/internal/runtime/event"
	loggingpkg "github.com/drblury/botpipe/internal/runtime/logging"
	"github.com/drblury/botpipe/internal/runtime/notify"
)

// JobContext provides information about a dispatch to hooks.
type JobContext struct {
	// EventID is the identifier of the dispatched event.
	EventID string
	// ActorID is the originating actor, zero when the event had none.
	ActorID int64
	// Kind is the event kind.
	Kind event.Kind
	// Context is the dispatch context, carrying the dispatch span.
	Context context.Context
	// StartedAt is when the dispatch began.
	StartedAt time.Time
	// Duration is how long the handler ran (only set in OnJobDone and OnJobError).
	Duration time.Duration
	// Outcome is set for OnJobDone, OnJobError and OnRejected.
	Outcome Outcome
}

// JobHooks defines callbacks for dispatch lifecycle events.
// All hooks are optional - nil hooks are simply not called.
type JobHooks struct {
	// OnJobStart is called after the actor's in-flight marker was acquired,
	// right before the handler is invoked.
	OnJobStart func(ctx JobContext)

	// OnJobDone is called when the handler returned without error.
	OnJobDone func(ctx JobContext)

	// OnJobError is called when the handler failed, panicked, timed out or
	// was cancelled.
	OnJobError func(ctx JobContext, err error)

	// OnRejected is called when an event never reached the handler: unknown
	// actor, cooldown, busy actor or a state backend failure. err is nil for
	// plain rejections.
	OnRejected func(ctx JobContext, err error)

	// OnNotify is called once a notification attempt finished.
	OnNotify func(ctx JobContext, n notify.Notification, err error)
}

// Merge combines two JobHooks, creating a new JobHooks that calls both.
// The hooks from 'other' are called after the hooks from 'h'.
func (h JobHooks) Merge(other JobHooks) JobHooks {
	return JobHooks{
		OnJobStart: chainHooks(h.OnJobStart, other.OnJobStart),
		OnJobDone:  chainHooks(h.OnJobDone, other.OnJobDone),
		OnJobError: chainErrorHooks(h.OnJobError, other.OnJobError),
		OnRejected: chainErrorHooks(h.OnRejected, other.OnRejected),
		OnNotify:   chainNotifyHooks(h.OnNotify, other.OnNotify),
	}
}

func chainHooks(a, b func(JobContext)) func(JobContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx JobContext) {
		a(ctx)
		b(ctx)
	}
}

func chainErrorHooks(a, b func(JobContext, error)) func(JobContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx JobContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

func chainNotifyHooks(a, b func(JobContext, notify.Notification, error)) func(JobContext, notify.Notification, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx JobContext, n notify.Notification, err error) {
		a(ctx, n, err)
		b(ctx, n, err)
	}
}

// LoggingHooks returns pre-built hooks that log dispatch lifecycle events.
func LoggingHooks(logger loggingpkg.ServiceLogger) JobHooks {
	return JobHooks{
		OnJobStart: func(ctx JobContext) {
			logger.Debug("Job started", loggingpkg.LogFields{
				"event_id": ctx.EventID,
				"actor_id": ctx.ActorID,
				"kind":     string(ctx.Kind),
			})
		},
		OnJobDone: func(ctx JobContext) {
			logger.Info("Job completed", loggingpkg.LogFields{
				"event_id":    ctx.EventID,
				"actor_id":    ctx.ActorID,
				"duration_ms": ctx.Duration.Milliseconds(),
			})
		},
		OnJobError: func(ctx JobContext, err error) {
			logger.Error("Job failed", err, loggingpkg.LogFields{
				"event_id":    ctx.EventID,
				"actor_id":    ctx.ActorID,
				"outcome":     string(ctx.Outcome),
				"duration_ms": ctx.Duration.Milliseconds(),
			})
		},
		OnRejected: func(ctx JobContext, err error) {
			fields := loggingpkg.LogFields{
				"event_id": ctx.EventID,
				"actor_id": ctx.ActorID,
				"outcome":  string(ctx.Outcome),
			}
			if err != nil {
				logger.Error("Event rejected", err, fields)
				return
			}
			logger.Debug("Event rejected", fields)
		},
	}
}

// MetricsHooks returns pre-built hooks that report every final outcome and
// every notification attempt.
func MetricsHooks(onOutcome func(outcome Outcome, handlerDuration time.Duration), onNotify func(reason notify.Reason, err error)) JobHooks {
	hooks := JobHooks{}
	if onOutcome != nil {
		hooks.OnJobDone = func(ctx JobContext) {
			onOutcome(ctx.Outcome, ctx.Duration)
		}
		hooks.OnJobError = func(ctx JobContext, _ error) {
			onOutcome(ctx.Outcome, ctx.Duration)
		}
		hooks.OnRejected = func(ctx JobContext, _ error) {
			onOutcome(ctx.Outcome, 0)
		}
	}
	if onNotify != nil {
		hooks.OnNotify = func(_ JobContext, n notify.Notification, err error) {
			onNotify(n.Reason, err)
		}
	}
	return hooks
}

// AlertingHooks returns pre-built hooks that trigger alerts on handler errors.
func AlertingHooks(alertFunc func(ctx JobContext, err error)) JobHooks {
	return JobHooks{
		OnJobError: alertFunc,
	}
}
