/*
Package runtime wires the dispatch pipeline of botpipe.

# Architecture Overview

An event travels transport → Service.Submit → queue → worker → dispatcher →
handler bridge → handler. Submit never runs handlers; it only enqueues with a
bounded wait. Each worker takes one event at a time and calls the dispatcher,
which decides the event's Outcome:

  - unknown_actor: the event has no originating user
  - rate_limited: the user's previous accepted event is inside the cooldown
  - busy: the user already has an event in flight
  - handled / failed / cancelled: the handler ran
  - backend_error: the shared state backend could not be reached

# Package Structure

## Core Service (service.go)

Service builds and owns the queue, the rate limiter, the in-flight registry,
the handler bridge, the dispatcher and the worker pool. Start runs the
workers until its context ends and then shuts down, draining the queue within
ShutdownTimeout.

## Run (run.go)

Run builds the configured transport, publishes notifications on NotifyTopic
and consumes InboundTopic into a Service.

## Metrics (metrics.go)

Prometheus counters, histograms and gauges under botpipe_pipeline_*.

## Admin server (admin.go)

chi router serving /metrics, /api/stats and /healthz.

# Sub-packages

  - bridge/: runs handler bodies on their own goroutines
  - config/: configuration with validation and cleanenv loading
  - dispatch/: per-event decisions and job hooks
  - errors/: sentinel errors and error types
  - event/: the event envelope and its watermill codec
  - ids/: ULID generation for event and message IDs
  - inflight/: at most one in-flight event per user, in memory or Redis
  - jsoncodec/: JSON marshaling utilities
  - kvstore/: Postgres key/value store for handler bodies
  - logging/: logger interface and adapters
  - notify/: user acknowledgments and their transports
  - queue/: the bounded ingestion queue
  - ratelimit/: per-user cooldown, in memory or Redis
  - transport/: the transport factory used by Run
  - worker/: the fixed worker pool

# Usage Example

	conf := config.Defaults()
	conf.PubSubSystem = "kafka"
	conf.KafkaBrokers = []string{"localhost:9092"}

	err := runtime.Run(ctx, &conf, logger, runtime.ServiceDependencies{
		Handler: dispatch.HandlerFunc(handleUpdate),
	})
*/
package runtime
