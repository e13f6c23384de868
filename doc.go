// Package botpipe is the inbound side of a chat bot: it takes events from a
// transport, queues them, and runs the bot's handler for each one on a fixed
// set of workers while keeping every user to one event at a time and one
// event per cooldown window.
//
// Events enter through Service.Submit, which waits briefly for room in a
// bounded queue and drops the event when the queue stays full. Workers take
// events off the queue and hand them to the dispatcher. The dispatcher rejects
// events from unknown senders, from users still inside their cooldown and from
// users whose previous event is still being handled. Rejected callback events
// get a short acknowledgment through the Notifier so the user sees why nothing
// happened. Accepted events run the Handler on its own goroutine; a panic or
// error there is logged and never takes a worker down.
//
// # Transports
//
// Run builds the transport named by Config.PubSubSystem and consumes
// Config.InboundTopic:
//   - channel: in-memory Go channels for tests and single-process bots
//   - kafka: consumer groups, events keyed by user id
//   - rabbitmq: durable AMQP work queues
//   - nats: NATS Core with queue groups
//
// Callers that own their subscriber use Service.Consume directly, and callers
// with no broker at all call Service.Submit.
//
// # State
//
// Cooldowns and in-flight markers live in memory by default. With the redis
// state backend they are shared, so several replicas consuming one topic still
// give each user at most one running handler.
//
// # Job Hooks
//
// JobHooks carry OnJobStart, OnJobDone, OnJobError, OnRejected and OnNotify
// callbacks. LoggingHooks, MetricsHooks and AlertingHooks cover the common
// cases and combine with Merge.
//
// # Observability
//
// The admin server serves Prometheus metrics on /metrics, a JSON snapshot on
// /api/stats and a liveness check on /healthz. Every dispatch runs in an
// OpenTelemetry span.
package botpipe
