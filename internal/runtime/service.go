package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/drblury/botpipe/internal/runtime/bridge"
	configpkg "github.com/drblury/botpipe/internal/runtime/config"
	"github.com/drblury/botpipe/internal/runtime/dispatch"
	errspkg "github.com/drblury/botpipe/internal/runtime/errors"
	"github.com/drblury/botpipe/internal/runtime/event"
	"github.com/drblury/botpipe/internal/runtime/ids"
	"github.com/drblury/botpipe/internal/runtime/inflight"
	loggingpkg "github.com/drblury/botpipe/internal/runtime/logging"
	"github.com/drblury/botpipe/internal/runtime/notify"
	"github.com/drblury/botpipe/internal/runtime/queue"
	"github.com/drblury/botpipe/internal/runtime/ratelimit"
	transportpkg "github.com/drblury/botpipe/internal/runtime/transport"
	"github.com/drblury/botpipe/internal/runtime/worker"
)

const redisPingTimeout = 5 * time.Second

// newRedisClient is a variable so tests can avoid dialing.
var newRedisClient = func(conf *configpkg.Config) redis.UniversalClient {
	return redis.NewClient(&redis.Options{
		Addr:     conf.RedisAddr,
		Password: conf.RedisPassword,
		DB:       conf.RedisDB,
	})
}

// ServiceDependencies holds the collaborators the Service uses. Handler is
// required; leave the other fields nil to get the defaults.
type ServiceDependencies struct {
	Handler  dispatch.Handler
	Notifier notify.Notifier
	// Hooks run after the built-in metrics hooks.
	Hooks dispatch.JobHooks
	// Registerer receives the pipeline collectors. Defaults to a fresh
	// registry that also backs the admin /metrics endpoint.
	Registerer prometheus.Registerer
	// Gatherer backs /metrics. Defaults to Registerer when it is also a
	// Gatherer, otherwise to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
	// RedisClient is used when the state backend is redis. When nil a client
	// is built from the configuration and closed on Shutdown.
	RedisClient redis.UniversalClient
	Clock       func() time.Time
	Tracer      trace.Tracer
	// TransportFactory is used by Run. Defaults to the transport registry.
	TransportFactory transportpkg.Factory
}

// Submitter is the inbound side of the pipeline a transport adapter talks to.
type Submitter interface {
	Submit(ctx context.Context, ev event.Event) error
}

var _ Submitter = (*Service)(nil)

type stateRegistry interface {
	dispatch.Registry
	Len() int
}

// Service wires the ingestion queue, the worker pool and the dispatcher.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	queue      *queue.Queue
	limiter    dispatch.Limiter
	registry   stateRegistry
	bridge     *bridge.Bridge
	dispatcher *dispatch.Dispatcher
	pool       *worker.Pool
	metrics    *PipelineMetrics
	gatherer   prometheus.Gatherer
	clock      func() time.Time

	redis     redis.UniversalClient
	ownsRedis bool

	// workCtx is handed to workers and handlers; it is cancelled only when a
	// shutdown deadline expires.
	workCtx    context.Context
	cancelWork context.CancelFunc

	started      atomic.Bool
	shutdownOnce sync.Once
	shutdownErr  error

	submitted atomic.Uint64
	dropped   atomic.Uint64
}

// NewService validates conf and builds a Service. Call Start to run it.
func NewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, deps ServiceDependencies) (*Service, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if deps.Handler == nil {
		return nil, errspkg.ErrHandlerRequired
	}
	if err := conf.Validate(); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}

	log.Info("Creating pipeline service", loggingpkg.LogFields{
		"workers":        conf.WorkerCount,
		"queue_capacity": conf.QueueCapacity,
		"state_backend":  conf.StateBackend,
		"config":         conf,
	})

	s := &Service{
		Conf:   conf,
		Logger: log,
		clock:  deps.Clock,
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	s.workCtx, s.cancelWork = context.WithCancel(context.Background())

	var err error
	if s.queue, err = queue.New(conf.QueueCapacity); err != nil {
		return nil, err
	}
	if err = s.buildState(conf, deps.RedisClient); err != nil {
		return nil, err
	}
	if s.bridge, err = bridge.New(bridge.Options{
		MaxConcurrent: conf.MaxConcurrentHandlers,
		Timeout:       conf.HandlerTimeout,
	}, log.With(loggingpkg.LogFields{"component": "bridge"})); err != nil {
		return nil, s.closeOnError(err)
	}

	registerer, gatherer := deps.Registerer, deps.Gatherer
	if registerer == nil {
		registry := prometheus.NewRegistry()
		registerer, gatherer = registry, registry
	}
	if gatherer == nil {
		if g, ok := registerer.(prometheus.Gatherer); ok {
			gatherer = g
		} else {
			gatherer = prometheus.DefaultGatherer
		}
	}
	s.gatherer = gatherer

	notifier, err := s.buildNotifier(conf, deps.Notifier)
	if err != nil {
		return nil, s.closeOnError(err)
	}

	// The pool is assigned below; the gauges only read it at scrape time.
	s.metrics = NewPipelineMetrics(registerer, PipelineGauges{
		QueueDepth:      func() float64 { return float64(s.queue.Len()) },
		InFlightActors:  func() float64 { return float64(s.registry.Len()) },
		LiveWorkers:     func() float64 { return float64(s.pool.Live()) },
		RunningHandlers: func() float64 { return float64(s.bridge.Running()) },
	})
	if err := s.metrics.Register(); err != nil {
		return nil, s.closeOnError(fmt.Errorf("botpipe: register metrics: %w", err))
	}

	if s.dispatcher, err = dispatch.New(dispatch.Options{
		Limiter:         s.limiter,
		Registry:        s.registry,
		Bridge:          s.bridge,
		Handler:         deps.Handler,
		Logger:          log,
		Notifier:        notifier,
		Hooks:           s.metrics.Hooks().Merge(deps.Hooks),
		Clock:           s.clock,
		Tracer:          deps.Tracer,
		RateLimitedText: conf.RateLimitedText,
		BusyText:        conf.BusyText,
		NotifyTimeout:   conf.NotifyTimeout,
	}); err != nil {
		return nil, s.closeOnError(err)
	}

	if s.pool, err = worker.New(conf.WorkerCount, s.queue, s.dispatch, log); err != nil {
		return nil, s.closeOnError(err)
	}
	return s, nil
}

func (s *Service) buildState(conf *configpkg.Config, client redis.UniversalClient) error {
	if !conf.UsesRedis() {
		limiter, err := ratelimit.NewCooldown(conf.UserCooldown)
		if err != nil {
			return err
		}
		s.limiter = limiter
		s.registry = inflight.NewRegistry()
		return nil
	}

	if client == nil {
		client = newRedisClient(conf)
		s.ownsRedis = true
	}
	s.redis = client

	ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return s.closeOnError(fmt.Errorf("botpipe: redis ping %s: %w", conf.RedisAddr, err))
	}

	limiter, err := ratelimit.NewRedis(client, conf.UserCooldown, redisPrefix(conf, "cooldown"))
	if err != nil {
		return s.closeOnError(err)
	}
	registry, err := inflight.NewRedis(client, conf.InFlightTTL, redisPrefix(conf, "inflight"))
	if err != nil {
		return s.closeOnError(err)
	}
	s.limiter = limiter
	s.registry = registry
	return nil
}

func redisPrefix(conf *configpkg.Config, kind string) string {
	if conf.RedisKeyPrefix == "" {
		return ""
	}
	return conf.RedisKeyPrefix + ":" + kind + ":"
}

func (s *Service) buildNotifier(conf *configpkg.Config, notifier notify.Notifier) (notify.Notifier, error) {
	if notifier == nil {
		return notify.Nop{}, nil
	}
	if conf.NotifyRatePerSecond <= 0 {
		return notifier, nil
	}
	return notify.NewThrottled(notifier, conf.NotifyRatePerSecond, conf.NotifyBurst)
}

func (s *Service) closeOnError(err error) error {
	if s.ownsRedis && s.redis != nil {
		_ = s.redis.Close()
	}
	s.cancelWork()
	return err
}

func (s *Service) dispatch(ctx context.Context, ev event.Event) {
	s.dispatcher.Dispatch(ctx, ev)
}

// Submit hands ev to the pipeline. It assigns an id and a receive time when
// missing and waits at most EnqueueTimeout for queue space; when the queue
// stays full the event is dropped and ErrQueueFull returned. Submit never
// runs the handler itself.
func (s *Service) Submit(ctx context.Context, ev event.Event) error {
	if ev.ID == "" {
		ev.ID = ids.NewEventID()
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = s.clock()
	}

	err := s.queue.Enqueue(ctx, ev, s.Conf.EnqueueTimeout)
	switch {
	case err == nil:
		s.submitted.Add(1)
		s.metrics.RecordSubmitted()
		return nil
	case errors.Is(err, errspkg.ErrQueueFull):
		s.dropped.Add(1)
		s.metrics.RecordDropped()
		fields := loggingpkg.LogFields{
			"event_id":       ev.ID,
			"queue_capacity": s.queue.Cap(),
			"wait_ms":        s.Conf.EnqueueTimeout.Milliseconds(),
		}
		if actor, ok := ev.Originator(); ok {
			fields["actor_id"] = int64(actor)
		}
		s.Logger.Info("Dropped event", fields)
		return err
	default:
		return err
	}
}

// Start runs the workers, and the admin server when enabled, until ctx is
// cancelled. It then shuts the pipeline down, bounded by ShutdownTimeout.
func (s *Service) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errspkg.ErrAlreadyStarted
	}
	if s.queue.Closed() {
		return errspkg.ErrQueueClosed
	}
	if err := s.pool.Start(s.workCtx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if s.Conf.AdminEnabled {
		g.Go(func() error {
			return s.serveAdmin(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx := context.WithoutCancel(gctx)
		if s.Conf.ShutdownTimeout > 0 {
			var cancel context.CancelFunc
			shutdownCtx, cancel = context.WithTimeout(shutdownCtx, s.Conf.ShutdownTimeout)
			defer cancel()
		}
		return s.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Shutdown stops accepting events, lets the workers drain the queue and waits
// for running handlers. When ctx ends first, handlers are cancelled and the
// abandoned work is logged. Only the first call does anything; later calls
// return its result.
func (s *Service) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.shutdownErr = s.shutdown(ctx)
	})
	return s.shutdownErr
}

func (s *Service) shutdown(ctx context.Context) error {
	s.Logger.Info("Shutting down pipeline", loggingpkg.LogFields{
		"queued_events":    s.queue.Len(),
		"running_handlers": s.bridge.Running(),
	})
	s.queue.Close()

	if !s.started.Load() {
		if n := s.queue.Len(); n > 0 {
			s.Logger.Info("Discarding events queued before start", loggingpkg.LogFields{"abandoned_events": n})
		}
		return s.finishShutdown(ctx)
	}

	workersDone := make(chan struct{})
	go func() {
		s.pool.Wait()
		close(workersDone)
	}()

	var err error
	select {
	case <-workersDone:
	case <-ctx.Done():
		abandoned := s.queue.Len()
		running := s.bridge.Running()
		s.cancelWork()
		<-workersDone
		err = fmt.Errorf("botpipe: shutdown: %w", ctx.Err())
		s.Logger.Error("Shutdown deadline exceeded", err, loggingpkg.LogFields{
			"abandoned_events": abandoned,
			"running_handlers": running,
		})
	}

	return errors.Join(err, s.finishShutdown(ctx))
}

func (s *Service) finishShutdown(ctx context.Context) error {
	if err := s.dispatcher.Wait(ctx); err != nil {
		s.Logger.Error("Background work still pending after shutdown", err, loggingpkg.LogFields{
			"pending_releases": s.dispatcher.PendingReleases(),
			"running_handlers": s.bridge.Running(),
		})
	}
	s.cancelWork()

	if s.ownsRedis && s.redis != nil {
		if err := s.redis.Close(); err != nil {
			return fmt.Errorf("botpipe: close redis: %w", err)
		}
	}
	s.Logger.Info("Pipeline stopped", loggingpkg.LogFields{
		"submitted": s.submitted.Load(),
		"dropped":   s.dropped.Load(),
	})
	return nil
}

// Consume subscribes to topic and submits every decodable message. Dropped
// and undecodable messages are acked; messages are nacked only once the
// pipeline stopped accepting events, which also ends Consume.
func (s *Service) Consume(ctx context.Context, subscriber message.Subscriber, topic string) error {
	messages, err := subscriber.Subscribe(ctx, topic)
	if err != nil {
		return fmt.Errorf("botpipe: subscribe to %s: %w", topic, err)
	}

	log := s.Logger.With(loggingpkg.LogFields{"topic": topic})
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			if err := s.consumeMessage(ctx, log, msg); err != nil {
				return err
			}
		}
	}
}

func (s *Service) consumeMessage(ctx context.Context, log loggingpkg.ServiceLogger, msg *message.Message) error {
	ev, err := event.FromMessage(msg)
	if err != nil {
		log.Error("Discarding undecodable message", err, loggingpkg.LogFields{"message_uuid": msg.UUID})
		msg.Ack()
		return nil
	}

	err = s.Submit(ctx, ev)
	switch {
	case err == nil, errors.Is(err, errspkg.ErrQueueFull):
		msg.Ack()
		return nil
	case errors.Is(err, errspkg.ErrQueueClosed):
		msg.Nack()
		return err
	default:
		msg.Nack()
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
}

// Stats is a point-in-time view of the pipeline.
type Stats struct {
	QueueDepth      int               `json:"queue_depth"`
	QueueCapacity   int               `json:"queue_capacity"`
	Workers         int               `json:"workers"`
	LiveWorkers     int               `json:"live_workers"`
	InFlightActors  int               `json:"inflight_actors"`
	RunningHandlers int64             `json:"running_handlers"`
	PendingReleases int64             `json:"pending_releases"`
	Submitted       uint64            `json:"submitted"`
	Dropped         uint64            `json:"dropped"`
	RecoveredPanics uint64            `json:"recovered_panics"`
	Outcomes        map[string]uint64 `json:"outcomes"`
	CollectedAt     time.Time         `json:"collected_at"`
}

// Stats returns current counters and gauges.
func (s *Service) Stats() Stats {
	outcomes := make(map[string]uint64, len(dispatch.Outcomes))
	for outcome, n := range s.dispatcher.Counts() {
		outcomes[string(outcome)] = n
	}
	return Stats{
		QueueDepth:      s.queue.Len(),
		QueueCapacity:   s.queue.Cap(),
		Workers:         s.pool.Size(),
		LiveWorkers:     s.pool.Live(),
		InFlightActors:  s.registry.Len(),
		RunningHandlers: s.bridge.Running(),
		PendingReleases: s.dispatcher.PendingReleases(),
		Submitted:       s.submitted.Load(),
		Dropped:         s.dropped.Load(),
		RecoveredPanics: s.pool.Recovered(),
		Outcomes:        outcomes,
		CollectedAt:     s.clock(),
	}
}

// Gatherer returns the registry backing the admin /metrics endpoint.
func (s *Service) Gatherer() prometheus.Gatherer {
	return s.gatherer
}
