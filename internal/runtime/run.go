package runtime

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	configpkg "github.com/drblury/botpipe/internal/runtime/config"
	errspkg "github.com/drblury/botpipe/internal/runtime/errors"
	loggingpkg "github.com/drblury/botpipe/internal/runtime/logging"
	"github.com/drblury/botpipe/internal/runtime/notify"
	transportpkg "github.com/drblury/botpipe/internal/runtime/transport"
)

// Run builds the configured transport and a Service, then consumes
// InboundTopic until ctx ends. Unless deps.Notifier is set, notifications are
// published to NotifyTopic on the same transport.
func Run(ctx context.Context, conf *configpkg.Config, log loggingpkg.ServiceLogger, deps ServiceDependencies) error {
	if conf == nil {
		return errspkg.ErrConfigRequired
	}
	if log == nil {
		return errspkg.ErrLoggerRequired
	}
	if err := conf.Validate(); err != nil {
		return errspkg.NewConfigValidationError(err)
	}
	if conf.InboundTopic == "" {
		return errspkg.NewConfigValidationError(errors.New("transport: inbound topic is required"))
	}

	factory := deps.TransportFactory
	if factory == nil {
		factory = transportpkg.DefaultFactory()
	}
	tr, err := factory.Build(ctx, conf, loggingpkg.NewWatermillAdapter(log.With(loggingpkg.LogFields{"component": "transport"})))
	if err != nil {
		return fmt.Errorf("botpipe: build transport: %w", err)
	}
	defer func() {
		if err := tr.Close(); err != nil {
			log.Error("Closing transport failed", err, nil)
		}
	}()

	caps := transportpkg.Capabilities(conf)
	if caps.NeedsSharedState() && !conf.UsesRedis() {
		log.Info("Cooldowns and in-flight markers are local to this process", loggingpkg.LogFields{
			"transport":     caps.Name,
			"state_backend": conf.StateBackend,
		})
	}

	if deps.Notifier == nil && conf.NotifyTopic != "" {
		publisher, err := notify.NewPublisher(tr.Publisher, conf.NotifyTopic)
		if err != nil {
			return err
		}
		deps.Notifier = publisher
	}

	svc, err := NewService(conf, log, deps)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return svc.Start(gctx)
	})
	g.Go(func() error {
		err := svc.Consume(gctx, tr.Subscriber, conf.InboundTopic)
		if errors.Is(err, errspkg.ErrQueueClosed) {
			return nil
		}
		return err
	})
	return g.Wait()
}
