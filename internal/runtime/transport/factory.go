// Package transport connects the pipeline service to the transport registry.
package transport

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/drblury/botpipe/internal/runtime/config"
	registry "github.com/drblury/botpipe/transport"

	// Register the built-in transports.
	_ "github.com/drblury/botpipe/transport/transports"
)

// Transport is the publisher and subscriber pair a factory produces.
type Transport = registry.Transport

// Factory abstracts how the service obtains its transport.
type Factory interface {
	Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error)

func (f FactoryFunc) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
	return f(ctx, conf, logger)
}

// DefaultFactory returns the factory backed by the transport registry.
func DefaultFactory() Factory {
	return defaultFactory{}
}

type defaultFactory struct{}

func (defaultFactory) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
	if conf == nil {
		return Transport{}, fmt.Errorf("config is required")
	}
	return registry.Build(ctx, conf, logger)
}

// Capabilities reports what the configured transport guarantees.
func Capabilities(conf *config.Config) registry.Capabilities {
	return registry.GetCapabilities(conf.GetPubSubSystem())
}
