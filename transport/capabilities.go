package transport

// Capabilities describes what a backend guarantees to the inbound consumer.
type Capabilities struct {
	// Name is the registered transport name.
	Name string

	// SupportsAck indicates acked messages are not delivered again.
	SupportsAck bool

	// SupportsNack indicates a nacked message is redelivered, so events
	// refused while the pipeline shuts down are not lost.
	SupportsNack bool

	// SupportsOrdering indicates messages of one partition or queue arrive
	// in publish order.
	SupportsOrdering bool

	// SupportsPartitioning indicates messages can be keyed, which lets all
	// events of one actor land on the same consumer.
	SupportsPartitioning bool

	// SharedConsumers indicates several pipeline replicas can consume one
	// topic without each receiving every event.
	SharedConsumers bool

	// CrossProcess is false for in-memory backends.
	CrossProcess bool

	// MaxMessageSize is the maximum message size in bytes (0 = unlimited/unknown).
	MaxMessageSize int64
}

// SupportsReliableDelivery returns true if the transport supports at-least-once
// delivery semantics (ack + nack).
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.SupportsNack
}

// NeedsSharedState reports whether pipelines on this transport can run as
// several processes, which requires the redis state backend for cooldowns and
// in-flight markers to hold across them.
func (c Capabilities) NeedsSharedState() bool {
	return c.CrossProcess && c.SharedConsumers
}

// Predefined capability sets for the built-in transports.
var (
	// ChannelCapabilities for the in-memory Go channel transport.
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		SupportsAck:      true,
		SupportsNack:     true,
		SupportsOrdering: true,
	}

	// KafkaCapabilities for Apache Kafka.
	KafkaCapabilities = Capabilities{
		Name:                 "kafka",
		SupportsAck:          true,
		SupportsOrdering:     true,
		SupportsPartitioning: true,
		SharedConsumers:      true,
		CrossProcess:         true,
		MaxMessageSize:       1048576, // Default 1MB
	}

	// RabbitMQCapabilities for a durable RabbitMQ work queue.
	RabbitMQCapabilities = Capabilities{
		Name:             "rabbitmq",
		SupportsAck:      true,
		SupportsNack:     true,
		SupportsOrdering: true,
		SharedConsumers:  true,
		CrossProcess:     true,
	}

	// NATSCapabilities for NATS Core with queue groups.
	NATSCapabilities = Capabilities{
		Name:            "nats",
		SharedConsumers: true,
		CrossProcess:    true,
		MaxMessageSize:  1048576, // Default 1MB
	}
)

// GetCapabilities returns the capabilities for a transport by name.
// Returns a Capabilities with only Name set if the transport is unknown.
func GetCapabilities(transportName string) Capabilities {
	return DefaultRegistry.GetCapabilities(transportName)
}
