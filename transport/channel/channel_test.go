package channel

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/botpipe/transport"
)

type mockConfig struct{}

func (mockConfig) GetPubSubSystem() string       { return "channel" }
func (mockConfig) GetKafkaBrokers() []string     { return nil }
func (mockConfig) GetKafkaConsumerGroup() string { return "" }
func (mockConfig) GetRabbitMQURL() string        { return "" }
func (mockConfig) GetNATSURL() string            { return "" }

func TestRegister(t *testing.T) {
	original := transport.DefaultRegistry
	t.Cleanup(func() { transport.DefaultRegistry = original })
	transport.DefaultRegistry = transport.NewRegistry()

	Register()

	assert.True(t, transport.DefaultRegistry.Has("gochannel"))
	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "channel", caps.Name)
	assert.True(t, caps.SupportsReliableDelivery())
	assert.False(t, caps.CrossProcess)
}

func TestCapabilities(t *testing.T) {
	assert.Equal(t, transport.ChannelCapabilities, Capabilities())
}

func TestBuild_SharesPubSub(t *testing.T) {
	tr, err := Build(context.Background(), mockConfig{}, watermill.NopLogger{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })

	assert.Same(t, tr.Publisher, tr.Subscriber)

	// Persistent: messages published before subscribing are delivered.
	require.NoError(t, tr.Publisher.Publish("updates", message.NewMessage("m-1", []byte(`{}`))))

	msgs, err := tr.Subscriber.Subscribe(context.Background(), "updates")
	require.NoError(t, err)

	select {
	case msg := <-msgs:
		assert.Equal(t, "m-1", msg.UUID)
		msg.Ack()
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}
}

func TestBuild_UsesFactory(t *testing.T) {
	original := Factory
	t.Cleanup(func() { Factory = original })

	var got gochannel.Config
	Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
		got = cfg
		return original(cfg, logger)
	}

	tr, err := Build(context.Background(), mockConfig{}, watermill.NopLogger{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })

	assert.True(t, got.Persistent)
	assert.Equal(t, int64(DefaultBuffer), got.OutputChannelBuffer)
}
