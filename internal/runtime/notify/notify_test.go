package notify

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/botpipe/internal/runtime/errors"
	"github.com/drblury/botpipe/internal/runtime/jsoncodec"
)

func TestFuncAndNop(t *testing.T) {
	var got Notification
	var n Notifier = Func(func(_ context.Context, in Notification) error {
		got = in
		return nil
	})
	require.NoError(t, n.Notify(context.Background(), Notification{Token: "cb-1", Reason: ReasonBusy}))
	assert.Equal(t, "cb-1", got.Token)

	assert.NoError(t, Nop{}.Notify(context.Background(), Notification{}))
}

func TestThrottledDropsOverLimit(t *testing.T) {
	var calls atomic.Int32
	next := Func(func(context.Context, Notification) error {
		calls.Add(1)
		return nil
	})
	throttled, err := NewThrottled(next, 0.001, 2)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, throttled.Notify(ctx, Notification{}))
	require.NoError(t, throttled.Notify(ctx, Notification{}))
	assert.ErrorIs(t, throttled.Notify(ctx, Notification{}), errspkg.ErrNotifyThrottled)
	assert.Equal(t, int32(2), calls.Load())
}

func TestThrottledPropagatesErrors(t *testing.T) {
	cause := errors.New("transport down")
	throttled, err := NewThrottled(Func(func(context.Context, Notification) error { return cause }), 10, 1)
	require.NoError(t, err)
	assert.ErrorIs(t, throttled.Notify(context.Background(), Notification{}), cause)
}

func TestNewThrottledValidation(t *testing.T) {
	_, err := NewThrottled(nil, 1, 1)
	assert.Error(t, err)
	_, err = NewThrottled(Nop{}, 0, 1)
	assert.Error(t, err)
}

func TestPublisherPublishesJSON(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 1}, watermill.NopLogger{})
	defer pubSub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	messages, err := pubSub.Subscribe(ctx, "notifications")
	require.NoError(t, err)

	notifier, err := NewPublisher(pubSub, "notifications")
	require.NoError(t, err)
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	notifier.now = func() time.Time { return fixed }

	require.NoError(t, notifier.Notify(ctx, Notification{
		Token:   "cb-42",
		Text:    DefaultRateLimitedText,
		Reason:  ReasonRateLimited,
		EventID: "evt-9",
		ActorID: 42,
	}))

	select {
	case msg := <-messages:
		msg.Ack()
		assert.NotEmpty(t, msg.UUID)
		assert.Equal(t, "rate_limited", msg.Metadata.Get(MetadataReason))
		assert.Equal(t, "evt-9", msg.Metadata.Get(MetadataEventID))
		assert.Equal(t, "42", msg.Metadata.Get(MetadataActorID))

		var decoded Notification
		require.NoError(t, jsoncodec.Unmarshal(msg.Payload, &decoded))
		assert.Equal(t, "cb-42", decoded.Token)
		assert.Equal(t, DefaultRateLimitedText, decoded.Text)
		assert.True(t, fixed.Equal(decoded.SentAt))
	case <-ctx.Done():
		t.Fatal("notification was not published")
	}
}

func TestNewPublisherValidation(t *testing.T) {
	_, err := NewPublisher(nil, "topic")
	assert.Error(t, err)

	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	defer pubSub.Close()
	_, err = NewPublisher(pubSub, "")
	assert.Error(t, err)
}
