package notify

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/botpipe/internal/runtime/ids"
	"github.com/drblury/botpipe/internal/runtime/jsoncodec"
)

// Metadata keys set on published notifications.
const (
	MetadataReason  = "botpipe_notification_reason"
	MetadataEventID = "botpipe_event_id"
	MetadataActorID = "botpipe_actor_id"
)

// Publisher emits notifications as JSON messages on a watermill topic for the
// outbound side of the transport to deliver.
type Publisher struct {
	publisher message.Publisher
	topic     string
	now       func() time.Time
}

// NewPublisher creates a notifier publishing on topic.
func NewPublisher(publisher message.Publisher, topic string) (*Publisher, error) {
	if publisher == nil {
		return nil, fmt.Errorf("notify: publisher is required")
	}
	if topic == "" {
		return nil, fmt.Errorf("notify: topic is required")
	}
	return &Publisher{publisher: publisher, topic: topic, now: time.Now}, nil
}

func (p *Publisher) Notify(ctx context.Context, n Notification) error {
	if n.SentAt.IsZero() {
		n.SentAt = p.now().UTC()
	}
	payload, err := jsoncodec.Marshal(n)
	if err != nil {
		return fmt.Errorf("notify: marshal notification: %w", err)
	}

	msg := message.NewMessage(ids.NewMessageID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set(MetadataReason, string(n.Reason))
	if n.EventID != "" {
		msg.Metadata.Set(MetadataEventID, n.EventID)
	}
	if n.ActorID != 0 {
		msg.Metadata.Set(MetadataActorID, strconv.FormatInt(n.ActorID, 10))
	}

	if err := p.publisher.Publish(p.topic, msg); err != nil {
		return fmt.Errorf("notify: publish to %s: %w", p.topic, err)
	}
	return nil
}
