package event

import (
	"fmt"
	"strconv"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/botpipe/internal/runtime/jsoncodec"
)

// Metadata keys understood by FromMessage. Transports that cannot put the
// envelope in the body can carry the routing fields in message metadata.
const (
	MetadataActorID          = "botpipe_actor_id"
	MetadataInteractionToken = "botpipe_interaction_token"
	MetadataKind             = "botpipe_kind"
)

// FromMessage decodes a watermill message into an Event. A JSON body is
// decoded as the event envelope; metadata fields fill in anything the body
// left out, and the watermill UUID is used when the envelope has no id.
func FromMessage(msg *message.Message) (Event, error) {
	var ev Event
	if len(msg.Payload) > 0 {
		if !jsoncodec.Valid(msg.Payload) {
			return Event{}, fmt.Errorf("decode event %s: payload is not JSON", msg.UUID)
		}
		if err := jsoncodec.Unmarshal(msg.Payload, &ev); err != nil {
			return Event{}, fmt.Errorf("decode event %s: %w", msg.UUID, err)
		}
	}

	if ev.ID == "" {
		ev.ID = msg.UUID
	}
	if ev.Actor == nil {
		if raw := msg.Metadata.Get(MetadataActorID); raw != "" {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return Event{}, fmt.Errorf("decode event %s: invalid actor id %q: %w", msg.UUID, raw, err)
			}
			actor := ActorID(id)
			ev.Actor = &actor
		}
	}
	if ev.InteractionToken == "" {
		ev.InteractionToken = msg.Metadata.Get(MetadataInteractionToken)
	}
	if ev.Kind == "" {
		ev.Kind = Kind(msg.Metadata.Get(MetadataKind))
	}
	if ev.Kind == "" {
		ev.Kind = KindOther
	}
	if len(msg.Metadata) > 0 {
		if ev.Metadata == nil {
			ev.Metadata = make(map[string]string, len(msg.Metadata))
		}
		for key, value := range msg.Metadata {
			if _, ok := ev.Metadata[key]; !ok {
				ev.Metadata[key] = value
			}
		}
	}
	return ev, nil
}

// ToMessage encodes ev as a watermill message, mirroring the routing fields
// into metadata.
func ToMessage(ev Event) (*message.Message, error) {
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now().UTC()
	}
	body, err := jsoncodec.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode event %s: %w", ev.ID, err)
	}
	msg := message.NewMessage(ev.ID, body)
	if actor, ok := ev.Originator(); ok {
		msg.Metadata.Set(MetadataActorID, actor.String())
	}
	if ev.InteractionToken != "" {
		msg.Metadata.Set(MetadataInteractionToken, ev.InteractionToken)
	}
	if ev.Kind != "" {
		msg.Metadata.Set(MetadataKind, string(ev.Kind))
	}
	return msg, nil
}
