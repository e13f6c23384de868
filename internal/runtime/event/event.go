// Package event defines the inbound event handed from a transport to the
// dispatch pipeline.
package event

import (
	"strconv"
	"time"
)

// ActorID is the stable identity of the user that originated an event.
type ActorID int64

func (a ActorID) String() string {
	return strconv.FormatInt(int64(a), 10)
}

// Kind classifies an event by the transport construct it came from.
type Kind string

const (
	KindMessage       Kind = "message"
	KindCallbackQuery Kind = "callback_query"
	KindOther         Kind = "other"
)

// Event is an opaque inbound payload. Only the identifier, the originating
// actor and the interaction token are interpreted by the pipeline.
type Event struct {
	ID    string   `json:"id"`
	Actor *ActorID `json:"actor_id,omitempty"`
	// InteractionToken routes a one-shot acknowledgment back to the UI
	// element that produced the event. Empty when the event has none.
	InteractionToken string            `json:"interaction_token,omitempty"`
	Kind             Kind              `json:"kind,omitempty"`
	Payload          []byte            `json:"payload,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	ReceivedAt       time.Time         `json:"received_at"`
}

// New builds an event originated by actor.
func New(id string, actor ActorID, payload []byte) Event {
	return Event{ID: id, Actor: &actor, Kind: KindMessage, Payload: payload}
}

// Originator returns the actor that sent the event, if known.
func (e Event) Originator() (ActorID, bool) {
	if e.Actor == nil {
		return 0, false
	}
	return *e.Actor, true
}

// CanNotify reports whether an acknowledgment can be routed back.
func (e Event) CanNotify() bool {
	return e.InteractionToken != ""
}

// WithInteraction returns a copy of e carrying token, marked as a callback query.
func (e Event) WithInteraction(token string) Event {
	e.InteractionToken = token
	e.Kind = KindCallbackQuery
	return e
}
