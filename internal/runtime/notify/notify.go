// Package notify delivers best-effort acknowledgments back to the user
// interface element that produced an event.
package notify

import (
	"context"
	"time"
)

// Reason explains why the pipeline acknowledged an event without running it.
type Reason string

const (
	ReasonRateLimited Reason = "rate_limited"
	ReasonBusy        Reason = "busy"
)

// Default acknowledgment texts.
const (
	DefaultRateLimitedText = "Clicked too fast. Slow down..."
	DefaultBusyText        = "Update is being processed. Slow down..."
)

// Notification is a short acknowledgment routed by interaction token.
type Notification struct {
	Token   string    `json:"token"`
	Text    string    `json:"text"`
	Reason  Reason    `json:"reason"`
	EventID string    `json:"event_id,omitempty"`
	ActorID int64     `json:"actor_id,omitempty"`
	SentAt  time.Time `json:"sent_at"`
}

// Notifier sends a notification to the transport.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, n Notification) error

func (f Func) Notify(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// Nop drops every notification.
type Nop struct{}

func (Nop) Notify(context.Context, Notification) error { return nil }
