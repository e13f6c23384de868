package notify

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	errspkg "github.com/drblury/botpipe/internal/runtime/errors"
)

// Throttled caps the rate of outgoing notifications so a flood of rejected
// clicks does not turn into a flood of transport calls.
type Throttled struct {
	next    Notifier
	limiter *rate.Limiter
}

// NewThrottled wraps next with a token bucket of perSecond notifications and
// the given burst.
func NewThrottled(next Notifier, perSecond float64, burst int) (*Throttled, error) {
	if next == nil {
		return nil, fmt.Errorf("notify: next notifier is required")
	}
	if perSecond <= 0 {
		return nil, fmt.Errorf("notify: rate must be positive, got %v", perSecond)
	}
	if burst <= 0 {
		burst = 1
	}
	return &Throttled{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}, nil
}

// Notify forwards n when a token is available and returns
// ErrNotifyThrottled otherwise.
func (t *Throttled) Notify(ctx context.Context, n Notification) error {
	if !t.limiter.Allow() {
		return errspkg.ErrNotifyThrottled
	}
	return t.next.Notify(ctx, n)
}
