// Package ratelimit enforces a per-actor cooldown between accepted events.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/drblury/botpipe/internal/runtime/event"
)

// Cooldown accepts an actor's event only when at least the cooldown has
// elapsed since that actor's previous accepted event. The boundary is
// inclusive: an event exactly one cooldown after the last accepted one is
// allowed.
//
// Entries are never evicted; memory grows with the number of distinct actors.
type Cooldown struct {
	cooldownMillis int64
	last           sync.Map // event.ActorID -> int64 epoch millis
	size           atomic.Int64
}

// NewCooldown creates a limiter. The cooldown must be at least a millisecond.
func NewCooldown(cooldown time.Duration) (*Cooldown, error) {
	if cooldown < time.Millisecond {
		return nil, fmt.Errorf("ratelimit: cooldown must be at least 1ms, got %s", cooldown)
	}
	return &Cooldown{cooldownMillis: cooldown.Milliseconds()}, nil
}

// Accept reports whether actor may proceed at now and, if so, records now as
// the actor's last accepted time. Rejections leave the stored time untouched.
func (c *Cooldown) Accept(_ context.Context, actor event.ActorID, now time.Time) (bool, error) {
	nowMillis := now.UnixMilli()
	for {
		prev, loaded := c.last.LoadOrStore(actor, nowMillis)
		if !loaded {
			c.size.Add(1)
			return true, nil
		}
		last := prev.(int64)
		if nowMillis-last < c.cooldownMillis {
			return false, nil
		}
		if c.last.CompareAndSwap(actor, last, nowMillis) {
			return true, nil
		}
		// Another accept for this actor won the race; re-evaluate against
		// the value it stored.
	}
}

// Last returns the actor's last accepted time.
func (c *Cooldown) Last(actor event.ActorID) (time.Time, bool) {
	v, ok := c.last.Load(actor)
	if !ok {
		return time.Time{}, false
	}
	return time.UnixMilli(v.(int64)), true
}

// Len returns the number of actors with a recorded entry.
func (c *Cooldown) Len() int {
	return int(c.size.Load())
}

// Window returns the configured cooldown.
func (c *Cooldown) Window() time.Duration {
	return time.Duration(c.cooldownMillis) * time.Millisecond
}
