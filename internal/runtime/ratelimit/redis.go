package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/drblury/botpipe/internal/runtime/event"
)

// DefaultRedisPrefix namespaces cooldown keys.
const DefaultRedisPrefix = "botpipe:cooldown:"

// Redis shares the cooldown between several pipeline processes. Each accepted
// event writes a key that expires after the cooldown; while the key exists
// further events for the actor are rejected.
type Redis struct {
	client   redis.Cmdable
	cooldown time.Duration
	prefix   string
}

// NewRedis creates a Redis-backed cooldown limiter.
func NewRedis(client redis.Cmdable, cooldown time.Duration, prefix string) (*Redis, error) {
	if client == nil {
		return nil, errors.New("ratelimit: redis client is required")
	}
	if cooldown < time.Millisecond {
		return nil, fmt.Errorf("ratelimit: cooldown must be at least 1ms, got %s", cooldown)
	}
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &Redis{client: client, cooldown: cooldown, prefix: prefix}, nil
}

// Accept performs SET NX PX, which is atomic on the server.
func (r *Redis) Accept(ctx context.Context, actor event.ActorID, now time.Time) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.key(actor), strconv.FormatInt(now.UnixMilli(), 10), r.cooldown).Result()
	if err != nil {
		return false, fmt.Errorf("ratelimit: redis accept for actor %s: %w", actor, err)
	}
	return ok, nil
}

func (r *Redis) key(actor event.ActorID) string {
	return r.prefix + actor.String()
}
