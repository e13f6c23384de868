package inflight

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/drblury/botpipe/internal/runtime/event"
	"github.com/drblury/botpipe/internal/runtime/ids"
)

const (
	// DefaultRedisPrefix namespaces in-flight keys.
	DefaultRedisPrefix = "botpipe:inflight:"
	// DefaultRedisTTL bounds how long a marker survives a crashed holder.
	DefaultRedisTTL = 10 * time.Minute
)

// releaseScript deletes the marker only if it still carries our token, so a
// holder whose marker already expired cannot remove somebody else's.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis shares in-flight markers between several pipeline processes using
// SET NX with a safety TTL.
type Redis struct {
	client redis.Cmdable
	ttl    time.Duration
	prefix string

	// tokens remembers the value written for each actor this process holds.
	tokens sync.Map // event.ActorID -> string
	size   atomic.Int64
}

// NewRedis creates a Redis-backed registry. A zero ttl uses DefaultRedisTTL.
func NewRedis(client redis.Cmdable, ttl time.Duration, prefix string) (*Redis, error) {
	if client == nil {
		return nil, errors.New("inflight: redis client is required")
	}
	if ttl < 0 {
		return nil, fmt.Errorf("inflight: ttl cannot be negative, got %s", ttl)
	}
	if ttl == 0 {
		ttl = DefaultRedisTTL
	}
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &Redis{client: client, ttl: ttl, prefix: prefix}, nil
}

// TryAcquire sets actor's marker with a fresh owner token if no process
// holds one.
func (r *Redis) TryAcquire(ctx context.Context, actor event.ActorID) (bool, error) {
	token := ids.NewMessageID()
	ok, err := r.client.SetNX(ctx, r.key(actor), token, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("inflight: redis acquire for actor %s: %w", actor, err)
	}
	if ok {
		r.tokens.Store(actor, token)
		r.size.Add(1)
	}
	return ok, nil
}

// Release removes actor's marker if this process still owns it.
func (r *Redis) Release(ctx context.Context, actor event.ActorID) error {
	token, ok := r.tokens.LoadAndDelete(actor)
	if !ok {
		return nil
	}
	r.size.Add(-1)
	if err := releaseScript.Run(ctx, r.client, []string{r.key(actor)}, token).Err(); err != nil {
		return fmt.Errorf("inflight: redis release for actor %s: %w", actor, err)
	}
	return nil
}

// Held reports whether any process holds a marker for actor.
func (r *Redis) Held(ctx context.Context, actor event.ActorID) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(actor)).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Len returns the number of markers held by this process.
func (r *Redis) Len() int {
	return int(r.size.Load())
}

func (r *Redis) key(actor event.ActorID) string {
	return r.prefix + actor.String()
}
