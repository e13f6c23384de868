package inflight

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/botpipe/internal/runtime/ids"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("BOTPIPE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("BOTPIPE_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(context.Background()).Err())
	return client
}

func TestNewRedisValidation(t *testing.T) {
	_, err := NewRedis(nil, time.Second, "")
	assert.Error(t, err)

	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()

	_, err = NewRedis(client, -time.Second, "")
	assert.Error(t, err)

	r, err := NewRedis(client, 0, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultRedisTTL, r.ttl)
	assert.Equal(t, DefaultRedisPrefix+"5", r.key(5))
}

func TestRedisReleaseWithoutAcquireIsNoop(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()
	r, err := NewRedis(client, time.Second, "")
	require.NoError(t, err)

	assert.NoError(t, r.Release(context.Background(), 1))
}

func TestRedisAcquireRelease(t *testing.T) {
	client := newTestRedis(t)
	prefix := "botpipe:test:" + ids.NewEventID() + ":"
	ctx := context.Background()

	first, err := NewRedis(client, time.Minute, prefix)
	require.NoError(t, err)
	second, err := NewRedis(client, time.Minute, prefix)
	require.NoError(t, err)

	ok, err := first.TryAcquire(ctx, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = second.TryAcquire(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok, "marker is shared between processes")

	require.NoError(t, second.Release(ctx, 1))
	held, err := first.Held(ctx, 1)
	require.NoError(t, err)
	assert.True(t, held, "a non-holder cannot release the marker")

	require.NoError(t, first.Release(ctx, 1))
	held, err = first.Held(ctx, 1)
	require.NoError(t, err)
	assert.False(t, held)
}

func TestRedisStaleHolderCannotReleaseNewMarker(t *testing.T) {
	client := newTestRedis(t)
	prefix := "botpipe:test:" + ids.NewEventID() + ":"
	ctx := context.Background()

	stale, err := NewRedis(client, 100*time.Millisecond, prefix)
	require.NoError(t, err)
	fresh, err := NewRedis(client, time.Minute, prefix)
	require.NoError(t, err)

	ok, err := stale.TryAcquire(ctx, 2)
	require.NoError(t, err)
	require.True(t, ok)

	require.Eventually(t, func() bool {
		ok, err := fresh.TryAcquire(ctx, 2)
		return err == nil && ok
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, stale.Release(ctx, 2))
	held, err := fresh.Held(ctx, 2)
	require.NoError(t, err)
	assert.True(t, held)
	require.NoError(t, fresh.Release(ctx, 2))
}
