package inflight

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryAcquireAndRelease(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	ok, err := r.TryAcquire(ctx, 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, r.Held(1))

	ok, err = r.TryAcquire(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok, "second acquire for the same actor must report busy")

	ok, _ = r.TryAcquire(ctx, 2)
	assert.True(t, ok, "other actors are unaffected")
	assert.Equal(t, 2, r.Len())

	require.NoError(t, r.Release(ctx, 1))
	assert.False(t, r.Held(1))
	assert.Equal(t, 1, r.Len())

	ok, _ = r.TryAcquire(ctx, 1)
	assert.True(t, ok, "actor can be acquired again after release")
}

func TestReleaseOfAbsentMarkerIsNoop(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	require.NoError(t, r.Release(ctx, 42))
	require.NoError(t, r.Release(ctx, 42))
	assert.Equal(t, 0, r.Len())
}

func TestConcurrentAcquireHasSingleWinner(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	const callers = 128
	var (
		wins  atomic.Int32
		wg    sync.WaitGroup
		start = make(chan struct{})
	)
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			<-start
			if ok, _ := r.TryAcquire(ctx, 9); ok {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, 1, r.Len())
}

func TestAtMostOneHolderUnderChurn(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	const goroutines = 16
	const rounds = 500
	var (
		holders atomic.Int32
		maxSeen atomic.Int32
		wg      sync.WaitGroup
	)
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func() {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				ok, _ := r.TryAcquire(ctx, 3)
				if !ok {
					continue
				}
				n := holders.Add(1)
				for {
					cur := maxSeen.Load()
					if n <= cur || maxSeen.CompareAndSwap(cur, n) {
						break
					}
				}
				holders.Add(-1)
				_ = r.Release(ctx, 3)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxSeen.Load())
	assert.False(t, r.Held(3))
}
