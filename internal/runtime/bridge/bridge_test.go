package bridge

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/botpipe/internal/runtime/errors"
	"github.com/drblury/botpipe/internal/runtime/event"
)

func newBridge(t *testing.T, opts Options) *Bridge {
	t.Helper()
	b, err := New(opts, nil)
	require.NoError(t, err)
	return b
}

func waitClosed(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler goroutine did not exit")
	}
}

func TestNewRejectsNegativeOptions(t *testing.T) {
	_, err := New(Options{MaxConcurrent: -1}, nil)
	assert.Error(t, err)
	_, err = New(Options{Timeout: -time.Second}, nil)
	assert.Error(t, err)
}

func TestInvokeAndWaitSuccess(t *testing.T) {
	b := newBridge(t, Options{})
	var seen string

	done, err := b.InvokeAndWait(context.Background(), event.New("evt-1", 1, nil), func(_ context.Context, ev event.Event) error {
		seen = ev.ID
		return nil
	})
	require.NoError(t, err)
	waitClosed(t, done)
	assert.Equal(t, "evt-1", seen)
	assert.Equal(t, int64(0), b.Running())
}

func TestInvokeAndWaitWrapsHandlerError(t *testing.T) {
	b := newBridge(t, Options{})
	cause := errors.New("db down")

	done, err := b.InvokeAndWait(context.Background(), event.New("evt-2", 7, nil), func(context.Context, event.Event) error {
		return cause
	})
	waitClosed(t, done)

	require.Error(t, err)
	assert.ErrorIs(t, err, errspkg.ErrHandlerFailure)
	assert.ErrorIs(t, err, cause)

	var handlerErr *errspkg.HandlerError
	require.ErrorAs(t, err, &handlerErr)
	assert.Equal(t, "evt-2", handlerErr.EventID)
	assert.Equal(t, int64(7), handlerErr.ActorID)
}

func TestInvokeAndWaitRecoversPanic(t *testing.T) {
	b := newBridge(t, Options{})

	done, err := b.InvokeAndWait(context.Background(), event.New("evt-3", 1, nil), func(context.Context, event.Event) error {
		panic("boom")
	})
	waitClosed(t, done)

	var handlerErr *errspkg.HandlerError
	require.ErrorAs(t, err, &handlerErr)
	assert.Equal(t, "boom", handlerErr.Panic)
	assert.ErrorIs(t, err, errspkg.ErrHandlerFailure)
}

func TestInvokeAndWaitTimeoutAbandonsHandler(t *testing.T) {
	b := newBridge(t, Options{Timeout: 20 * time.Millisecond})
	release := make(chan struct{})
	var sawCancel atomic.Bool

	done, err := b.InvokeAndWait(context.Background(), event.New("evt-4", 1, nil), func(ctx context.Context, _ event.Event) error {
		<-ctx.Done()
		sawCancel.Store(true)
		<-release
		return nil
	})
	require.ErrorIs(t, err, errspkg.ErrHandlerTimeout)

	select {
	case <-done:
		t.Fatal("done closed while the handler is still running")
	default:
	}
	assert.Eventually(t, sawCancel.Load, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), b.Running())

	close(release)
	waitClosed(t, done)
	assert.Equal(t, int64(0), b.Running())
}

func TestInvokeAndWaitContextCancelled(t *testing.T) {
	b := newBridge(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})

	go func() {
		<-started
		cancel()
	}()

	done, err := b.InvokeAndWait(ctx, event.New("evt-5", 1, nil), func(ctx context.Context, _ event.Event) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	require.ErrorIs(t, err, errspkg.ErrCancelled)
	waitClosed(t, done)
}

func TestMaxConcurrentBoundsHandlers(t *testing.T) {
	b := newBridge(t, Options{MaxConcurrent: 2})
	var (
		current atomic.Int32
		peak    atomic.Int32
	)
	handler := func(context.Context, event.Event) error {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		current.Add(-1)
		return nil
	}

	errs := make(chan error, 6)
	for i := 0; i < 6; i++ {
		go func() {
			_, err := b.InvokeAndWait(context.Background(), event.New("evt", event.ActorID(i), nil), handler)
			errs <- err
		}()
	}
	for i := 0; i < 6; i++ {
		require.NoError(t, <-errs)
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestMaxConcurrentCancelledWhileWaitingForSlot(t *testing.T) {
	b := newBridge(t, Options{MaxConcurrent: 1})
	block := make(chan struct{})
	defer close(block)

	go func() {
		_, _ = b.InvokeAndWait(context.Background(), event.New("holder", 1, nil), func(context.Context, event.Event) error {
			<-block
			return nil
		})
	}()
	require.Eventually(t, func() bool { return b.Running() == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	var called atomic.Bool
	done, err := b.InvokeAndWait(ctx, event.New("waiter", 2, nil), func(context.Context, event.Event) error {
		called.Store(true)
		return nil
	})
	require.ErrorIs(t, err, errspkg.ErrCancelled)
	waitClosed(t, done)
	assert.False(t, called.Load())
}

func TestInvokeAndWaitNilHandler(t *testing.T) {
	b := newBridge(t, Options{})
	done, err := b.InvokeAndWait(context.Background(), event.Event{ID: "x"}, nil)
	require.ErrorIs(t, err, errspkg.ErrHandlerRequired)
	waitClosed(t, done)
}

func TestDoneClosedWhenResultReturned(t *testing.T) {
	b := newBridge(t, Options{MaxConcurrent: 1})
	cause := errors.New("boom")

	for i := 0; i < 2000; i++ {
		done, err := b.InvokeAndWait(context.Background(), event.New("evt", 1, nil), func(context.Context, event.Event) error {
			return cause
		})
		require.ErrorIs(t, err, cause)
		select {
		case <-done:
		default:
			t.Fatalf("done still open after the handler result on iteration %d", i)
		}
		require.Equal(t, int64(0), b.Running())
	}
}

func TestTimeoutCoversWaitForSlot(t *testing.T) {
	b := newBridge(t, Options{MaxConcurrent: 1, Timeout: 20 * time.Millisecond})
	release := make(chan struct{})
	defer close(release)

	stuck, err := b.InvokeAndWait(context.Background(), event.New("stuck", 1, nil), func(context.Context, event.Event) error {
		<-release
		return nil
	})
	require.ErrorIs(t, err, errspkg.ErrHandlerTimeout)

	var ran atomic.Bool
	result := make(chan error, 1)
	go func() {
		_, err := b.InvokeAndWait(context.Background(), event.New("other", 2, nil), func(context.Context, event.Event) error {
			ran.Store(true)
			return nil
		})
		result <- err
	}()

	select {
	case err := <-result:
		require.ErrorIs(t, err, errspkg.ErrHandlerTimeout)
		assert.Contains(t, err.Error(), "handler slot")
	case <-time.After(2 * time.Second):
		t.Fatal("InvokeAndWait blocked on a handler slot past its timeout")
	}
	assert.False(t, ran.Load())
	assert.Equal(t, int64(1), b.Running())

	release <- struct{}{}
	waitClosed(t, stuck)
}
