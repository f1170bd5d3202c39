package locks

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyed_ExclusivePerKey(t *testing.T) {
	l := NewKeyed()
	ctx := context.Background()

	h, err := l.Acquire(ctx, ProductKey("p1"), time.Minute, 0)
	require.NoError(t, err)

	_, err = l.Acquire(ctx, ProductKey("p1"), time.Minute, 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrNotAcquired)

	other, err := l.Acquire(ctx, ProductKey("p2"), time.Minute, 0)
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))

	require.NoError(t, h.Release(ctx))
	again, err := l.Acquire(ctx, ProductKey("p1"), time.Minute, 0)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestKeyed_WaiterGetsLockAfterRelease(t *testing.T) {
	l := NewKeyed()
	ctx := context.Background()

	h, err := l.Acquire(ctx, "k", time.Minute, 0)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		h2, err := l.Acquire(ctx, "k", time.Minute, time.Second)
		if err == nil {
			err = h2.Release(ctx)
		}
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, h.Release(ctx))
	assert.NoError(t, <-done)
}

func TestKeyed_ReleaseIsIdempotent(t *testing.T) {
	l := NewKeyed()
	ctx := context.Background()
	h, err := l.Acquire(ctx, "k", time.Minute, 0)
	require.NoError(t, err)
	require.NoError(t, h.Release(ctx))
	require.NoError(t, h.Release(ctx))

	h, err = l.Acquire(ctx, "k", time.Minute, 0)
	require.NoError(t, err)
	require.NoError(t, h.Release(ctx))
}

func TestKeyed_ContextCancel(t *testing.T) {
	l := NewKeyed()
	h, err := l.Acquire(context.Background(), "k", time.Minute, 0)
	require.NoError(t, err)
	defer h.Release(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Acquire(ctx, "k", time.Minute, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWithLock_SerializesCriticalSection(t *testing.T) {
	l := NewKeyed()
	var inside, maxInside int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := WithLock(context.Background(), l, "shared", time.Minute, 5*time.Second, func(context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
}

type countingHandle struct {
	extends atomic.Int32
	err     error
}

func (h *countingHandle) Release(context.Context) error { return nil }

func (h *countingHandle) Extend(_ context.Context, ttl time.Duration) error {
	h.extends.Add(1)
	return h.err
}

func TestKeepAlive_ExtendsUntilStopped(t *testing.T) {
	h := &countingHandle{}
	stop := KeepAlive(context.Background(), h, 30*time.Millisecond, nil)

	require.Eventually(t, func() bool { return h.extends.Load() >= 3 }, time.Second, 5*time.Millisecond)
	stop()

	after := h.extends.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, h.extends.Load())
}

func TestKeepAlive_ReportsFailures(t *testing.T) {
	h := &countingHandle{err: errors.New("lock not held")}
	var failures atomic.Int32
	stop := KeepAlive(context.Background(), h, 30*time.Millisecond, func(error) { failures.Add(1) })
	defer stop()

	require.Eventually(t, func() bool { return failures.Load() >= 1 }, time.Second, 5*time.Millisecond)
}

func TestKeyed_ExtendIsNoop(t *testing.T) {
	k := NewKeyed()
	h, err := k.Acquire(context.Background(), "cycle", time.Millisecond, 0)
	require.NoError(t, err)
	assert.NoError(t, h.Extend(context.Background(), time.Minute))
	require.NoError(t, h.Release(context.Background()))
}
