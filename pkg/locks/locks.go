// Package locks provides keyed exclusive sections. The in-process Keyed locker
// serves single-replica runs and tests; RedisLocker coordinates replicas.
package locks

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotAcquired is returned when a lock could not be taken within the wait budget.
var ErrNotAcquired = errors.New("lock not acquired")

// Handle is a held lock.
type Handle interface {
	Release(ctx context.Context) error
	// Extend pushes the lock's expiry out to ttl from now.
	Extend(ctx context.Context, ttl time.Duration) error
}

// Locker grants exclusive access per key. ttl bounds how long a crashed holder can
// keep the key; wait bounds how long Acquire blocks.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl, wait time.Duration) (Handle, error)
}

// WithLock runs fn while holding key.
func WithLock(ctx context.Context, l Locker, key string, ttl, wait time.Duration, fn func(ctx context.Context) error) error {
	h, err := l.Acquire(ctx, key, ttl, wait)
	if err != nil {
		return err
	}
	defer h.Release(context.WithoutCancel(ctx))
	return fn(ctx)
}

// KeepAlive extends h every third of ttl until the returned stop func is called
// or ctx ends. onErr sees each failed extension.
func KeepAlive(ctx context.Context, h Handle, ttl time.Duration, onErr func(error)) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := h.Extend(ctx, ttl); err != nil && ctx.Err() == nil && onErr != nil {
					onErr(err)
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// ProductKey is the lock key serializing writes for one product.
func ProductKey(productID string) string {
	return "product:" + productID
}

// CatalogKey is the lock key guarding new-product creation within a category.
func CatalogKey(category string) string {
	return "catalog:" + category
}

// CycleKey guards the scheduler so only one replica starts a cycle per tick.
const CycleKey = "cycle"

// Keyed is an in-process Locker backed by one-slot channels per key.
type Keyed struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch      chan struct{}
	waiters int
}

func NewKeyed() *Keyed {
	return &Keyed{slots: make(map[string]*slot)}
}

func (k *Keyed) Acquire(ctx context.Context, key string, _ time.Duration, wait time.Duration) (Handle, error) {
	k.mu.Lock()
	s, ok := k.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		k.slots[key] = s
	}
	s.waiters++
	k.mu.Unlock()

	var timeout <-chan time.Time
	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case s.ch <- struct{}{}:
		return &keyedHandle{owner: k, key: key, slot: s}, nil
	default:
	}
	if wait <= 0 {
		k.leave(key, s)
		return nil, ErrNotAcquired
	}

	select {
	case s.ch <- struct{}{}:
		return &keyedHandle{owner: k, key: key, slot: s}, nil
	case <-timeout:
		k.leave(key, s)
		return nil, ErrNotAcquired
	case <-ctx.Done():
		k.leave(key, s)
		return nil, ctx.Err()
	}
}

// leave drops a waiter and forgets idle keys so the map does not grow unbounded.
func (k *Keyed) leave(key string, s *slot) {
	k.mu.Lock()
	defer k.mu.Unlock()
	s.waiters--
	if s.waiters == 0 && len(s.ch) == 0 {
		delete(k.slots, key)
	}
}

type keyedHandle struct {
	owner    *Keyed
	key      string
	slot     *slot
	released sync.Once
}

// Extend is a no-op; in-process locks do not expire.
func (h *keyedHandle) Extend(context.Context, time.Duration) error {
	return nil
}

func (h *keyedHandle) Release(_ context.Context) error {
	h.released.Do(func() {
		<-h.slot.ch
		h.owner.leave(h.key, h.slot)
	})
	return nil
}
