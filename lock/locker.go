package lock

import (
	"context"
	"sync"
)

// locker adapts Manager to the Locker interface. It leases with the
// manager's default expiration.
type locker struct {
	manager *Manager
	key     string

	mu     sync.Mutex
	handle *Handle
}

// Lock acquires the lock, blocking until it's available or context is cancelled.
func (l *locker) Lock(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.handle.held() {
		return nil
	}
	l.handle.abandon()
	l.handle = nil

	h, err := l.manager.Acquire(ctx, l.key, l.manager.config.DefaultExpiration, 0)
	if err != nil {
		return err
	}
	l.handle = h
	return nil
}

// TryLock attempts to acquire the lock without blocking.
func (l *locker) TryLock(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.handle.held() {
		return true, nil
	}
	l.handle.abandon()
	l.handle = nil

	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	h := l.manager.TryAcquireDefault(ctx, l.key)
	if h == nil {
		return false, nil
	}
	l.handle = h
	return true, nil
}

// Unlock releases the lock. Unlocking a lock that is not held is a no-op;
// ErrNotHeld reports that the lease expired or moved to another owner
// before it was released.
func (l *locker) Unlock(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.handle == nil {
		return nil
	}

	h := l.handle
	l.handle = nil
	if !h.Release(ctx) {
		h.abandon()
		return ErrNotHeld
	}
	return nil
}

func (h *Handle) held() bool {
	return h != nil && h.IsValid()
}

// abandon disposes h without contacting the backend.
func (h *Handle) abandon() {
	if h == nil {
		return
	}
	h.stopAutoRenew()
	h.disposed.Store(true)
}
