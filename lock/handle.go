package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Handle is a held lease returned by a successful acquisition. A Handle
// must not be used from more than one goroutine at a time; the only
// concurrency it manages itself is its own auto-renew loop.
type Handle struct {
	manager *Manager
	key     string
	value   string

	disposed atomic.Bool

	mu        sync.Mutex
	ttl       time.Duration
	expiresAt time.Time

	renewCtx      context.Context
	renewInterval time.Duration
	cancel        context.CancelFunc
	done          chan struct{}
}

func newHandle(ctx context.Context, m *Manager, key, value string, ttl time.Duration, acquiredAt time.Time) *Handle {
	h := &Handle{
		manager:   m,
		key:       key,
		value:     value,
		ttl:       ttl,
		expiresAt: acquiredAt.Add(ttl),
	}
	if m.config.AutoRenew {
		interval := m.config.AutoRenewInterval
		if interval <= 0 {
			interval = ttl / 3
		}
		h.renewCtx = context.WithoutCancel(ctx)
		h.renewInterval = max(interval, time.Millisecond)
		h.startAutoRenew()
	}
	return h
}

// Key returns the logical lock key.
func (h *Handle) Key() string {
	return h.key
}

// Value returns the ownership token stored in the backend.
func (h *Handle) Value() string {
	return h.value
}

// ExpiresAt is the local estimate of when the backend entry expires.
func (h *Handle) ExpiresAt() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.expiresAt
}

// Disposed reports whether the handle was released or closed.
func (h *Handle) Disposed() bool {
	return h.disposed.Load()
}

// IsValid reports whether the handle is not disposed and its lease has not
// expired by the local clock. The backend remains the source of truth.
func (h *Handle) IsValid() bool {
	return !h.disposed.Load() && time.Now().Before(h.ExpiresAt())
}

// Renew extends the lease to ttl if the backend still holds this handle's
// value. A ttl <= 0 reuses the current lease length. Disposed handles
// never reach the backend.
func (h *Handle) Renew(ctx context.Context, ttl time.Duration) bool {
	if h.disposed.Load() {
		return false
	}

	h.mu.Lock()
	if ttl <= 0 {
		ttl = h.ttl
	}
	h.mu.Unlock()
	ttl = h.manager.ttlOrDefault(ttl)

	start := time.Now()
	if !h.manager.Renew(ctx, h.key, h.value, ttl) {
		return false
	}

	h.mu.Lock()
	h.ttl = ttl
	h.expiresAt = start.Add(ttl)
	h.mu.Unlock()
	return true
}

// Release deletes the backend entry if it still holds this handle's value.
// It returns true once; afterwards the handle is disposed and every call
// returns false. A failed release keeps auto-renew running.
func (h *Handle) Release(ctx context.Context) bool {
	if h.disposed.Load() {
		return false
	}
	renewing := h.stopAutoRenew()

	if !h.manager.Release(ctx, h.key, h.value) {
		if renewing {
			h.startAutoRenew()
		}
		return false
	}
	h.disposed.Store(true)
	return true
}

// Close releases the lock if it was not released yet and marks the handle
// disposed regardless of the outcome. It never returns an error.
func (h *Handle) Close() error {
	h.dispose(context.Background())
	return nil
}

func (h *Handle) dispose(ctx context.Context) {
	if h.disposed.Load() {
		return
	}
	if !h.Release(ctx) {
		h.stopAutoRenew()
		h.manager.logger(ctx).V(1).Info("lock: lease already gone on dispose", "key", h.key)
	}
	h.disposed.Store(true)
}

func (h *Handle) startAutoRenew() {
	ctx, cancel := context.WithCancel(h.renewCtx)
	done := make(chan struct{})
	h.cancel, h.done = cancel, done
	go h.autoRenew(ctx, h.renewInterval, done)
}

// stopAutoRenew waits for the renew loop to exit and reports whether it
// was still running.
func (h *Handle) stopAutoRenew() bool {
	if h.cancel == nil {
		return false
	}
	running := true
	select {
	case <-h.done:
		running = false
	default:
	}
	h.cancel()
	<-h.done
	h.cancel = nil
	return running
}

func (h *Handle) autoRenew(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)

	log := h.manager.logger(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !h.Renew(ctx, 0) {
				if ctx.Err() == nil {
					log.Info("lock: auto-renew stopped, lease lost", "key", h.key)
				}
				return
			}
		}
	}
}
