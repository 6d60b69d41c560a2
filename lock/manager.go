package lock

import (
	"context"
	"time"

	"github.com/enverbisevac/distlock/pubsub"
	"go.opentelemetry.io/otel/codes"
)

var (
	_ Service = (*Manager)(nil)
)

// Manager acquires, renews and releases leases on a Store. It keeps no
// per-lock state and is safe for concurrent use; the store is the only
// serialization point.
type Manager struct {
	store  Store
	config Config
	owner  string
}

// New creates a lock manager on top of store.
func New(store Store, options ...Option) (*Manager, error) {
	config := DefaultConfig()
	for _, opt := range options {
		opt.Apply(&config)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &Manager{
		store:  store,
		config: config,
		owner:  newOwnerID(config),
	}, nil
}

// Config returns the manager configuration.
func (m *Manager) Config() Config {
	return m.config
}

// Owner returns the owner identifier embedded in every lock value.
func (m *Manager) Owner() string {
	return m.owner
}

func (m *Manager) storeKey(key string) string {
	return m.config.KeyPrefix + key
}

// ttlOrDefault maps ttl <= 0 to the default expiration and rounds sub
// millisecond leases up, since backends store whole milliseconds.
func (m *Manager) ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return m.config.DefaultExpiration
	}
	return max(ttl, time.Millisecond)
}

// TryAcquire makes a single acquisition attempt. A nil handle means the
// lock is unavailable: held by someone else, disabled, or the backend
// could not be reached.
func (m *Manager) TryAcquire(ctx context.Context, key string, ttl time.Duration) *Handle {
	ctx, span := startSpan(ctx, "Manager.TryAcquire", key)
	defer span.End()

	return m.tryAcquire(ctx, key, ttl)
}

// TryAcquireDefault is TryAcquire with the default expiration.
func (m *Manager) TryAcquireDefault(ctx context.Context, key string) *Handle {
	return m.TryAcquire(ctx, key, m.config.DefaultExpiration)
}

func (m *Manager) tryAcquire(ctx context.Context, key string, ttl time.Duration) *Handle {
	if !m.config.Enabled {
		AcquireTotal.WithLabelValues(resultDisabled).Inc()
		return nil
	}

	ttl = m.ttlOrDefault(ttl)
	value := newValue(m.owner)

	start := time.Now()
	ok, err := m.store.TrySet(ctx, m.storeKey(key), value, ttl)
	m.observe(ctx, opTrySet, key, start)
	if err != nil {
		AcquireTotal.WithLabelValues(resultError).Inc()
		if ctx.Err() == nil {
			m.logger(ctx).Error(err, "lock: acquire failed", "key", key)
		}
		return nil
	}
	if !ok {
		AcquireTotal.WithLabelValues(resultContended).Inc()
		return nil
	}

	AcquireTotal.WithLabelValues(resultAcquired).Inc()
	return newHandle(ctx, m, key, value, ttl, start)
}

// Acquire retries TryAcquire every RetryInterval until it succeeds, the
// timeout elapses or MaxRetryCount retries were made; the latter two fail
// with a *TimeoutError. With a Notifier configured a release of key
// triggers the next retry early. Cancelling ctx aborts the wait and returns
// ctx.Err(). A timeout <= 0 puts no wall-clock bound on the loop.
func (m *Manager) Acquire(ctx context.Context, key string, ttl, timeout time.Duration) (*Handle, error) {
	ctx, span := startSpan(ctx, "Manager.Acquire", key)
	defer span.End()

	start := time.Now()
	if !m.config.Enabled {
		AcquireTotal.WithLabelValues(resultDisabled).Inc()
		err := &TimeoutError{Key: key}
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var released <-chan *pubsub.Msg
	for retries := 0; ; retries++ {
		if err := ctx.Err(); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}

		if h := m.tryAcquire(ctx, key, ttl); h != nil {
			m.observe(ctx, opAcquire, key, start)
			return h, nil
		}

		elapsed := time.Since(start)
		if (timeout > 0 && elapsed >= timeout) ||
			(m.config.MaxRetryCount > 0 && retries >= m.config.MaxRetryCount) {
			TimeoutTotal.Inc()
			err := &TimeoutError{Key: key, Elapsed: elapsed, Retries: retries}
			m.logger(ctx).V(1).Info("lock: acquire timed out",
				"key", key, "elapsed", elapsed, "retries", retries)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}

		if retries == 0 {
			var stop func()
			released, stop = m.watchReleases(ctx, key)
			defer stop()
		}

		wait := m.config.RetryInterval
		if timeout > 0 {
			wait = min(wait, timeout-elapsed)
		}
		open, err := sleep(ctx, wait, released)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		if !open {
			released = nil
		}
	}
}

// AcquireDefault is Acquire with the default expiration.
func (m *Manager) AcquireDefault(ctx context.Context, key string, timeout time.Duration) (*Handle, error) {
	return m.Acquire(ctx, key, m.config.DefaultExpiration, timeout)
}

// sleep waits for d, a release announcement on released or the end of
// ctx. It reports false once released is closed.
func sleep(ctx context.Context, d time.Duration, released <-chan *pubsub.Msg) (bool, error) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return true, ctx.Err()
	case <-timer.C:
		return true, nil
	case _, ok := <-released:
		return ok, nil
	}
}

// Release deletes the lock only if it still holds value. Releasing an
// expired or foreign lock returns false.
func (m *Manager) Release(ctx context.Context, key, value string) bool {
	ctx, span := startSpan(ctx, "Manager.Release", key)
	defer span.End()

	start := time.Now()
	ok, err := m.store.CompareDelete(ctx, m.storeKey(key), value)
	m.observe(ctx, opDelete, key, start)
	if err != nil {
		ReleaseTotal.WithLabelValues(resultError).Inc()
		m.logger(ctx).Error(err, "lock: release failed", "key", key)
		return false
	}
	if !ok {
		ReleaseTotal.WithLabelValues(resultNotHeld).Inc()
		return false
	}
	ReleaseTotal.WithLabelValues(resultOK).Inc()
	m.notifyReleased(ctx, key)
	return true
}

// Renew resets the lease to ttl only if the lock still holds value.
func (m *Manager) Renew(ctx context.Context, key, value string, ttl time.Duration) bool {
	ctx, span := startSpan(ctx, "Manager.Renew", key)
	defer span.End()

	start := time.Now()
	ok, err := m.store.CompareExpire(ctx, m.storeKey(key), value, m.ttlOrDefault(ttl))
	m.observe(ctx, opExpire, key, start)
	if err != nil {
		RenewTotal.WithLabelValues(resultError).Inc()
		if ctx.Err() == nil {
			m.logger(ctx).Error(err, "lock: renew failed", "key", key)
		}
		return false
	}
	if !ok {
		RenewTotal.WithLabelValues(resultNotHeld).Inc()
		return false
	}
	RenewTotal.WithLabelValues(resultOK).Inc()
	return true
}

// Exists reports whether key is currently locked. Backend failures report false.
func (m *Manager) Exists(ctx context.Context, key string) bool {
	start := time.Now()
	ok, err := m.store.Exists(ctx, m.storeKey(key))
	m.observe(ctx, opExists, key, start)
	if err != nil {
		m.logger(ctx).Error(err, "lock: exists failed", "key", key)
		return false
	}
	return ok
}

// RemainingTTL returns the lease left on key. The boolean is false when
// the key is not locked or the backend could not be reached.
func (m *Manager) RemainingTTL(ctx context.Context, key string) (time.Duration, bool) {
	start := time.Now()
	ttl, ok, err := m.store.RemainingTTL(ctx, m.storeKey(key))
	m.observe(ctx, opTTL, key, start)
	if err != nil {
		m.logger(ctx).Error(err, "lock: remaining ttl failed", "key", key)
		return 0, false
	}
	return ttl, ok
}

// WithLock acquires key, runs fn and releases the lock on every exit
// path. Errors returned by fn are passed through unchanged.
func (m *Manager) WithLock(ctx context.Context, key string, ttl, timeout time.Duration, fn func(ctx context.Context) error) error {
	_, err := ExecuteWithLock(ctx, m, key, ttl, timeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// ExecuteWithLock acquires key on m, runs fn and returns its result. The
// lock is released before returning, including when fn panics or ctx is
// cancelled; release uses a context detached from ctx cancellation.
func ExecuteWithLock[T any](
	ctx context.Context,
	m *Manager,
	key string,
	ttl, timeout time.Duration,
	fn func(ctx context.Context) (T, error),
) (T, error) {
	ctx, span := startSpan(ctx, "ExecuteWithLock", key)
	defer span.End()

	var zero T
	h, err := m.Acquire(ctx, key, ttl, timeout)
	if err != nil {
		return zero, err
	}

	start := time.Now()
	defer func() {
		h.dispose(context.WithoutCancel(ctx))
		m.observe(ctx, opWithLock, key, start)
	}()

	return fn(ctx)
}

// NewLock returns a Locker bound to key that leases with the default
// expiration.
func (m *Manager) NewLock(key string) Locker {
	return &locker{
		manager: m,
		key:     key,
	}
}
