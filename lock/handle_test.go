package lock_test

import (
	"context"
	"testing"
	"time"

	"github.com/enverbisevac/distlock/lock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleReleaseOnce(t *testing.T) {
	s := newSpyStore()
	m := newManager(t, s)
	ctx := context.Background()

	h := m.TryAcquire(ctx, "k", time.Minute)
	require.NotNil(t, h)

	assert.True(t, h.Release(ctx))
	assert.True(t, h.Disposed())
	assert.False(t, h.IsValid())

	assert.False(t, h.Release(ctx))
	assert.Equal(t, int32(1), s.deletes.Load(), "released handle must not reach the store again")
}

func TestHandleCloseAfterRelease(t *testing.T) {
	s := newSpyStore()
	m := newManager(t, s)
	ctx := context.Background()

	h := m.TryAcquire(ctx, "k", time.Minute)
	require.NotNil(t, h)
	require.True(t, h.Release(ctx))

	require.NoError(t, h.Close())
	require.NoError(t, h.Close())
	assert.Equal(t, int32(1), s.deletes.Load())
}

func TestHandleClose(t *testing.T) {
	m := newManager(t, newSpyStore())
	ctx := context.Background()

	h := m.TryAcquire(ctx, "k", time.Minute)
	require.NotNil(t, h)

	require.NoError(t, h.Close())
	assert.True(t, h.Disposed())
	assert.False(t, m.Exists(ctx, "k"))
}

func TestHandleCloseLostLease(t *testing.T) {
	m := newManager(t, newSpyStore())
	ctx := context.Background()

	h := m.TryAcquire(ctx, "k", 20*time.Millisecond)
	require.NotNil(t, h)
	time.Sleep(40 * time.Millisecond)

	other := m.TryAcquire(ctx, "k", time.Minute)
	require.NotNil(t, other)

	assert.False(t, h.Release(ctx), "stale handle must not release a foreign lease")
	assert.False(t, h.Disposed(), "failed release keeps the handle usable")

	require.NoError(t, h.Close())
	assert.True(t, h.Disposed())
	assert.True(t, m.Exists(ctx, "k"))
}

func TestHandleRenew(t *testing.T) {
	s := newSpyStore()
	m := newManager(t, s)
	ctx := context.Background()

	h := m.TryAcquire(ctx, "k", time.Second)
	require.NotNil(t, h)
	first := h.ExpiresAt()

	require.True(t, h.Renew(ctx, time.Hour))
	assert.True(t, h.ExpiresAt().After(first.Add(30*time.Minute)))

	ttl, ok := m.RemainingTTL(ctx, "k")
	require.True(t, ok)
	assert.Greater(t, ttl, 30*time.Minute)

	before := h.ExpiresAt()
	require.True(t, h.Renew(ctx, 0), "zero ttl reuses the current lease")
	assert.False(t, h.ExpiresAt().Before(before))

	require.True(t, h.Release(ctx))
	calls := s.expires.Load()
	assert.False(t, h.Renew(ctx, time.Hour))
	assert.Equal(t, calls, s.expires.Load(), "disposed handle must not reach the store")
}

func TestHandleIsValidLocalExpiry(t *testing.T) {
	m := newManager(t, newSpyStore())
	ctx := context.Background()

	h := m.TryAcquire(ctx, "k", 20*time.Millisecond)
	require.NotNil(t, h)
	assert.True(t, h.IsValid())

	time.Sleep(40 * time.Millisecond)
	assert.False(t, h.IsValid())
	assert.False(t, h.Disposed())
	assert.False(t, h.Renew(ctx, time.Second), "expired lease cannot be renewed")
}

func TestHandleAutoRenew(t *testing.T) {
	s := newSpyStore()
	m := newManager(t, s, lock.WithAutoRenew(20*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	h := m.TryAcquire(ctx, "k", 60*time.Millisecond)
	require.NotNil(t, h)
	cancel()

	time.Sleep(200 * time.Millisecond)
	assert.True(t, m.Exists(context.Background(), "k"), "auto-renew must outlive the acquiring context")
	assert.True(t, h.IsValid())
	assert.Greater(t, s.expires.Load(), int32(3))

	require.True(t, h.Release(context.Background()))
	calls := s.expires.Load()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, calls, s.expires.Load(), "release must stop auto-renew")
}

func TestHandleAutoRenewStopsOnLoss(t *testing.T) {
	s := newSpyStore()
	m := newManager(t, s, lock.WithAutoRenew(10*time.Millisecond))
	ctx := context.Background()

	h := m.TryAcquire(ctx, "k", time.Minute)
	require.NotNil(t, h)

	// Another party force-deletes the entry.
	_, err := s.Store.CompareDelete(ctx, "lock:k", h.Value())
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	calls := s.expires.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, s.expires.Load(), "auto-renew must stop after losing the lease")

	require.NoError(t, h.Close())
}

func TestHandleFailedReleaseKeepsRenewing(t *testing.T) {
	s := newSpyStore()
	m := newManager(t, s, lock.WithAutoRenew(15*time.Millisecond))
	ctx := context.Background()

	h := m.TryAcquire(ctx, "k", 60*time.Millisecond)
	require.NotNil(t, h)

	s.failDeletes(assert.AnError)
	assert.False(t, h.Release(ctx))
	assert.False(t, h.Disposed())

	calls := s.expires.Load()
	time.Sleep(150 * time.Millisecond)
	assert.Greater(t, s.expires.Load(), calls, "auto-renew must resume after a failed release")
	assert.True(t, m.Exists(ctx, "k"), "lease must outlive its ttl while renewed")

	s.failDeletes(nil)
	require.True(t, h.Release(ctx))
	calls = s.expires.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, s.expires.Load())
}

func TestHandleCloseStopsRenewOnFailedRelease(t *testing.T) {
	s := newSpyStore()
	m := newManager(t, s, lock.WithAutoRenew(10*time.Millisecond))

	h := m.TryAcquire(context.Background(), "k", time.Minute)
	require.NotNil(t, h)

	s.failDeletes(assert.AnError)
	require.NoError(t, h.Close())
	assert.True(t, h.Disposed())

	calls := s.expires.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, s.expires.Load(), "closed handle must not keep renewing")
}
