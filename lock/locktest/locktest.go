// Package locktest runs the behaviour every lock.Store must satisfy. Backend
// packages call Run from their tests.
package locktest

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/enverbisevac/distlock/lock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// Harness describes a backend under test.
type Harness struct {
	// New returns a store with no entries.
	New func(t *testing.T) lock.Store

	// Advance moves the backend clock past d. Backends without a fake
	// clock sleep.
	Advance func(t *testing.T, d time.Duration)

	// TTL is the lease used by expiry tests. Defaults to one second.
	TTL time.Duration
}

func (h Harness) ttl() time.Duration {
	if h.TTL > 0 {
		return h.TTL
	}
	return time.Second
}

// Sleep is an Advance for backends driven by the wall clock.
func Sleep(_ *testing.T, d time.Duration) {
	time.Sleep(d + 50*time.Millisecond)
}

// Run executes the store conformance tests.
func Run(t *testing.T, h Harness) {
	t.Run("TrySetExclusive", func(t *testing.T) { testTrySetExclusive(t, h) })
	t.Run("CompareDeleteOwnerOnly", func(t *testing.T) { testCompareDelete(t, h) })
	t.Run("CompareExpireOwnerOnly", func(t *testing.T) { testCompareExpire(t, h) })
	t.Run("ExistsAndRemainingTTL", func(t *testing.T) { testExistsAndTTL(t, h) })
	t.Run("ExpiryFreesKey", func(t *testing.T) { testExpiry(t, h) })
	t.Run("ConcurrentTrySet", func(t *testing.T) { testConcurrentTrySet(t, h) })
	t.Run("ManagerReleaseThenAcquire", func(t *testing.T) { testManagerScenario(t, h) })
	t.Run("ManagerLivenessAfterCrash", func(t *testing.T) { testManagerLiveness(t, h) })
	t.Run("WithLockReleasesOnError", func(t *testing.T) { testWithLockError(t, h) })
}

func testTrySetExclusive(t *testing.T, h Harness) {
	s := h.New(t)
	ctx := context.Background()

	ok, err := s.TrySet(ctx, "k", "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.TrySet(ctx, "k", "b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second TrySet must fail while key is held")

	ok, err = s.TrySet(ctx, "other", "b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "different keys are independent")
}

func testCompareDelete(t *testing.T, h Harness) {
	s := h.New(t)
	ctx := context.Background()

	ok, err := s.CompareDelete(ctx, "k", "a")
	require.NoError(t, err)
	assert.False(t, ok, "deleting a missing key")

	_, err = s.TrySet(ctx, "k", "a", time.Minute)
	require.NoError(t, err)

	ok, err = s.CompareDelete(ctx, "k", "b")
	require.NoError(t, err)
	assert.False(t, ok, "foreign value must not delete")

	exists, err := s.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, exists, "entry must survive a foreign delete")

	ok, err = s.CompareDelete(ctx, "k", "a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.CompareDelete(ctx, "k", "a")
	require.NoError(t, err)
	assert.False(t, ok, "second delete is a no-op")
}

func testCompareExpire(t *testing.T, h Harness) {
	s := h.New(t)
	ctx := context.Background()

	ok, err := s.CompareExpire(ctx, "k", "a", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "renewing a missing key")

	_, err = s.TrySet(ctx, "k", "a", 10*time.Second)
	require.NoError(t, err)

	ok, err = s.CompareExpire(ctx, "k", "b", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok, "foreign value must not renew")

	ttl, _, err := s.RemainingTTL(ctx, "k")
	require.NoError(t, err)
	assert.LessOrEqual(t, ttl, 10*time.Second)

	ok, err = s.CompareExpire(ctx, "k", "a", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	ttl, found, err := s.RemainingTTL(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Greater(t, ttl, time.Minute)
}

func testExistsAndTTL(t *testing.T, h Harness) {
	s := h.New(t)
	ctx := context.Background()

	exists, err := s.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, exists)

	_, found, err := s.RemainingTTL(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)

	_, err = s.TrySet(ctx, "k", "a", time.Minute)
	require.NoError(t, err)

	exists, err = s.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, exists)

	ttl, found, err := s.RemainingTTL(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Minute)
}

func testExpiry(t *testing.T, h Harness) {
	s := h.New(t)
	ctx := context.Background()
	ttl := h.ttl()

	ok, err := s.TrySet(ctx, "k", "a", ttl)
	require.NoError(t, err)
	require.True(t, ok)

	h.Advance(t, ttl)

	exists, err := s.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, exists, "entry must expire after its ttl")

	ok, err = s.CompareExpire(ctx, "k", "a", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "expired entry must not be renewed")

	ok, err = s.TrySet(ctx, "k", "b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired key must be acquirable")
}

func testConcurrentTrySet(t *testing.T, h Harness) {
	s := h.New(t)
	ctx := context.Background()

	const callers = 32
	var wins atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	for i := range callers {
		g.Go(func() error {
			ok, err := s.TrySet(gctx, "race", string(rune('a'+i)), time.Minute)
			if ok {
				wins.Add(1)
			}
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), wins.Load(), "exactly one caller must win")
}

func testManagerScenario(t *testing.T, h Harness) {
	s := h.New(t)
	ctx := context.Background()
	m, err := lock.New(s)
	require.NoError(t, err)

	var (
		handles = make([]*lock.Handle, 2)
		g       errgroup.Group
	)
	for i := range handles {
		g.Go(func() error {
			handles[i] = m.TryAcquire(ctx, "job-42", 5*time.Second)
			return nil
		})
	}
	require.NoError(t, g.Wait())

	var winner *lock.Handle
	for _, hd := range handles {
		if hd != nil {
			require.Nil(t, winner, "two callers acquired the same key")
			winner = hd
		}
	}
	require.NotNil(t, winner)

	assert.True(t, m.Release(ctx, "job-42", winner.Value()))

	third := m.TryAcquire(ctx, "job-42", 5*time.Second)
	require.NotNil(t, third)
	assert.True(t, third.Release(ctx))
}

func testManagerLiveness(t *testing.T, h Harness) {
	s := h.New(t)
	ctx := context.Background()
	ttl := h.ttl()

	crashed, err := lock.New(s)
	require.NoError(t, err)
	other, err := lock.New(s)
	require.NoError(t, err)

	require.NotNil(t, crashed.TryAcquire(ctx, "k", ttl))
	require.Nil(t, other.TryAcquire(ctx, "k", ttl))

	h.Advance(t, ttl)

	hd := other.TryAcquire(ctx, "k", time.Minute)
	require.NotNil(t, hd, "lock must be free once the holder's lease expired")
	assert.True(t, hd.Release(ctx))
}

func testWithLockError(t *testing.T, h Harness) {
	s := h.New(t)
	ctx := context.Background()
	m, err := lock.New(s, lock.WithRetryInterval(5*time.Millisecond))
	require.NoError(t, err)

	boom := errors.New("boom")
	err = m.WithLock(ctx, "scoped", time.Minute, time.Second, func(context.Context) error {
		assert.True(t, m.Exists(ctx, "scoped"))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	hd := m.TryAcquire(ctx, "scoped", time.Minute)
	require.NotNil(t, hd, "lock must be released after the action failed")
	assert.True(t, hd.Release(ctx))
}
