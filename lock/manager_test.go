package lock_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/enverbisevac/distlock/lock"
	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func newManager(t *testing.T, store lock.Store, options ...lock.Option) *lock.Manager {
	t.Helper()

	options = append([]lock.Option{lock.WithRetryInterval(10 * time.Millisecond)}, options...)
	m, err := lock.New(store, options...)
	require.NoError(t, err)
	return m
}

func TestTryAcquireMutualExclusion(t *testing.T) {
	m := newManager(t, newSpyStore())
	ctx := context.Background()

	const callers = 50
	var (
		wins atomic.Int32
		g    errgroup.Group
	)
	for range callers {
		g.Go(func() error {
			if h := m.TryAcquire(ctx, "job-42", 5*time.Second); h != nil {
				wins.Add(1)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), wins.Load())
}

func TestTryAcquireHandle(t *testing.T) {
	m := newManager(t, newSpyStore(), lock.WithOwnerID("worker-1"))
	ctx := context.Background()

	before := time.Now()
	h := m.TryAcquire(ctx, "job-42", 5*time.Second)
	require.NotNil(t, h)

	assert.Equal(t, "job-42", h.Key())
	assert.True(t, strings.HasPrefix(h.Value(), "worker-1:"), h.Value())
	assert.True(t, h.IsValid())
	assert.WithinDuration(t, before.Add(5*time.Second), h.ExpiresAt(), time.Second)
}

func TestTryAcquireDefaultExpiration(t *testing.T) {
	s := newSpyStore()
	m := newManager(t, s, lock.WithDefaultExpiration(time.Minute))
	ctx := context.Background()

	h := m.TryAcquireDefault(ctx, "k")
	require.NotNil(t, h)

	ttl, ok := m.RemainingTTL(ctx, "k")
	require.True(t, ok)
	assert.Greater(t, ttl, 50*time.Second)
}

func TestAcquireTimeoutBound(t *testing.T) {
	m := newManager(t, newSpyStore(), lock.WithRetryInterval(20*time.Millisecond))
	ctx := context.Background()

	require.NotNil(t, m.TryAcquire(ctx, "held", time.Minute))

	start := time.Now()
	h, err := m.Acquire(ctx, "held", time.Second, 100*time.Millisecond)
	elapsed := time.Since(start)

	assert.Nil(t, h)
	require.Error(t, err)
	assert.True(t, lock.IsTimeout(err))

	var terr *lock.TimeoutError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, "held", terr.Key)
	assert.Greater(t, terr.Retries, 0)
	assert.GreaterOrEqual(t, terr.Elapsed, 100*time.Millisecond)
	assert.Less(t, elapsed, 100*time.Millisecond+20*time.Millisecond+100*time.Millisecond)
}

func TestAcquireMaxRetryCount(t *testing.T) {
	s := newSpyStore()
	m := newManager(t, s, lock.WithMaxRetryCount(3), lock.WithRetryInterval(time.Millisecond))
	ctx := context.Background()

	require.NotNil(t, m.TryAcquire(ctx, "held", time.Minute))
	s.trySets.Store(0)

	_, err := m.Acquire(ctx, "held", time.Second, time.Minute)

	var terr *lock.TimeoutError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, 3, terr.Retries)
	assert.Equal(t, int32(4), s.trySets.Load())
}

func TestAcquireCancelled(t *testing.T) {
	m := newManager(t, newSpyStore(), lock.WithRetryInterval(time.Second))
	require.NotNil(t, m.TryAcquire(context.Background(), "held", time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	start := time.Now()
	_, err := m.Acquire(ctx, "held", time.Second, time.Minute)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 500*time.Millisecond, "cancellation must cut the retry wait short")
}

func TestAcquireAfterRelease(t *testing.T) {
	m := newManager(t, newSpyStore())
	ctx := context.Background()

	first := m.TryAcquire(ctx, "k", time.Minute)
	require.NotNil(t, first)
	time.AfterFunc(50*time.Millisecond, func() {
		first.Release(context.Background())
	})

	h, err := m.Acquire(ctx, "k", time.Minute, 2*time.Second)
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.NotEqual(t, first.Value(), h.Value())
}

func TestDisabled(t *testing.T) {
	s := newSpyStore()
	m := newManager(t, s, lock.WithEnabled(false))
	ctx := context.Background()

	assert.Nil(t, m.TryAcquire(ctx, "k", time.Second))
	assert.Equal(t, int32(0), s.trySets.Load(), "disabled manager must not reach the store")

	start := time.Now()
	_, err := m.Acquire(ctx, "k", time.Second, time.Minute)
	assert.True(t, lock.IsTimeout(err))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestReleaseOwnerOnly(t *testing.T) {
	m := newManager(t, newSpyStore())
	ctx := context.Background()

	h := m.TryAcquire(ctx, "k", time.Minute)
	require.NotNil(t, h)

	assert.False(t, m.Release(ctx, "k", "someone-else"))
	assert.True(t, m.Exists(ctx, "k"), "foreign release must leave the entry")

	assert.True(t, m.Release(ctx, "k", h.Value()))
	assert.False(t, m.Release(ctx, "k", h.Value()), "second release is a no-op")
	assert.False(t, m.Exists(ctx, "k"))
}

func TestRenewOwnerOnly(t *testing.T) {
	m := newManager(t, newSpyStore())
	ctx := context.Background()

	h := m.TryAcquire(ctx, "k", time.Second)
	require.NotNil(t, h)

	assert.False(t, m.Renew(ctx, "k", "someone-else", time.Hour))
	ttl, _ := m.RemainingTTL(ctx, "k")
	assert.LessOrEqual(t, ttl, time.Second)

	assert.True(t, m.Renew(ctx, "k", h.Value(), time.Hour))
	ttl, _ = m.RemainingTTL(ctx, "k")
	assert.Greater(t, ttl, time.Minute)
}

func TestBackendFailureFoldsToContention(t *testing.T) {
	s := newSpyStore()
	s.fail(errors.New("connection refused"))
	m := newManager(t, s, lock.WithMaxRetryCount(1))
	ctx := context.Background()

	assert.Nil(t, m.TryAcquire(ctx, "k", time.Second))
	assert.False(t, m.Release(ctx, "k", "v"))
	assert.False(t, m.Renew(ctx, "k", "v", time.Second))

	_, err := m.Acquire(ctx, "k", time.Second, time.Second)
	assert.True(t, lock.IsTimeout(err))
}

func TestExecuteWithLock(t *testing.T) {
	m := newManager(t, newSpyStore())
	ctx := context.Background()

	got, err := lock.ExecuteWithLock(ctx, m, "k", time.Minute, time.Second, func(ctx context.Context) (int, error) {
		assert.True(t, m.Exists(ctx, "k"))
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.False(t, m.Exists(ctx, "k"))
}

func TestExecuteWithLockPanicReleases(t *testing.T) {
	m := newManager(t, newSpyStore())
	ctx := context.Background()

	assert.Panics(t, func() {
		_ = m.WithLock(ctx, "k", time.Minute, time.Second, func(context.Context) error {
			panic("boom")
		})
	})

	h := m.TryAcquire(ctx, "k", time.Minute)
	assert.NotNil(t, h, "lock must be released after a panic")
}

func TestExecuteWithLockCancelledReleases(t *testing.T) {
	m := newManager(t, newSpyStore())
	ctx, cancel := context.WithCancel(context.Background())

	err := m.WithLock(ctx, "k", time.Minute, time.Second, func(ctx context.Context) error {
		cancel()
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, m.Exists(context.Background(), "k"), "release must not depend on the cancelled context")
}

func TestWithLockTimeout(t *testing.T) {
	m := newManager(t, newSpyStore())
	ctx := context.Background()

	require.NotNil(t, m.TryAcquire(ctx, "k", time.Minute))

	called := false
	err := m.WithLock(ctx, "k", time.Minute, 50*time.Millisecond, func(context.Context) error {
		called = true
		return nil
	})
	assert.True(t, lock.IsTimeout(err))
	assert.False(t, called)
}

func TestWithLockSerializes(t *testing.T) {
	m := newManager(t, newSpyStore(), lock.WithRetryInterval(time.Millisecond))
	ctx := context.Background()

	var (
		active, peak atomic.Int32
		g            errgroup.Group
	)
	for range 10 {
		g.Go(func() error {
			return m.WithLock(ctx, "counter", time.Minute, 5*time.Second, func(context.Context) error {
				n := active.Add(1)
				if n > peak.Load() {
					peak.Store(n)
				}
				time.Sleep(2 * time.Millisecond)
				active.Add(-1)
				return nil
			})
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), peak.Load())
}

func TestSlowOperationLogged(t *testing.T) {
	var (
		mu    sync.Mutex
		lines []string
	)
	log := funcr.New(func(prefix, args string) {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, args)
	}, funcr.Options{})

	s := newSpyStore()
	s.delay = 5 * time.Millisecond
	m := newManager(t, s, lock.WithMonitoring(time.Millisecond))
	ctx := logr.NewContext(context.Background(), log)

	require.NotNil(t, m.TryAcquire(ctx, "k", time.Minute))

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, lines)
	assert.Contains(t, lines[0], "slow lock operation")
	assert.Contains(t, lines[0], `"key"="k"`)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	lock.RegisterMetrics(reg)

	m := newManager(t, newSpyStore())
	ctx := context.Background()

	before := testutil.ToFloat64(lock.AcquireTotal.WithLabelValues("contended"))
	require.NotNil(t, m.TryAcquire(ctx, "k", time.Minute))
	require.Nil(t, m.TryAcquire(ctx, "k", time.Minute))

	assert.Equal(t, before+1, testutil.ToFloat64(lock.AcquireTotal.WithLabelValues("contended")))

	mfs, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, mfs)
}
