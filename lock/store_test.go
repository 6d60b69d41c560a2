package lock_test

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/enverbisevac/distlock/lock"
	"github.com/enverbisevac/distlock/lock/inmem"
)

// spyStore counts backend calls and can inject failures and latency.
type spyStore struct {
	*inmem.Store

	trySets   atomic.Int32
	deletes   atomic.Int32
	expires   atomic.Int32
	failWith  atomic.Pointer[error]
	deleteErr atomic.Pointer[error]
	delay     time.Duration
}

func newSpyStore() *spyStore {
	return &spyStore{Store: inmem.New()}
}

// fail makes every call return err; nil restores the store.
func (s *spyStore) fail(err error) {
	s.setErr(&s.failWith, err)
}

// failDeletes makes only CompareDelete return err.
func (s *spyStore) failDeletes(err error) {
	s.setErr(&s.deleteErr, err)
}

func (s *spyStore) setErr(p *atomic.Pointer[error], err error) {
	if err == nil {
		p.Store(nil)
		return
	}
	p.Store(&err)
}

func (s *spyStore) err(p *atomic.Pointer[error]) error {
	if err := p.Load(); err != nil {
		return *err
	}
	return nil
}

func (s *spyStore) wait() {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
}

func (s *spyStore) TrySet(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.trySets.Add(1)
	s.wait()
	if err := s.err(&s.failWith); err != nil {
		return false, err
	}
	return s.Store.TrySet(ctx, key, value, ttl)
}

func (s *spyStore) CompareDelete(ctx context.Context, key, value string) (bool, error) {
	s.deletes.Add(1)
	s.wait()
	if err := s.err(&s.failWith); err != nil {
		return false, err
	}
	if err := s.err(&s.deleteErr); err != nil {
		return false, err
	}
	return s.Store.CompareDelete(ctx, key, value)
}

func (s *spyStore) CompareExpire(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.expires.Add(1)
	s.wait()
	if err := s.err(&s.failWith); err != nil {
		return false, err
	}
	return s.Store.CompareExpire(ctx, key, value, ttl)
}

var _ lock.Store = (*spyStore)(nil)
