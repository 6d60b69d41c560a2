package inmem

import (
	"context"
	"sync"
	"time"

	"github.com/enverbisevac/distlock/lock"
)

var (
	_ lock.Store = (*Store)(nil)
)

// Store implements lock.Store in process memory. Every operation runs
// under a single mutex, which makes the compare operations atomic.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

type entry struct {
	value    string
	deadline time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !e.deadline.IsZero() && !now.Before(e.deadline)
}

// New creates a new in-memory lock store.
func New() *Store {
	return &Store{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// getEntry returns the live entry for key, dropping it when expired.
// Callers must hold s.mu.
func (s *Store) getEntry(key string, now time.Time) *entry {
	e, ok := s.entries[key]
	if !ok {
		return nil
	}
	if e.expired(now) {
		delete(s.entries, key)
		return nil
	}
	return e
}

// TrySet creates key with value if it is absent or expired.
func (s *Store) TrySet(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.getEntry(key, now) != nil {
		return false, nil
	}
	s.entries[key] = &entry{
		value:    value,
		deadline: now.Add(ttl),
	}
	return true, nil
}

// CompareDelete removes key if it holds value.
func (s *Store) CompareDelete(ctx context.Context, key, value string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.getEntry(key, s.now())
	if e == nil || e.value != value {
		return false, nil
	}
	delete(s.entries, key)
	return true, nil
}

// CompareExpire resets the ttl of key if it holds value.
func (s *Store) CompareExpire(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e := s.getEntry(key, now)
	if e == nil || e.value != value {
		return false, nil
	}
	e.deadline = now.Add(ttl)
	return true, nil
}

// Exists reports whether key holds a live entry.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.getEntry(key, s.now()) != nil, nil
}

// RemainingTTL returns the time left on key.
func (s *Store) RemainingTTL(ctx context.Context, key string) (time.Duration, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e := s.getEntry(key, now)
	if e == nil || e.deadline.IsZero() {
		return 0, false, nil
	}
	return e.deadline.Sub(now), true, nil
}

// Purge drops every expired entry and returns how many were removed.
func (s *Store) Purge() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := 0
	for key, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, key)
			n++
		}
	}
	return n
}

// Len returns the number of entries, including expired ones not yet purged.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
