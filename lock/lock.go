// Package lock implements leased mutual exclusion on top of a shared
// key-value store. Ownership of a lock is proven only by the random value
// written on acquisition; release and renewal are compare-and-act
// operations executed atomically by the store.
package lock

import (
	"context"
	"time"
)

// Locker represents a distributed lock that can be acquired and released.
type Locker interface {
	// Lock acquires the lock, blocking until it's available or context is cancelled.
	Lock(ctx context.Context) error

	// TryLock attempts to acquire the lock without blocking.
	// Returns true if the lock was acquired, false otherwise.
	TryLock(ctx context.Context) (bool, error)

	// Unlock releases the lock.
	Unlock(ctx context.Context) error
}

// Service provides methods to create distributed locks.
type Service interface {
	// NewLock creates a new lock with the given key.
	NewLock(key string) Locker
}

// Store is the backend contract. Every mutating method must be a single
// atomic operation on the backend with respect to concurrent callers on
// the same key.
type Store interface {
	// TrySet creates key=value with ttl only if key does not exist.
	TrySet(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// CompareDelete deletes key only if it currently holds value.
	CompareDelete(ctx context.Context, key, value string) (bool, error)

	// CompareExpire resets the ttl of key only if it currently holds value.
	CompareExpire(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Exists reports whether key is currently set.
	Exists(ctx context.Context, key string) (bool, error)

	// RemainingTTL returns the time left before key expires. The boolean is
	// false when the key does not exist or has no expiry.
	RemainingTTL(ctx context.Context, key string) (time.Duration, bool, error)
}
