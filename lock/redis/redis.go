package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/enverbisevac/distlock/lock"
	"github.com/redis/go-redis/v9"
)

var (
	DefaultOperationTimeout = 5 * time.Second
)

var (
	_ lock.Store = (*Store)(nil)
)

var compareDeleteScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
else
    return 0
end
`)

var compareExpireScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
    return 0
end
`)

// Store implements lock.Store on redis. Acquisition is a single SET NX PX;
// compare operations run as Lua scripts so the check and the mutation are
// one atomic step on the server.
type Store struct {
	config Config
	client redis.UniversalClient
}

// New creates a lock store on client.
func New(client redis.UniversalClient, options ...Option) *Store {
	config := Config{
		OperationTimeout: DefaultOperationTimeout,
	}
	for _, opt := range options {
		opt.Apply(&config)
	}
	return &Store{
		config: config,
		client: client,
	}
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || s.config.OperationTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.config.OperationTimeout)
}

// TrySet creates key with value and ttl if key does not exist.
func (s *Store) TrySet(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: set %s: %w", key, err)
	}
	return ok, nil
}

// CompareDelete deletes key if it holds value.
func (s *Store) CompareDelete(ctx context.Context, key, value string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	n, err := compareDeleteScript.Run(ctx, s.client, []string{key}, value).Int64()
	if err != nil {
		return false, fmt.Errorf("redis: compare delete %s: %w", key, err)
	}
	return n == 1, nil
}

// CompareExpire sets a new ttl on key if it holds value.
func (s *Store) CompareExpire(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	n, err := compareExpireScript.Run(ctx, s.client, []string{key}, value, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("redis: compare expire %s: %w", key, err)
	}
	return n == 1, nil
}

// Exists reports whether key is set.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis: exists %s: %w", key, err)
	}
	return n == 1, nil
}

// RemainingTTL returns the time left on key.
func (s *Store) RemainingTTL(ctx context.Context, key string) (time.Duration, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	ttl, err := s.client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, false, fmt.Errorf("redis: pttl %s: %w", key, err)
	}
	// PTTL reports -2 for missing keys and -1 for keys without expiry.
	if ttl < 0 {
		return 0, false, nil
	}
	return ttl, true, nil
}
