package pgx

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/enverbisevac/distlock/lock"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	_ lock.Store = (*Store)(nil)
)

// DB is the subset of pgxpool.Pool, pgx.Conn and pgx.Tx used by the store.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements lock.Store on a PostgreSQL lease table. Each operation
// is one statement; row locking on the primary key makes the compare
// operations atomic and expiry is judged by the server clock.
type Store struct {
	config Config
	db     DB

	trySetSQL        string
	compareDeleteSQL string
	compareExpireSQL string
	existsSQL        string
	ttlSQL           string
	purgeSQL         string
}

// New creates a lock store on db. The lease table must exist, see Migrate.
func New(db DB, options ...Option) *Store {
	config := Config{
		TableName: "distlock_leases",
	}
	for _, opt := range options {
		opt.Apply(&config)
	}

	table := quote(config.TableName)
	return &Store{
		config: config,
		db:     db,
		trySetSQL: fmt.Sprintf(`INSERT INTO %s AS l (key, value, expires_at)
VALUES ($1, $2, now() + $3::bigint * interval '1 millisecond')
ON CONFLICT (key) DO UPDATE
	SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at
	WHERE l.expires_at <= now()`, table),
		compareDeleteSQL: fmt.Sprintf(`DELETE FROM %s
WHERE key = $1 AND value = $2 AND expires_at > now()`, table),
		compareExpireSQL: fmt.Sprintf(`UPDATE %s
SET expires_at = now() + $3::bigint * interval '1 millisecond'
WHERE key = $1 AND value = $2 AND expires_at > now()`, table),
		existsSQL: fmt.Sprintf(`SELECT EXISTS (
	SELECT 1 FROM %s WHERE key = $1 AND expires_at > now()
)`, table),
		ttlSQL: fmt.Sprintf(`SELECT (extract(epoch FROM expires_at - now()) * 1000)::bigint
FROM %s WHERE key = $1 AND expires_at > now()`, table),
		purgeSQL: fmt.Sprintf(`DELETE FROM %s WHERE expires_at <= now()`, table),
	}
}

// Migrate creates the lease table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, CreateTableSQL(s.config.TableName)); err != nil {
		return fmt.Errorf("pgx: create lease table: %w", err)
	}
	return nil
}

// TrySet inserts key or takes over an expired row.
func (s *Store) TrySet(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	tag, err := s.db.Exec(ctx, s.trySetSQL, key, value, ttl.Milliseconds())
	if err != nil {
		return false, fmt.Errorf("pgx: set %s: %w", key, err)
	}
	return tag.RowsAffected() == 1, nil
}

// CompareDelete deletes key if it holds value and has not expired.
func (s *Store) CompareDelete(ctx context.Context, key, value string) (bool, error) {
	tag, err := s.db.Exec(ctx, s.compareDeleteSQL, key, value)
	if err != nil {
		return false, fmt.Errorf("pgx: compare delete %s: %w", key, err)
	}
	return tag.RowsAffected() == 1, nil
}

// CompareExpire moves the expiry of key if it holds value and has not expired.
func (s *Store) CompareExpire(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	tag, err := s.db.Exec(ctx, s.compareExpireSQL, key, value, ttl.Milliseconds())
	if err != nil {
		return false, fmt.Errorf("pgx: compare expire %s: %w", key, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Exists reports whether key holds a live lease.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	var exists bool
	if err := s.db.QueryRow(ctx, s.existsSQL, key).Scan(&exists); err != nil {
		return false, fmt.Errorf("pgx: exists %s: %w", key, err)
	}
	return exists, nil
}

// RemainingTTL returns the time left on key.
func (s *Store) RemainingTTL(ctx context.Context, key string) (time.Duration, bool, error) {
	var ms int64
	err := s.db.QueryRow(ctx, s.ttlSQL, key).Scan(&ms)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("pgx: remaining ttl %s: %w", key, err)
	}
	return time.Duration(ms) * time.Millisecond, true, nil
}

// Purge deletes expired rows and returns how many were removed. Expired
// rows never block acquisition, purging only keeps the table small.
func (s *Store) Purge(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx, s.purgeSQL)
	if err != nil {
		return 0, fmt.Errorf("pgx: purge: %w", err)
	}
	return tag.RowsAffected(), nil
}

// quote sanitizes a possibly schema qualified table name.
func quote(name string) string {
	return pgx.Identifier(strings.Split(name, ".")).Sanitize()
}

func indexName(name string) string {
	return strings.NewReplacer(".", "_", `"`, "").Replace(name)
}
