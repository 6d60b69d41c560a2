package pgx

import "fmt"

// CreateTableSQL returns the DDL for creating the lease table.
func CreateTableSQL(tableName string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_%s_expires_at ON %s (expires_at);`,
		quote(tableName), indexName(tableName), quote(tableName))
}
