package pgx

// Config holds the configuration for the pgx lock store.
type Config struct {
	// TableName is the lease table, optionally schema qualified.
	TableName string
}

// Option configures a lock store instance.
type Option interface {
	Apply(*Config)
}

// OptionFunc is a function that configures a lock config.
type OptionFunc func(*Config)

// Apply calls f(config).
func (f OptionFunc) Apply(config *Config) {
	f(config)
}

// WithTableName returns an option that sets the lease table name.
func WithTableName(value string) Option {
	return OptionFunc(func(c *Config) {
		if value != "" {
			c.TableName = value
		}
	})
}
