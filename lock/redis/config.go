package redis

import "time"

// Config holds the configuration for the redis lock store.
type Config struct {
	// OperationTimeout bounds every round trip when the caller's context
	// has no deadline. Zero disables it.
	OperationTimeout time.Duration
}

// An Option configures a redis lock store.
type Option interface {
	Apply(*Config)
}

// OptionFunc is a function that configures a store config.
type OptionFunc func(*Config)

// Apply calls f(config).
func (f OptionFunc) Apply(config *Config) {
	f(config)
}

// WithOperationTimeout returns an option that bounds each redis call.
func WithOperationTimeout(value time.Duration) Option {
	return OptionFunc(func(c *Config) {
		c.OperationTimeout = value
	})
}
