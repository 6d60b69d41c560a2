package lock

import (
	"time"

	"github.com/enverbisevac/distlock/errors"
	"github.com/enverbisevac/distlock/pubsub"
	"github.com/enverbisevac/distlock/validator"
	"github.com/go-logr/logr"
)

// OwnerStrategy selects how the per-process owner identifier is built.
type OwnerStrategy string

const (
	OwnerRandom OwnerStrategy = "random"
	OwnerHost   OwnerStrategy = "host"
	OwnerCustom OwnerStrategy = "custom"
)

// Config holds the configuration for the lock manager.
type Config struct {
	// Enabled turns acquisition on. When false every acquisition attempt
	// reports the lock as unavailable.
	Enabled bool

	// DefaultExpiration is the lease used when no ttl is given.
	DefaultExpiration time.Duration

	// RetryInterval is the fixed delay between acquisition attempts.
	RetryInterval time.Duration

	// MaxRetryCount caps retries independent of the timeout. Zero means no cap.
	MaxRetryCount int

	// KeyPrefix namespaces every lock key in the backend.
	KeyPrefix string

	OwnerStrategy OwnerStrategy
	OwnerID       string

	// Monitoring logs operations slower than SlowThreshold.
	Monitoring    bool
	SlowThreshold time.Duration

	// AutoRenew keeps acquired handles alive in the background.
	// A zero AutoRenewInterval renews every third of the lease.
	AutoRenew         bool
	AutoRenewInterval time.Duration

	// Notifier announces releases so waiting Acquire calls retry at once
	// instead of at the next RetryInterval. Leases that simply expire are
	// not announced. Nil disables notifications.
	Notifier pubsub.PubSub

	// Logger is used when the context carries no logger.
	Logger logr.Logger
}

// DefaultConfig returns the configuration used by New before options apply.
func DefaultConfig() Config {
	return Config{
		Enabled:           true,
		DefaultExpiration: 30 * time.Second,
		RetryInterval:     100 * time.Millisecond,
		KeyPrefix:         "lock:",
		OwnerStrategy:     OwnerRandom,
		SlowThreshold:     500 * time.Millisecond,
		Logger:            logr.Discard(),
	}
}

// Validate checks the config for values the manager cannot work with.
func (c Config) Validate() error {
	v := new(validator.Validator)
	v.Check(validator.AtLeast(c.DefaultExpiration, time.Millisecond),
		errors.New("default expiration must be at least 1ms"))
	v.Check(validator.AtLeast(c.RetryInterval, time.Millisecond),
		errors.New("retry interval must be at least 1ms"))
	v.Check(validator.AtLeast(c.MaxRetryCount, 0),
		errors.New("max retry count must not be negative"))
	v.Check(validator.In(c.OwnerStrategy, OwnerRandom, OwnerHost, OwnerCustom),
		errors.New("owner strategy must be one of random, host, custom"))
	if c.OwnerStrategy == OwnerCustom {
		v.Check(validator.NotBlank(c.OwnerID),
			errors.New("owner id is required for the custom owner strategy"))
	}
	if c.Monitoring {
		v.Check(validator.AtLeast(c.SlowThreshold, time.Duration(1)),
			errors.New("slow threshold must be positive"))
	}
	v.Check(validator.AtLeast(c.AutoRenewInterval, 0),
		errors.New("auto renew interval must not be negative"))
	return v.Err("invalid lock config")
}

// Option configures a lock manager instance.
type Option interface {
	Apply(*Config)
}

// OptionFunc is a function that configures a lock config.
type OptionFunc func(*Config)

// Apply calls f(config).
func (f OptionFunc) Apply(config *Config) {
	f(config)
}

// WithConfig replaces the whole config. Options applied after it still win.
func WithConfig(value Config) Option {
	return OptionFunc(func(c *Config) {
		*c = value
	})
}

// WithEnabled returns an option that turns acquisition on or off.
func WithEnabled(value bool) Option {
	return OptionFunc(func(c *Config) {
		c.Enabled = value
	})
}

// WithDefaultExpiration returns an option that sets the default lease.
func WithDefaultExpiration(value time.Duration) Option {
	return OptionFunc(func(c *Config) {
		c.DefaultExpiration = value
	})
}

// WithRetryInterval returns an option that sets the delay between retries.
func WithRetryInterval(value time.Duration) Option {
	return OptionFunc(func(c *Config) {
		c.RetryInterval = value
	})
}

// WithMaxRetryCount returns an option that caps acquisition retries.
func WithMaxRetryCount(value int) Option {
	return OptionFunc(func(c *Config) {
		c.MaxRetryCount = value
	})
}

// WithKeyPrefix returns an option that sets the backend key namespace.
func WithKeyPrefix(value string) Option {
	return OptionFunc(func(c *Config) {
		c.KeyPrefix = value
	})
}

// WithOwnerStrategy returns an option that selects the owner id strategy.
func WithOwnerStrategy(value OwnerStrategy) Option {
	return OptionFunc(func(c *Config) {
		c.OwnerStrategy = value
	})
}

// WithOwnerID sets a fixed owner identifier and selects OwnerCustom.
func WithOwnerID(value string) Option {
	return OptionFunc(func(c *Config) {
		c.OwnerStrategy = OwnerCustom
		c.OwnerID = value
	})
}

// WithMonitoring logs every operation slower than threshold.
func WithMonitoring(threshold time.Duration) Option {
	return OptionFunc(func(c *Config) {
		c.Monitoring = true
		c.SlowThreshold = threshold
	})
}

// WithAutoRenew renews acquired handles in the background every interval.
// Zero interval renews every third of the lease.
func WithAutoRenew(interval time.Duration) Option {
	return OptionFunc(func(c *Config) {
		c.AutoRenew = true
		c.AutoRenewInterval = interval
	})
}

// WithLogger sets the fallback logger.
func WithLogger(value logr.Logger) Option {
	return OptionFunc(func(c *Config) {
		c.Logger = value
	})
}

// WithNotifier publishes releases on ps and lets waiting acquirers
// subscribe to them.
func WithNotifier(ps pubsub.PubSub) Option {
	return OptionFunc(func(c *Config) {
		c.Notifier = ps
	})
}
