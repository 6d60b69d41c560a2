package pubsub

import "time"

const (
	DefaultAppName   = "distlock"
	DefaultNamespace = "default"

	DefaultHealthInterval = 3 * time.Second
	DefaultSendTimeout    = 10 * time.Second
	DefaultChannelSize    = 100
)

// Config is shared by every backend. App and Namespace prefix each topic,
// the rest are defaults for new subscriptions.
type Config struct {
	App       string
	Namespace string

	// HealthInterval is used by backends that ping an idle connection.
	HealthInterval time.Duration
	SendTimeout    time.Duration
	ChannelSize    int
}

// DefaultConfig returns the configuration backends start from.
func DefaultConfig() Config {
	return Config{
		App:            DefaultAppName,
		Namespace:      DefaultNamespace,
		HealthInterval: DefaultHealthInterval,
		SendTimeout:    DefaultSendTimeout,
		ChannelSize:    DefaultChannelSize,
	}
}

// NewConfig applies options on top of DefaultConfig.
func NewConfig(options ...Option) Config {
	config := DefaultConfig()
	for _, f := range options {
		f.Apply(&config)
	}
	return config
}

// subscribeConfig seeds a subscription from c.
func (c Config) subscribeConfig(options ...SubscribeOption) SubscribeConfig {
	config := SubscribeConfig{
		Topics:         make([]string, 0, 8),
		App:            c.App,
		Namespace:      c.Namespace,
		HealthInterval: c.HealthInterval,
		SendTimeout:    c.SendTimeout,
		ChannelSize:    c.ChannelSize,
	}
	for _, f := range options {
		f.Apply(&config)
	}
	return config
}

// Subscription builds the config of a subscription to topic.
func (c Config) Subscription(topic string, options ...SubscribeOption) SubscribeConfig {
	config := c.subscribeConfig(options...)
	config.Topics = append(config.Topics, topic)
	return config
}

// Topic formats topic for publishing with c's app and namespace unless
// options override them.
func (c Config) Topic(topic string, options ...PublishOption) string {
	config := PublishConfig{
		App:       c.App,
		Namespace: c.Namespace,
	}
	for _, f := range options {
		f.Apply(&config)
	}
	return FormatTopic(config.App, config.Namespace, topic)
}

// An Option configures a pubsub instance.
type Option interface {
	Apply(*Config)
}

// OptionFunc is a function that configures a pubsub config.
type OptionFunc func(*Config)

// Apply calls f(config).
func (f OptionFunc) Apply(config *Config) {
	f(config)
}

// WithApp sets the app prefix of every topic. Empty values are ignored.
func WithApp(value string) Option {
	return OptionFunc(func(c *Config) {
		if value != "" {
			c.App = value
		}
	})
}

// WithNamespace sets the namespace of every topic. Empty values are ignored.
func WithNamespace(value string) Option {
	return OptionFunc(func(c *Config) {
		if value != "" {
			c.Namespace = value
		}
	})
}

// WithHealthCheckInterval sets how often an idle subscription pings the
// server. Zero disables health checks.
func WithHealthCheckInterval(value time.Duration) Option {
	return OptionFunc(func(c *Config) {
		c.HealthInterval = value
	})
}

// WithSendTimeout sets how long delivery waits on a full subscriber buffer
// before the message is dropped.
func WithSendTimeout(value time.Duration) Option {
	return OptionFunc(func(c *Config) {
		c.SendTimeout = value
	})
}

// WithSize sets the subscriber buffer size.
func WithSize(value int) Option {
	return OptionFunc(func(c *Config) {
		c.ChannelSize = value
	})
}
