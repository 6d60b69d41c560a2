package pubsub

import "time"

// PublishConfig selects the topic prefix of a single publish.
type PublishConfig struct {
	App       string
	Namespace string
}

type PublishOption interface {
	Apply(*PublishConfig)
}

// PublishOptionFunc is a function that configures a publish config.
type PublishOptionFunc func(*PublishConfig)

// Apply calls f(publishConfig).
func (f PublishOptionFunc) Apply(config *PublishConfig) {
	f(config)
}

// WithPublishApp publishes under another app prefix.
func WithPublishApp(value string) PublishOption {
	return PublishOptionFunc(func(c *PublishConfig) {
		c.App = value
	})
}

// WithPublishNamespace publishes under another namespace.
func WithPublishNamespace(value string) PublishOption {
	return PublishOptionFunc(func(c *PublishConfig) {
		c.Namespace = value
	})
}

// SubscribeConfig holds the settings of one subscription.
type SubscribeConfig struct {
	Topics         []string
	App            string
	Namespace      string
	HealthInterval time.Duration
	SendTimeout    time.Duration
	ChannelSize    int
}

// Format prefixes topics with the subscription's app and namespace.
func (c *SubscribeConfig) Format(topics ...string) []string {
	result := make([]string, len(topics))
	for i, topic := range topics {
		result[i] = FormatTopic(c.App, c.Namespace, topic)
	}
	return result
}

// SubscribeOption configures a subscription config.
type SubscribeOption interface {
	Apply(*SubscribeConfig)
}

// SubscribeOptionFunc is a function that configures a subscription config.
type SubscribeOptionFunc func(*SubscribeConfig)

// Apply calls f(subscribeConfig).
func (f SubscribeOptionFunc) Apply(config *SubscribeConfig) {
	f(config)
}

// WithTopics subscribes to additional topics.
func WithTopics(topics ...string) SubscribeOption {
	return SubscribeOptionFunc(func(c *SubscribeConfig) {
		c.Topics = append(c.Topics, topics...)
	})
}

// WithChannelNamespace overrides the namespace of a subscription.
func WithChannelNamespace(value string) SubscribeOption {
	return SubscribeOptionFunc(func(c *SubscribeConfig) {
		if value != "" {
			c.Namespace = value
		}
	})
}

// WithChannelHealthCheckInterval overrides the health check interval of a
// subscription.
func WithChannelHealthCheckInterval(value time.Duration) SubscribeOption {
	return SubscribeOptionFunc(func(c *SubscribeConfig) {
		c.HealthInterval = value
	})
}

// WithChannelSendTimeout specifies the channel send timeout after which
// the message is dropped. Zero drops it at once when the buffer is full.
func WithChannelSendTimeout(value time.Duration) SubscribeOption {
	return SubscribeOptionFunc(func(c *SubscribeConfig) {
		c.SendTimeout = value
	})
}

// WithChannelSize sets the buffer of a subscription.
func WithChannelSize(value int) SubscribeOption {
	return SubscribeOptionFunc(func(c *SubscribeConfig) {
		c.ChannelSize = value
	})
}

// FormatTopic joins app, namespace and topic into the wire topic name.
func FormatTopic(app, ns, topic string) string {
	return app + ":" + ns + ":" + topic
}
