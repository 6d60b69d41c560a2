// Package pubsub is a small topic based message bus. The lock manager uses
// it to announce releases so that waiting acquirers retry immediately.
package pubsub

import "context"

type Msg struct {
	Topic   string
	Payload []byte
}

type Publisher interface {
	// Publish topic to message broker with payload.
	Publish(ctx context.Context, topic string, payload []byte,
		options ...PublishOption) error
}

type Consumer interface {
	Subscribe(ctx context.Context, topics ...string) error
	Unsubscribe(ctx context.Context, topics ...string) error
	Close() error
}

type Subscriber interface {
	Subscribe(ctx context.Context, topic string,
		handler func(payload *Msg) error, options ...SubscribeOption) Consumer
	// SubscribeChan delivers messages on the returned channel until the
	// consumer is closed. The consumer is nil when the subscription failed.
	SubscribeChan(ctx context.Context, topic string,
		options ...SubscribeOption) (Consumer, <-chan *Msg)
}

// PubSub is a complete message bus.
type PubSub interface {
	Publisher
	Subscriber
}
