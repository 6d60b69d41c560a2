// Package redis is a pubsub.PubSub on Redis PUBLISH and SUBSCRIBE.
package redis

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/enverbisevac/distlock/pubsub"
	"github.com/go-logr/logr"
	"github.com/redis/go-redis/v9"
)

var _ pubsub.PubSub = (*PubSub)(nil)

type PubSub struct {
	config   pubsub.Config
	client   redis.UniversalClient
	mutex    sync.Mutex
	registry []*redisSubscriber
}

// New create an instance of redis PubSub implementation.
func New(client redis.UniversalClient, options ...pubsub.Option) *PubSub {
	return &PubSub{
		config:   pubsub.NewConfig(options...),
		client:   client,
		registry: make([]*redisSubscriber, 0, 16),
	}
}

func (ps *PubSub) subscribe(
	ctx context.Context,
	topic string,
	options ...pubsub.SubscribeOption,
) *redisSubscriber {
	config := ps.config.Subscription(topic, options...)
	subscriber := &redisSubscriber{
		ps:     ps,
		config: &config,
		rdb:    ps.client.Subscribe(ctx, config.Format(config.Topics...)...),
	}

	ps.mutex.Lock()
	ps.registry = append(ps.registry, subscriber)
	ps.mutex.Unlock()

	return subscriber
}

func (s *redisSubscriber) channel() <-chan *redis.Message {
	opts := []redis.ChannelOption{
		redis.WithChannelHealthCheckInterval(s.config.HealthInterval),
		redis.WithChannelSize(max(s.config.ChannelSize, 1)),
	}
	if s.config.SendTimeout > 0 {
		opts = append(opts, redis.WithChannelSendTimeout(s.config.SendTimeout))
	}
	return s.rdb.Channel(opts...)
}

// Subscribe consumer to process the event with payload.
func (ps *PubSub) Subscribe(
	ctx context.Context,
	topic string,
	handler func(msg *pubsub.Msg) error,
	options ...pubsub.SubscribeOption,
) pubsub.Consumer {
	subscriber := ps.subscribe(ctx, topic, options...)
	go subscriber.start(ctx, handler)
	return subscriber
}

// SubscribeChan forwards messages until the consumer is closed, which also
// closes the returned channel.
func (ps *PubSub) SubscribeChan(
	ctx context.Context,
	topic string,
	options ...pubsub.SubscribeOption,
) (pubsub.Consumer, <-chan *pubsub.Msg) {
	subscriber := ps.subscribe(ctx, topic, options...)
	output := make(chan *pubsub.Msg, subscriber.config.ChannelSize)

	go func() {
		defer close(output)
		for msg := range subscriber.channel() {
			select {
			case output <- &pubsub.Msg{Topic: msg.Channel, Payload: []byte(msg.Payload)}:
			default:
				logr.FromContextOrDiscard(ctx).V(1).Info("pubsub: message dropped", "topic", msg.Channel)
			}
		}
	}()

	return subscriber, output
}

// Publish event topic to message broker with payload.
func (ps *PubSub) Publish(ctx context.Context, topic string, payload []byte, opts ...pubsub.PublishOption) error {
	topic = ps.config.Topic(topic, opts...)

	err := ps.client.Publish(ctx, topic, payload).Err()
	if err != nil {
		return fmt.Errorf("failed to write to pubsub topic '%s'. Error: %w",
			topic, err)
	}
	return nil
}

// Close closes every registered subscriber.
func (ps *PubSub) Close(_ context.Context) error {
	ps.mutex.Lock()
	registry := slices.Clone(ps.registry)
	ps.mutex.Unlock()

	for _, subscriber := range registry {
		if err := subscriber.Close(); err != nil {
			return err
		}
	}
	return nil
}

func (ps *PubSub) remove(s *redisSubscriber) {
	ps.mutex.Lock()
	defer ps.mutex.Unlock()
	ps.registry = slices.DeleteFunc(ps.registry, func(sub *redisSubscriber) bool {
		return sub == s
	})
}

type redisSubscriber struct {
	ps     *PubSub
	config *pubsub.SubscribeConfig
	rdb    *redis.PubSub
	once   sync.Once
}

func (s *redisSubscriber) start(ctx context.Context, handler func(msg *pubsub.Msg) error) {
	log := logr.FromContextOrDiscard(ctx)
	ch := s.channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				log.V(1).Info("pubsub: redis channel closed")
				return
			}
			if err := handler(&pubsub.Msg{
				Topic:   msg.Channel,
				Payload: []byte(msg.Payload),
			}); err != nil {
				log.Error(err, "pubsub: handler failed", "topic", msg.Channel)
			}
		}
	}
}

func (s *redisSubscriber) Subscribe(ctx context.Context, topics ...string) error {
	err := s.rdb.Subscribe(ctx, s.config.Format(topics...)...)
	if err != nil {
		return fmt.Errorf("subscribe failed for chanels %v with error: %w",
			strings.Join(topics, ","), err)
	}
	return nil
}

func (s *redisSubscriber) Unsubscribe(ctx context.Context, topics ...string) error {
	err := s.rdb.Unsubscribe(ctx, s.config.Format(topics...)...)
	if err != nil {
		return fmt.Errorf("unsubscribe failed for chanels %v with error: %w",
			strings.Join(topics, ","), err)
	}
	return nil
}

func (s *redisSubscriber) Close() error {
	var err error
	s.once.Do(func() {
		s.ps.remove(s)
		if cerr := s.rdb.Close(); cerr != nil {
			err = fmt.Errorf("failed while closing subscriber with error: %w", cerr)
		}
	})
	return err
}
