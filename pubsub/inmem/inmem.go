// Package inmem is a process local pubsub.PubSub.
package inmem

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/enverbisevac/distlock/pubsub"
	"github.com/go-logr/logr"
)

var (
	ErrClosed = errors.New("pubsub: subscriber is closed")
)

var _ pubsub.PubSub = (*PubSub)(nil)

type PubSub struct {
	config   pubsub.Config
	mutex    sync.RWMutex
	registry []*inMemorySubscriber
}

// New create an instance of memory pubsub implementation.
func New(options ...pubsub.Option) *PubSub {
	return &PubSub{
		config:   pubsub.NewConfig(options...),
		registry: make([]*inMemorySubscriber, 0, 16),
	}
}

func (ps *PubSub) subscribe(topic string, options ...pubsub.SubscribeOption) *inMemorySubscriber {
	config := ps.config.Subscription(topic, options...)
	subscriber := &inMemorySubscriber{
		ps:      ps,
		config:  &config,
		channel: make(chan *pubsub.Msg, config.ChannelSize),
		topics:  config.Format(config.Topics...),
	}

	ps.mutex.Lock()
	ps.registry = append(ps.registry, subscriber)
	ps.mutex.Unlock()

	return subscriber
}

// Subscribe runs handler for every message published on topic until the
// consumer is closed or ctx is done.
func (ps *PubSub) Subscribe(
	ctx context.Context,
	topic string,
	handler func(payload *pubsub.Msg) error,
	options ...pubsub.SubscribeOption,
) pubsub.Consumer {
	subscriber := ps.subscribe(topic, options...)
	go subscriber.start(ctx, handler)
	return subscriber
}

func (ps *PubSub) SubscribeChan(
	_ context.Context,
	topic string,
	options ...pubsub.SubscribeOption,
) (pubsub.Consumer, <-chan *pubsub.Msg) {
	subscriber := ps.subscribe(topic, options...)
	return subscriber, subscriber.channel
}

// Publish delivers payload to every subscriber of topic. A subscriber whose
// buffer stays full for its send timeout misses the message.
func (ps *PubSub) Publish(ctx context.Context, topic string, payload []byte, opts ...pubsub.PublishOption) error {
	log := logr.FromContextOrDiscard(ctx)

	topic = ps.config.Topic(topic, opts...)

	ps.mutex.RLock()
	targets := make([]*inMemorySubscriber, 0, len(ps.registry))
	for _, sub := range ps.registry {
		if sub.matches(topic) {
			targets = append(targets, sub)
		}
	}
	ps.mutex.RUnlock()

	if len(targets) == 0 {
		log.V(1).Info("pubsub: no subscribers", "topic", topic)
		return nil
	}

	var wg sync.WaitGroup
	for _, sub := range targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !sub.deliver(ctx, &pubsub.Msg{Topic: topic, Payload: payload}) {
				log.V(1).Info("pubsub: message dropped", "topic", topic,
					"send_timeout", sub.config.SendTimeout)
			}
		}()
	}
	// Wait for all subscribers, otherwise ctx completion could cut some off.
	wg.Wait()

	return nil
}

// Close closes every registered subscriber.
func (ps *PubSub) Close(_ context.Context) error {
	ps.mutex.RLock()
	registry := slices.Clone(ps.registry)
	ps.mutex.RUnlock()

	for _, subscriber := range registry {
		if err := subscriber.Close(); err != nil {
			return err
		}
	}
	return nil
}

func (ps *PubSub) remove(s *inMemorySubscriber) {
	ps.mutex.Lock()
	defer ps.mutex.Unlock()
	ps.registry = slices.DeleteFunc(ps.registry, func(sub *inMemorySubscriber) bool {
		return sub == s
	})
}

type inMemorySubscriber struct {
	ps      *PubSub
	config  *pubsub.SubscribeConfig
	channel chan *pubsub.Msg
	mutex   sync.RWMutex
	topics  []string
	closed  bool
}

func (s *inMemorySubscriber) start(ctx context.Context, handler func(*pubsub.Msg) error) {
	log := logr.FromContextOrDiscard(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-s.channel:
			if !ok {
				return
			}
			if err := handler(msg); err != nil {
				log.Error(err, "pubsub: handler failed", "topic", msg.Topic)
			}
		}
	}
}

// deliver holds the read lock while sending so Close cannot close the
// channel under a pending send.
func (s *inMemorySubscriber) deliver(ctx context.Context, msg *pubsub.Msg) bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if s.closed {
		return false
	}

	if s.config.SendTimeout <= 0 {
		select {
		case s.channel <- msg:
			return true
		default:
			return false
		}
	}

	t := time.NewTimer(s.config.SendTimeout)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case s.channel <- msg:
		return true
	case <-t.C:
		return false
	}
}

func (s *inMemorySubscriber) matches(topic string) bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return !s.closed && slices.Contains(s.topics, topic)
}

func (s *inMemorySubscriber) Subscribe(_ context.Context, topics ...string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.closed {
		return ErrClosed
	}
	for _, topic := range s.config.Format(topics...) {
		if !slices.Contains(s.topics, topic) {
			s.topics = append(s.topics, topic)
		}
	}
	return nil
}

func (s *inMemorySubscriber) Unsubscribe(_ context.Context, topics ...string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.closed {
		return ErrClosed
	}
	remove := s.config.Format(topics...)
	s.topics = slices.DeleteFunc(s.topics, func(topic string) bool {
		return slices.Contains(remove, topic)
	})
	return nil
}

func (s *inMemorySubscriber) Close() error {
	s.mutex.Lock()
	if s.closed {
		s.mutex.Unlock()
		return nil
	}
	s.closed = true
	close(s.channel)
	s.mutex.Unlock()

	s.ps.remove(s)
	return nil
}
