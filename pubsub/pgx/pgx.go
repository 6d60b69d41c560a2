// Package pgx is a pubsub.PubSub on PostgreSQL LISTEN and NOTIFY.
package pgx

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/enverbisevac/distlock/pubsub"
	"github.com/go-logr/logr"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// maxChannelLen is the identifier limit of PostgreSQL (NAMEDATALEN - 1).
const maxChannelLen = 63

var (
	ErrClosed = errors.New("pubsub: closed")
)

var _ pubsub.PubSub = (*PubSub)(nil)

type command struct {
	sql      string
	resultCh chan error
}

// PubSub listens on one connection taken out of the pool and publishes
// with pg_notify on any pooled connection.
type PubSub struct {
	config pubsub.Config
	pool   *pgxpool.Pool
	conn   *pgx.Conn

	mutex       sync.RWMutex
	subscribers []*pgxSubscriber
	listening   map[string]int

	// listener management
	startOnce   sync.Once
	cmdChan     chan command
	cancelWait  context.CancelFunc
	listenerCtx context.Context
	cancel      context.CancelFunc
	done        chan struct{}
}

// New takes a dedicated listener connection out of pool.
func New(
	ctx context.Context,
	pool *pgxpool.Pool,
	options ...pubsub.Option,
) (*PubSub, error) {
	poolConn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listener connection: %w", err)
	}

	return &PubSub{
		config:    pubsub.NewConfig(options...),
		pool:      pool,
		conn:      poolConn.Hijack(),
		listening: make(map[string]int),
		cmdChan:   make(chan command, 16),
	}, nil
}

// channelName maps a topic to a valid LISTEN channel. Topics longer than
// the identifier limit are replaced by their hash.
func channelName(topic string) string {
	if len(topic) <= maxChannelLen {
		return topic
	}
	sum := sha256.Sum256([]byte(topic))
	return "t_" + hex.EncodeToString(sum[:])[:maxChannelLen-2]
}

func (ps *PubSub) Close(ctx context.Context) error {
	if ps.cancel != nil {
		ps.cancel()
		<-ps.done
	}

	ps.mutex.RLock()
	subscribers := slices.Clone(ps.subscribers)
	ps.mutex.RUnlock()
	for _, sub := range subscribers {
		sub.closeLocal()
	}

	return ps.conn.Close(ctx)
}

func (ps *PubSub) ensureListenerStarted(ctx context.Context) {
	ps.startOnce.Do(func() {
		ps.listenerCtx, ps.cancel = context.WithCancel(context.WithoutCancel(ctx))
		ps.done = make(chan struct{})
		go ps.listen(logr.FromContextOrDiscard(ctx))
	})
}

func (ps *PubSub) listen(log logr.Logger) {
	defer close(ps.done)

	for {
		// process any pending commands first
		ps.processPendingCommands(log)

		if ps.listenerCtx.Err() != nil {
			return
		}

		// a command queued after processPendingCommands cancels this wait
		waitCtx, cancelWait := context.WithCancel(ps.listenerCtx)
		ps.mutex.Lock()
		ps.cancelWait = cancelWait
		pending := len(ps.cmdChan) > 0
		ps.mutex.Unlock()
		if pending {
			cancelWait()
		}

		notification, err := ps.conn.WaitForNotification(waitCtx)
		cancelWait()

		if err != nil {
			if ps.listenerCtx.Err() != nil {
				return
			}
			if waitCtx.Err() != nil {
				continue
			}
			log.Error(err, "pubsub: wait for notification failed")
			select {
			case <-ps.listenerCtx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		ps.broadcast(notification.Channel, []byte(notification.Payload), log)
	}
}

func (ps *PubSub) processPendingCommands(log logr.Logger) {
	for {
		select {
		case cmd := <-ps.cmdChan:
			_, err := ps.conn.Exec(ps.listenerCtx, cmd.sql)
			if err != nil {
				log.Error(err, "pubsub: command failed", "sql", cmd.sql)
			}
			cmd.resultCh <- err
		default:
			return
		}
	}
}

func (ps *PubSub) execCommand(ctx context.Context, sql string) error {
	resultCh := make(chan error, 1)
	cmd := command{sql: sql, resultCh: resultCh}

	select {
	case ps.cmdChan <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-ps.done:
		return ErrClosed
	}

	// interrupt the wait so command gets processed
	ps.mutex.RLock()
	if ps.cancelWait != nil {
		ps.cancelWait()
	}
	ps.mutex.RUnlock()

	select {
	case err := <-resultCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-ps.done:
		return ErrClosed
	}
}

// listenChannel adds a reference to channel and issues LISTEN for the first one.
func (ps *PubSub) listenChannel(ctx context.Context, channel string) error {
	ps.mutex.Lock()
	ps.listening[channel]++
	first := ps.listening[channel] == 1
	ps.mutex.Unlock()
	if !first {
		return nil
	}

	if err := ps.execCommand(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		ps.mutex.Lock()
		ps.listening[channel]--
		ps.mutex.Unlock()
		return fmt.Errorf("failed to listen to topic: %w", err)
	}
	return nil
}

// unlistenChannel drops a reference to channel and issues UNLISTEN for the
// last one.
func (ps *PubSub) unlistenChannel(ctx context.Context, channel string) error {
	ps.mutex.Lock()
	ps.listening[channel]--
	last := ps.listening[channel] <= 0
	if last {
		delete(ps.listening, channel)
	}
	ps.mutex.Unlock()
	if !last {
		return nil
	}

	if err := ps.execCommand(ctx, "UNLISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		return fmt.Errorf("failed to unlisten from topic: %w", err)
	}
	return nil
}

func (ps *PubSub) broadcast(channel string, payload []byte, log logr.Logger) {
	ps.mutex.RLock()
	defer ps.mutex.RUnlock()

	for _, sub := range ps.subscribers {
		topic, ok := sub.topicFor(channel)
		if !ok {
			continue
		}
		msg := &pubsub.Msg{Topic: topic, Payload: payload}
		if !sub.deliver(msg) {
			log.V(1).Info("pubsub: message dropped", "topic", topic)
		}
	}
}

func (ps *PubSub) Publish(
	ctx context.Context,
	topic string,
	payload []byte,
	opts ...pubsub.PublishOption,
) error {
	topic = ps.config.Topic(topic, opts...)
	logr.FromContextOrDiscard(ctx).V(1).Info("pubsub: publishing", "topic", topic)

	_, err := ps.pool.Exec(ctx, "SELECT pg_notify($1, $2)", channelName(topic), string(payload))
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

func (ps *PubSub) subscribe(
	ctx context.Context,
	topic string,
	options ...pubsub.SubscribeOption,
) (*pgxSubscriber, error) {
	config := ps.config.Subscription(topic, options...)
	ps.ensureListenerStarted(ctx)

	subscriber := &pgxSubscriber{
		ps:       ps,
		config:   config,
		channels: make(map[string]string),
	}
	if err := subscriber.Subscribe(ctx, config.Topics...); err != nil {
		_ = subscriber.Close()
		return nil, err
	}

	ps.mutex.Lock()
	ps.subscribers = append(ps.subscribers, subscriber)
	ps.mutex.Unlock()

	return subscriber, nil
}

// Subscribe returns nil when LISTEN fails.
func (ps *PubSub) Subscribe(
	ctx context.Context,
	topic string,
	handler func(msg *pubsub.Msg) error,
	options ...pubsub.SubscribeOption,
) pubsub.Consumer {
	subscriber, err := ps.subscribe(ctx, topic, options...)
	if err != nil {
		logr.FromContextOrDiscard(ctx).Error(err, "pubsub: subscribe failed", "topic", topic)
		return nil
	}
	subscriber.handler = handler
	return subscriber
}

// SubscribeChan returns a nil consumer and channel when LISTEN fails.
func (ps *PubSub) SubscribeChan(
	ctx context.Context,
	topic string,
	options ...pubsub.SubscribeOption,
) (pubsub.Consumer, <-chan *pubsub.Msg) {
	subscriber, err := ps.subscribe(ctx, topic, options...)
	if err != nil {
		logr.FromContextOrDiscard(ctx).Error(err, "pubsub: subscribe failed", "topic", topic)
		return nil, nil
	}
	subscriber.mutex.Lock()
	subscriber.channel = make(chan *pubsub.Msg, subscriber.config.ChannelSize)
	subscriber.mutex.Unlock()
	return subscriber, subscriber.channel
}

type pgxSubscriber struct {
	ps      *PubSub
	handler func(msg *pubsub.Msg) error

	mutex   sync.RWMutex
	channel chan *pubsub.Msg
	config  pubsub.SubscribeConfig
	// channels maps LISTEN channel names to formatted topics.
	channels map[string]string
	closed   bool
}

func (s *pgxSubscriber) topicFor(channel string) (string, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if s.closed {
		return "", false
	}
	topic, ok := s.channels[channel]
	return topic, ok
}

func (s *pgxSubscriber) deliver(msg *pubsub.Msg) bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if s.closed {
		return false
	}

	if s.handler != nil {
		if err := s.handler(msg); err != nil {
			logr.FromContextOrDiscard(s.ps.listenerCtx).Error(err, "pubsub: handler failed", "topic", msg.Topic)
		}
		return true
	}
	if s.channel == nil {
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
	case s.channel <- msg:
		return true
	case <-t.C:
		return false
	}
}

func (s *pgxSubscriber) Subscribe(ctx context.Context, topics ...string) error {
	for _, topic := range topics {
		formatted := s.config.Format(topic)[0]
		channel := channelName(formatted)

		s.mutex.RLock()
		_, exists := s.channels[channel]
		closed := s.closed
		s.mutex.RUnlock()
		if closed {
			return ErrClosed
		}
		if exists {
			continue
		}

		if err := s.ps.listenChannel(ctx, channel); err != nil {
			return err
		}
		s.mutex.Lock()
		s.channels[channel] = formatted
		s.mutex.Unlock()
	}
	return nil
}

func (s *pgxSubscriber) Unsubscribe(ctx context.Context, topics ...string) error {
	for _, topic := range topics {
		channel := channelName(s.config.Format(topic)[0])

		s.mutex.Lock()
		_, exists := s.channels[channel]
		delete(s.channels, channel)
		s.mutex.Unlock()
		if !exists {
			continue
		}

		if err := s.ps.unlistenChannel(ctx, channel); err != nil {
			return err
		}
	}
	return nil
}

// closeLocal stops delivery without touching the connection.
func (s *pgxSubscriber) closeLocal() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	if s.channel != nil {
		close(s.channel)
	}
	return true
}

func (s *pgxSubscriber) Close() error {
	if !s.closeLocal() {
		return nil
	}

	ps := s.ps
	ps.mutex.Lock()
	ps.subscribers = slices.DeleteFunc(ps.subscribers, func(sub *pgxSubscriber) bool {
		return sub == s
	})
	ps.mutex.Unlock()

	s.mutex.Lock()
	channels := make([]string, 0, len(s.channels))
	for channel := range s.channels {
		channels = append(channels, channel)
	}
	clear(s.channels)
	s.mutex.Unlock()

	ctx := context.Background()
	if ps.listenerCtx != nil && ps.listenerCtx.Err() != nil {
		return nil
	}
	for _, channel := range channels {
		if err := ps.unlistenChannel(ctx, channel); err != nil {
			return err
		}
	}
	return nil
}
