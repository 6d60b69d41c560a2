package lock

import (
	"context"

	"github.com/enverbisevac/distlock/pubsub"
)

func (m *Manager) releaseTopic(key string) string {
	return "released:" + m.storeKey(key)
}

func (m *Manager) notifyReleased(ctx context.Context, key string) {
	n := m.config.Notifier
	if n == nil {
		return
	}
	if err := n.Publish(ctx, m.releaseTopic(key), []byte(key)); err != nil {
		m.logger(ctx).Error(err, "lock: release notification failed", "key", key)
	}
}

// watchReleases subscribes to release announcements of key. The channel is
// nil when notifications are off or the subscription failed. A pending
// announcement is kept at most once and never blocks the publisher.
func (m *Manager) watchReleases(ctx context.Context, key string) (<-chan *pubsub.Msg, func()) {
	n := m.config.Notifier
	if n == nil {
		return nil, func() {}
	}

	consumer, ch := n.SubscribeChan(ctx, m.releaseTopic(key),
		pubsub.WithChannelSize(1),
		pubsub.WithChannelSendTimeout(0),
	)
	if consumer == nil {
		m.logger(ctx).V(1).Info("lock: release subscription failed, polling only", "key", key)
		return nil, func() {}
	}
	return ch, func() {
		_ = consumer.Close()
	}
}
