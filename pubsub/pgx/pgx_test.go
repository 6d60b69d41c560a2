package pgx

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/enverbisevac/distlock/pubsub"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

func getTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	ctx := context.Background()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" && os.Getenv("TEST_CONTAINERS") != "" {
		ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
			tcpostgres.WithDatabase("distlock"),
			tcpostgres.WithUsername("postgres"),
			tcpostgres.WithPassword("postgres"),
			tcpostgres.BasicWaitStrategies(),
		)
		testcontainers.CleanupContainer(t, ctr)
		require.NoError(t, err)

		dsn, err = ctr.ConnectionString(ctx, "sslmode=disable")
		require.NoError(t, err)
	}
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping pgx pubsub tests")
	}

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func newPubSub(t *testing.T, options ...pubsub.Option) *PubSub {
	t.Helper()

	ps, err := New(context.Background(), getTestPool(t), options...)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = ps.Close(context.Background())
	})
	return ps
}

func receive(t *testing.T, ch <-chan *pubsub.Msg) *pubsub.Msg {
	t.Helper()
	select {
	case msg := <-ch:
		require.NotNil(t, msg)
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for notification")
		return nil
	}
}

func TestChannelName(t *testing.T) {
	assert.Equal(t, "distlock:default:k", channelName("distlock:default:k"))

	long := "distlock:default:" + strings.Repeat("x", 100)
	name := channelName(long)
	assert.Len(t, name, maxChannelLen)
	assert.Equal(t, name, channelName(long))
	assert.NotEqual(t, name, channelName(long+"y"))
}

func TestSubscribeChan(t *testing.T) {
	ps := newPubSub(t)
	ctx := context.Background()

	consumer, ch := ps.SubscribeChan(ctx, "released")
	require.NotNil(t, consumer)

	require.NoError(t, ps.Publish(ctx, "released", []byte("lock:k")))
	msg := receive(t, ch)
	assert.Equal(t, pubsub.FormatTopic(pubsub.DefaultAppName, pubsub.DefaultNamespace, "released"), msg.Topic)
	assert.Equal(t, "lock:k", string(msg.Payload))

	require.NoError(t, consumer.Close())
	require.NoError(t, consumer.Close())
	_, ok := <-ch
	assert.False(t, ok)
}

func TestLongTopic(t *testing.T) {
	ps := newPubSub(t)
	ctx := context.Background()

	topic := "released:" + strings.Repeat("jobs/", 30)
	consumer, ch := ps.SubscribeChan(ctx, topic)
	require.NotNil(t, consumer)
	defer consumer.Close()

	require.NoError(t, ps.Publish(ctx, topic, []byte("x")))
	msg := receive(t, ch)
	assert.Equal(t, pubsub.FormatTopic(pubsub.DefaultAppName, pubsub.DefaultNamespace, topic), msg.Topic)
}

func TestSharedChannel(t *testing.T) {
	ps := newPubSub(t)
	ctx := context.Background()

	first, ch1 := ps.SubscribeChan(ctx, "shared")
	second, ch2 := ps.SubscribeChan(ctx, "shared")
	require.NotNil(t, first)
	require.NotNil(t, second)

	require.NoError(t, ps.Publish(ctx, "shared", []byte("one")))
	assert.Equal(t, "one", string(receive(t, ch1).Payload))
	assert.Equal(t, "one", string(receive(t, ch2).Payload))

	// closing one subscriber keeps the LISTEN alive for the other
	require.NoError(t, first.Close())
	require.NoError(t, ps.Publish(ctx, "shared", []byte("two")))
	assert.Equal(t, "two", string(receive(t, ch2).Payload))
	require.NoError(t, second.Close())

	ps.mutex.RLock()
	assert.Empty(t, ps.listening)
	ps.mutex.RUnlock()
}

func TestHandler(t *testing.T) {
	ps := newPubSub(t)
	ctx := context.Background()

	got := make(chan string, 1)
	consumer := ps.Subscribe(ctx, "events", func(msg *pubsub.Msg) error {
		got <- string(msg.Payload)
		return nil
	})
	require.NotNil(t, consumer)
	defer consumer.Close()

	require.NoError(t, consumer.Subscribe(ctx, "more"))
	require.NoError(t, ps.Publish(ctx, "more", []byte("hello")))

	select {
	case payload := <-got:
		assert.Equal(t, "hello", payload)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for handler")
	}

	require.NoError(t, consumer.Unsubscribe(ctx, "more"))
}
