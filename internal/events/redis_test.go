package events

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisHub(t *testing.T) *RedisHub {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(context.Background()).Err())
	return NewRedisHub(client, "timelock-test-"+uuid.NewString(), discardLogger())
}

func TestRedisHubRoundTrip(t *testing.T) {
	hub := newRedisHub(t)
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, "alice")
	require.NoError(t, err)
	defer cancel()

	at := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	require.NoError(t, hub.Publish(ctx, Event{Type: ItemExtended, OwnerID: "alice", ItemID: "item-1", Version: 3, At: at}))

	ev := receive(t, ch)
	assert.Equal(t, ItemExtended, ev.Type)
	assert.Equal(t, int64(3), ev.Version)
	assert.True(t, at.Equal(ev.At))
}

func TestRedisHubCancel(t *testing.T) {
	hub := newRedisHub(t)

	ch, cancel, err := hub.Subscribe(context.Background(), "alice")
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription channel not closed")
	}
}
