package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-redis/redis/v8"
)

// RedisHub relays events through Redis pub/sub so every server instance sees
// every owner's changes. Each owner has its own channel.
type RedisHub struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

func NewRedisHub(client *redis.Client, prefix string, logger *slog.Logger) *RedisHub {
	if prefix == "" {
		prefix = "timelock"
	}
	return &RedisHub{client: client, prefix: prefix, logger: logger}
}

func (h *RedisHub) channel(ownerID string) string {
	return fmt.Sprintf("%s:events:%s", h.prefix, ownerID)
}

func (h *RedisHub) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err := h.client.Publish(ctx, h.channel(ev.OwnerID), data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

func (h *RedisHub) Subscribe(ctx context.Context, ownerID string) (<-chan Event, func(), error) {
	ps := h.client.Subscribe(ctx, h.channel(ownerID))
	// Wait for the subscription to be confirmed so no publish is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	out := make(chan Event, subscriberBuffer)
	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() { close(done) })
	}

	go func() {
		defer close(out)
		defer func() {
			if err := ps.Close(); err != nil {
				h.logger.Warn("failed to close redis subscription", "owner_id", ownerID, "error", err)
			}
		}()

		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					h.logger.Warn("discarding malformed event", "channel", msg.Channel, "error", err)
					continue
				}
				select {
				case out <- ev:
				default:
					h.logger.Warn("dropping event for slow subscriber", "owner_id", ownerID, "type", ev.Type)
				}
			}
		}
	}()

	return out, cancel, nil
}
