package events

import (
	"context"
	"log/slog"
	"sync"
)

type memorySub struct {
	ch     chan Event
	closed bool
}

// MemoryHub is an in-process Hub for single-instance deployments.
type MemoryHub struct {
	mu     sync.Mutex
	subs   map[string]map[*memorySub]struct{}
	logger *slog.Logger
}

func NewMemoryHub(logger *slog.Logger) *MemoryHub {
	return &MemoryHub{
		subs:   make(map[string]map[*memorySub]struct{}),
		logger: logger,
	}
}

// Publish never blocks; a subscriber whose buffer is full misses the event.
func (h *MemoryHub) Publish(_ context.Context, ev Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs[ev.OwnerID] {
		select {
		case sub.ch <- ev:
		default:
			h.logger.Warn("dropping event for slow subscriber", "owner_id", ev.OwnerID, "type", ev.Type)
		}
	}
	return nil
}

func (h *MemoryHub) Subscribe(ctx context.Context, ownerID string) (<-chan Event, func(), error) {
	sub := &memorySub{ch: make(chan Event, subscriberBuffer)}

	h.mu.Lock()
	if h.subs[ownerID] == nil {
		h.subs[ownerID] = make(map[*memorySub]struct{})
	}
	h.subs[ownerID][sub] = struct{}{}
	h.mu.Unlock()

	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			h.remove(ownerID, sub)
		})
	}

	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()

	return sub.ch, cancel, nil
}

func (h *MemoryHub) remove(ownerID string, sub *memorySub) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sub.closed {
		return
	}
	sub.closed = true
	delete(h.subs[ownerID], sub)
	if len(h.subs[ownerID]) == 0 {
		delete(h.subs, ownerID)
	}
	close(sub.ch)
}

// Subscribers returns the number of live subscriptions for ownerID.
func (h *MemoryHub) Subscribers(ownerID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[ownerID])
}
