package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/vbonduro/timelock/internal/clock"
	"github.com/vbonduro/timelock/internal/domain"
	"github.com/vbonduro/timelock/internal/events"
)

type unlockedLister interface {
	ListUnlockedBetween(ctx context.Context, from, to time.Time) ([]*domain.Item, error)
}

// UnlockNotifier publishes item.unlocked for every item whose unlock time
// passed since the previous scan.
type UnlockNotifier struct {
	items    unlockedLister
	hub      events.Hub
	clk      clock.Clock
	logger   *slog.Logger
	lastScan time.Time
}

func NewUnlockNotifier(items unlockedLister, hub events.Hub, clk clock.Clock, logger *slog.Logger) *UnlockNotifier {
	return &UnlockNotifier{items: items, hub: hub, clk: clk, logger: logger, lastScan: clk.Now()}
}

// Scan returns the number of events published. On a listing error the window
// is kept so the next scan covers it again.
func (n *UnlockNotifier) Scan(ctx context.Context) (int, error) {
	now := n.clk.Now()
	items, err := n.items.ListUnlockedBetween(ctx, n.lastScan, now)
	if err != nil {
		return 0, err
	}
	n.lastScan = now

	for _, item := range items {
		ev := events.Event{
			Type:    events.ItemUnlocked,
			OwnerID: item.OwnerID,
			ItemID:  item.ID,
			Version: item.Version,
			At:      item.UnlockAt,
		}
		if err := n.hub.Publish(ctx, ev); err != nil {
			n.logger.Warn("failed to publish unlock", "item_id", item.ID, "error", err)
		}
	}
	if len(items) > 0 {
		n.logger.Info("items unlocked", "count", len(items))
	}
	return len(items), nil
}

// Run scans every interval until ctx ends.
func (n *UnlockNotifier) Run(ctx context.Context, interval time.Duration) error {
	for {
		tick := make(chan struct{})
		timer := n.clk.AfterFunc(interval, func() { close(tick) })

		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-tick:
		}

		if _, err := n.Scan(ctx); err != nil {
			n.logger.Error("unlock scan failed", "error", err)
		}
	}
}
