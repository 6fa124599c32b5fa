package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vbonduro/timelock/internal/clock"
	"github.com/vbonduro/timelock/internal/domain"
	"github.com/vbonduro/timelock/internal/events"
)

const (
	MaxSettingKeyLength   = 64
	MaxSettingValueLength = 1024
)

// settingsRepository is the subset of store.SettingsStore that SettingsService requires.
type settingsRepository interface {
	Get(ctx context.Context, ownerID string) (*domain.Settings, error)
	Merge(ctx context.Context, ownerID, deviceID string, patch map[string]string, at time.Time) (*domain.Settings, error)
}

type SettingsService struct {
	settings settingsRepository
	hub      events.Hub
	clk      clock.Clock
	logger   *slog.Logger
}

func NewSettingsService(settings settingsRepository, hub events.Hub, clk clock.Clock, logger *slog.Logger) *SettingsService {
	return &SettingsService{settings: settings, hub: hub, clk: clk, logger: logger}
}

func (s *SettingsService) Get(ctx context.Context, ownerID string) (*domain.Settings, error) {
	return s.settings.Get(ctx, ownerID)
}

// Update merges patch into the owner's settings and tells the owner's other
// devices. An empty value deletes the key.
func (s *SettingsService) Update(ctx context.Context, ownerID, deviceID string, patch map[string]string) (*domain.Settings, error) {
	if len(patch) == 0 {
		return nil, fmt.Errorf("%w: no settings to update", ErrInvalidInput)
	}
	for k, v := range patch {
		if k == "" || len(k) > MaxSettingKeyLength {
			return nil, fmt.Errorf("%w: setting key %q must be 1-%d characters", ErrInvalidInput, k, MaxSettingKeyLength)
		}
		if len(v) > MaxSettingValueLength {
			return nil, fmt.Errorf("%w: value for %q exceeds %d characters", ErrInvalidInput, k, MaxSettingValueLength)
		}
	}

	now := s.clk.Now()
	updated, err := s.settings.Merge(ctx, ownerID, deviceID, patch, now)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("settings updated", "owner_id", ownerID, "device_id", deviceID, "version", updated.Version)

	ev := events.Event{
		Type:     events.SettingsUpdated,
		OwnerID:  ownerID,
		Origin:   deviceID,
		Settings: updated.Values,
		Version:  updated.Version,
		At:       now.UTC(),
	}
	if err := s.hub.Publish(ctx, ev); err != nil {
		s.logger.Warn("failed to publish settings event", "owner_id", ownerID, "error", err)
	}
	return updated, nil
}
