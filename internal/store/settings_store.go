package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vbonduro/timelock/internal/domain"
)

type SettingsStore struct {
	db *sql.DB
}

func NewSettingsStore(db *sql.DB) *SettingsStore {
	return &SettingsStore{db: db}
}

// Get returns the owner's settings. An owner who never saved any gets an
// empty document at version 0.
func (s *SettingsStore) Get(ctx context.Context, ownerID string) (*domain.Settings, error) {
	var (
		data      string
		updatedAt int64
	)
	settings := &domain.Settings{OwnerID: ownerID}
	err := s.db.QueryRowContext(ctx, `
		SELECT data, version, updated_at, updated_by FROM settings WHERE owner_id = ?
	`, ownerID).Scan(&data, &settings.Version, &updatedAt, &settings.UpdatedBy)

	if err == sql.ErrNoRows {
		settings.Values = map[string]string{}
		return settings, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}

	if err := json.Unmarshal([]byte(data), &settings.Values); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	if settings.Values == nil {
		settings.Values = map[string]string{}
	}
	settings.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return settings, nil
}

// Merge applies patch on top of the stored values. Keys mapped to "" are
// removed. Each key is last-writer-wins; the document version always
// increases.
func (s *SettingsStore) Merge(ctx context.Context, ownerID, deviceID string, patch map[string]string, at time.Time) (*domain.Settings, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		data    string
		version int64
	)
	err = tx.QueryRowContext(ctx, `SELECT data, version FROM settings WHERE owner_id = ?`, ownerID).Scan(&data, &version)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}

	values := map[string]string{}
	if data != "" {
		if err := json.Unmarshal([]byte(data), &values); err != nil {
			return nil, fmt.Errorf("failed to decode settings: %w", err)
		}
	}
	for k, v := range patch {
		if v == "" {
			delete(values, k)
			continue
		}
		values[k] = v
	}

	encoded, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("failed to encode settings: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO settings (owner_id, data, version, updated_at, updated_by) VALUES (?, ?, 1, ?, ?)
		ON CONFLICT(owner_id) DO UPDATE SET
			data = excluded.data,
			version = settings.version + 1,
			updated_at = excluded.updated_at,
			updated_by = excluded.updated_by
	`, ownerID, string(encoded), at.UnixMilli(), deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to save settings: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit settings: %w", err)
	}

	return &domain.Settings{
		OwnerID:   ownerID,
		Values:    values,
		Version:   version + 1,
		UpdatedAt: at.UTC(),
		UpdatedBy: deviceID,
	}, nil
}
