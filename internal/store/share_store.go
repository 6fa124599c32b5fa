package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vbonduro/timelock/internal/domain"
)

type ShareStore struct {
	db *sql.DB
}

func NewShareStore(db *sql.DB) *ShareStore {
	return &ShareStore{db: db}
}

func (s *ShareStore) Create(ctx context.Context, share *domain.Share) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO shares (token, item_id, owner_id, created_at) VALUES (?, ?, ?, ?)
	`, share.Token, share.ItemID, share.OwnerID, share.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to create share: %w", err)
	}
	return nil
}

// GetByToken returns nil, nil for an unknown token.
func (s *ShareStore) GetByToken(ctx context.Context, token string) (*domain.Share, error) {
	share := &domain.Share{}
	var createdAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT token, item_id, owner_id, created_at FROM shares WHERE token = ?
	`, token).Scan(&share.Token, &share.ItemID, &share.OwnerID, &createdAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get share: %w", err)
	}
	share.CreatedAt = time.UnixMilli(createdAt).UTC()
	return share, nil
}

func (s *ShareStore) DeleteByItem(ctx context.Context, itemID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM shares WHERE item_id = ?`, itemID)
	if err != nil {
		return fmt.Errorf("failed to delete shares: %w", err)
	}
	return nil
}
