package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vbonduro/timelock/internal/domain"
)

const itemColumns = `id, owner_id, type, title, ciphertext, blob_key, mime_type, unlock_at, created_at, layer_count, version`

type ItemStore struct {
	db *sql.DB
}

func NewItemStore(db *sql.DB) *ItemStore {
	return &ItemStore{db: db}
}

func (s *ItemStore) Create(ctx context.Context, item *domain.Item) (*domain.Item, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO items (`+itemColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, item.ID, item.OwnerID, string(item.Type), item.Title, item.Ciphertext, item.BlobKey, item.MimeType,
		item.UnlockAt.UnixMilli(), item.CreatedAt.UnixMilli(), item.LayerCount, item.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to create item: %w", err)
	}

	return s.GetByID(ctx, item.OwnerID, item.ID)
}

// GetByID returns nil, nil when the owner has no item with that id.
func (s *ItemStore) GetByID(ctx context.Context, ownerID, id string) (*domain.Item, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+itemColumns+` FROM items WHERE id = ? AND owner_id = ?
	`, id, ownerID)

	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return item, nil
}

// GetAnyByID looks an item up regardless of owner. It backs share links.
func (s *ItemStore) GetAnyByID(ctx context.Context, id string) (*domain.Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id)

	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return item, nil
}

// ListByOwner returns the owner's items ordered by unlock time. A non-empty
// query filters on a case-insensitive title match.
func (s *ItemStore) ListByOwner(ctx context.Context, ownerID, query string) ([]*domain.Item, error) {
	pattern := "%" + strings.ToLower(query) + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+itemColumns+` FROM items
		WHERE owner_id = ? AND LOWER(title) LIKE ?
		ORDER BY unlock_at ASC, created_at ASC
	`, ownerID, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	return collectItems(rows)
}

// ListUnlockedBetween returns items whose unlock time falls in (from, to].
func (s *ItemStore) ListUnlockedBetween(ctx context.Context, from, to time.Time) ([]*domain.Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+itemColumns+` FROM items
		WHERE unlock_at > ? AND unlock_at <= ?
		ORDER BY unlock_at ASC
	`, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to list unlocked items: %w", err)
	}
	return collectItems(rows)
}

// Extend pushes unlock_at forward by delta and bumps the version in one
// statement. A non-zero expectedVersion makes the update conditional: a
// mismatch yields ErrConflict. A missing item yields ErrNotFound.
func (s *ItemStore) Extend(ctx context.Context, ownerID, id string, delta time.Duration, expectedVersion int64) (*domain.Item, error) {
	if delta <= 0 {
		return nil, fmt.Errorf("extend delta must be positive, got %s", delta)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE items SET unlock_at = unlock_at + ?, version = version + 1
		WHERE id = ? AND owner_id = ? AND (? = 0 OR version = ?)
	`, delta.Milliseconds(), id, ownerID, expectedVersion, expectedVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to extend item: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		existing, err := s.GetByID(ctx, ownerID, id)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("item %s at version %d, expected %d: %w", id, existing.Version, expectedVersion, ErrConflict)
	}

	return s.GetByID(ctx, ownerID, id)
}

func (s *ItemStore) Delete(ctx context.Context, ownerID, id string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM items WHERE id = ? AND owner_id = ?
	`, id, ownerID)
	if err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*domain.Item, error) {
	item := &domain.Item{}
	var itemType string
	var unlockAt, createdAt int64
	err := row.Scan(&item.ID, &item.OwnerID, &itemType, &item.Title, &item.Ciphertext, &item.BlobKey,
		&item.MimeType, &unlockAt, &createdAt, &item.LayerCount, &item.Version)
	if err != nil {
		return nil, err
	}
	item.Type = domain.ItemType(itemType)
	item.UnlockAt = time.UnixMilli(unlockAt).UTC()
	item.CreatedAt = time.UnixMilli(createdAt).UTC()
	return item, nil
}

func collectItems(rows *sql.Rows) ([]*domain.Item, error) {
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("failed to close rows", "error", err)
		}
	}()

	var items []*domain.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating items: %w", err)
	}

	return items, nil
}
