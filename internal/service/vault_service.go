package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vbonduro/timelock/internal/clock"
	"github.com/vbonduro/timelock/internal/domain"
	"github.com/vbonduro/timelock/internal/events"
	"github.com/vbonduro/timelock/internal/imagestore"
	"github.com/vbonduro/timelock/internal/store"
	"github.com/yuin/goldmark"
)

const (
	MaxTitleLength   = 200
	MaxExtendMinutes = 366 * 24 * 60
)

var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// itemRepository is the subset of store.ItemStore that VaultService requires.
type itemRepository interface {
	Create(ctx context.Context, item *domain.Item) (*domain.Item, error)
	GetByID(ctx context.Context, ownerID, id string) (*domain.Item, error)
	GetAnyByID(ctx context.Context, id string) (*domain.Item, error)
	ListByOwner(ctx context.Context, ownerID, query string) ([]*domain.Item, error)
	Extend(ctx context.Context, ownerID, id string, delta time.Duration, expectedVersion int64) (*domain.Item, error)
	Delete(ctx context.Context, ownerID, id string) error
}

// shareRepository is the subset of store.ShareStore that VaultService requires.
type shareRepository interface {
	Create(ctx context.Context, share *domain.Share) error
	GetByToken(ctx context.Context, token string) (*domain.Share, error)
	DeleteByItem(ctx context.Context, itemID string) error
}

// sealer is satisfied by *crypto.Sealer.
type sealer interface {
	Seal(ctx context.Context, plaintext string) (string, error)
	Open(ctx context.Context, ciphertext string, layers int) (string, error)
	Layers() int
}

// ItemView is an item as a caller may see it at a given instant. Content is
// set only once the item has unlocked: plaintext for text items, a data URL
// for images.
type ItemView struct {
	*domain.Item
	Unlocked bool
	Content  *string
}

type CreateTextInput struct {
	Title    string
	Content  string
	UnlockAt time.Time
	UnlockIn time.Duration
}

type CreateImageInput struct {
	Title    string
	MimeType string
	Data     []byte
	UnlockAt time.Time
	UnlockIn time.Duration
}

type VaultService struct {
	items  itemRepository
	shares shareRepository
	images imagestore.ImageStore
	sealer sealer
	hub    events.Hub
	clk    clock.Clock
	md     goldmark.Markdown
	logger *slog.Logger
}

func NewVaultService(
	items itemRepository,
	shares shareRepository,
	images imagestore.ImageStore,
	sealer sealer,
	hub events.Hub,
	clk clock.Clock,
	logger *slog.Logger,
) *VaultService {
	return &VaultService{
		items:  items,
		shares: shares,
		images: images,
		sealer: sealer,
		hub:    hub,
		clk:    clk,
		md:     goldmark.New(),
		logger: logger,
	}
}

func (s *VaultService) resolveUnlock(at time.Time, in time.Duration, now time.Time) (time.Time, error) {
	if at.IsZero() {
		if in <= 0 {
			return time.Time{}, fmt.Errorf("%w: an unlock time or a positive duration is required", ErrInvalidInput)
		}
		at = now.Add(in)
	}
	if !at.After(now) {
		return time.Time{}, fmt.Errorf("%w: unlock time must be in the future", ErrInvalidInput)
	}
	return at.UTC().Truncate(time.Millisecond), nil
}

func validateTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if len(title) > MaxTitleLength {
		return "", fmt.Errorf("%w: title exceeds %d characters", ErrInvalidInput, MaxTitleLength)
	}
	return title, nil
}

func (s *VaultService) newItem(ownerID string, typ domain.ItemType, title string, unlockAt, now time.Time) *domain.Item {
	return &domain.Item{
		ID:         uuid.NewString(),
		OwnerID:    ownerID,
		Type:       typ,
		Title:      title,
		UnlockAt:   unlockAt,
		CreatedAt:  now.UTC().Truncate(time.Millisecond),
		LayerCount: s.sealer.Layers(),
		Version:    1,
	}
}

// CreateText seals content and stores it until the unlock time.
func (s *VaultService) CreateText(ctx context.Context, ownerID, origin string, in CreateTextInput) (*ItemView, error) {
	now := s.clk.Now()
	title, err := validateTitle(in.Title)
	if err != nil {
		return nil, err
	}
	if in.Content == "" {
		return nil, fmt.Errorf("%w: content is required", ErrInvalidInput)
	}
	unlockAt, err := s.resolveUnlock(in.UnlockAt, in.UnlockIn, now)
	if err != nil {
		return nil, err
	}

	item := s.newItem(ownerID, domain.ItemTypeText, title, unlockAt, now)
	item.Ciphertext, err = s.sealer.Seal(ctx, in.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to seal content: %w", err)
	}

	created, err := s.items.Create(ctx, item)
	if err != nil {
		return nil, err
	}
	s.logger.Info("item created", "item_id", created.ID, "type", created.Type, "unlock_at", created.UnlockAt)
	s.publish(ctx, events.Event{Type: events.ItemCreated, OwnerID: ownerID, Origin: origin, ItemID: created.ID, Version: created.Version})

	return s.reveal(ctx, created)
}

// CreateImage seals the image bytes into the image store and records the item.
func (s *VaultService) CreateImage(ctx context.Context, ownerID, origin string, in CreateImageInput) (*ItemView, error) {
	now := s.clk.Now()
	title, err := validateTitle(in.Title)
	if err != nil {
		return nil, err
	}
	if len(in.Data) == 0 {
		return nil, fmt.Errorf("%w: image data is required", ErrInvalidInput)
	}
	if !allowedImageTypes[in.MimeType] {
		return nil, fmt.Errorf("%w: unsupported image type %q", ErrInvalidInput, in.MimeType)
	}
	unlockAt, err := s.resolveUnlock(in.UnlockAt, in.UnlockIn, now)
	if err != nil {
		return nil, err
	}

	item := s.newItem(ownerID, domain.ItemTypeImage, title, unlockAt, now)
	item.MimeType = in.MimeType

	sealed, err := s.sealer.Seal(ctx, base64.StdEncoding.EncodeToString(in.Data))
	if err != nil {
		return nil, fmt.Errorf("failed to seal image: %w", err)
	}
	item.BlobKey, err = s.images.Save(ctx, "item_"+item.ID, strings.NewReader(sealed))
	if err != nil {
		return nil, fmt.Errorf("failed to save image: %w", err)
	}
	s.logger.Debug("image saved", "item_id", item.ID, "storage_key", item.BlobKey, "bytes", len(in.Data))

	created, err := s.items.Create(ctx, item)
	if err != nil {
		if delErr := s.images.Delete(ctx, item.BlobKey); delErr != nil {
			s.logger.Error("failed to roll back image after create error", "item_id", item.ID, "error", delErr)
		}
		return nil, err
	}
	s.logger.Info("item created", "item_id", created.ID, "type", created.Type, "unlock_at", created.UnlockAt)
	s.publish(ctx, events.Event{Type: events.ItemCreated, OwnerID: ownerID, Origin: origin, ItemID: created.ID, Version: created.Version})

	return s.reveal(ctx, created)
}

func (s *VaultService) Get(ctx context.Context, ownerID, id string) (*ItemView, error) {
	item, err := s.items.GetByID(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, ErrNotFound
	}
	return s.reveal(ctx, item)
}

// List returns the owner's items without content.
func (s *VaultService) List(ctx context.Context, ownerID, query string) ([]*ItemView, error) {
	items, err := s.items.ListByOwner(ctx, ownerID, query)
	if err != nil {
		return nil, err
	}
	now := s.clk.Now()
	views := make([]*ItemView, 0, len(items))
	for _, item := range items {
		views = append(views, &ItemView{Item: item, Unlocked: item.IsUnlocked(now)})
	}
	return views, nil
}

// Extend moves the unlock time later by minutes. A non-zero expectedVersion
// must match the stored version.
func (s *VaultService) Extend(ctx context.Context, ownerID, origin, id string, minutes int, expectedVersion int64) (*ItemView, error) {
	if minutes <= 0 {
		return nil, fmt.Errorf("%w: minutes must be positive", ErrInvalidInput)
	}
	if minutes > MaxExtendMinutes {
		return nil, fmt.Errorf("%w: minutes must not exceed %d", ErrInvalidInput, MaxExtendMinutes)
	}

	item, err := s.items.Extend(ctx, ownerID, id, time.Duration(minutes)*time.Minute, expectedVersion)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, ErrNotFound
	case errors.Is(err, store.ErrConflict):
		return nil, fmt.Errorf("%w: %v", ErrConflict, err)
	case err != nil:
		return nil, err
	}

	s.logger.Info("item extended", "item_id", id, "minutes", minutes, "unlock_at", item.UnlockAt, "version", item.Version)
	s.publish(ctx, events.Event{Type: events.ItemExtended, OwnerID: ownerID, Origin: origin, ItemID: id, Version: item.Version})

	return s.reveal(ctx, item)
}

// Delete removes the item, its share links and its image blob.
func (s *VaultService) Delete(ctx context.Context, ownerID, origin, id string) error {
	item, err := s.items.GetByID(ctx, ownerID, id)
	if err != nil {
		return err
	}
	if item == nil {
		return ErrNotFound
	}

	if err := s.shares.DeleteByItem(ctx, id); err != nil {
		return fmt.Errorf("failed to delete shares: %w", err)
	}
	if err := s.items.Delete(ctx, ownerID, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}

	if item.BlobKey != "" {
		if err := s.images.Delete(ctx, item.BlobKey); err != nil && !errors.Is(err, imagestore.ErrNotFound) {
			s.logger.Error("failed to delete image", "item_id", id, "storage_key", item.BlobKey, "error", err)
		}
	}

	s.logger.Info("item deleted", "item_id", id)
	s.publish(ctx, events.Event{Type: events.ItemDeleted, OwnerID: ownerID, Origin: origin, ItemID: id})
	return nil
}

// Share creates a link token that lets anyone read the item. The link obeys
// the same unlock time as the owner.
func (s *VaultService) Share(ctx context.Context, ownerID, id string) (*domain.Share, error) {
	item, err := s.items.GetByID(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, ErrNotFound
	}

	share := &domain.Share{
		Token:     uuid.NewString(),
		ItemID:    id,
		OwnerID:   ownerID,
		CreatedAt: s.clk.Now().UTC().Truncate(time.Millisecond),
	}
	if err := s.shares.Create(ctx, share); err != nil {
		return nil, err
	}
	return share, nil
}

func (s *VaultService) GetShared(ctx context.Context, token string) (*ItemView, error) {
	share, err := s.shares.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if share == nil {
		return nil, ErrNotFound
	}
	item, err := s.items.GetAnyByID(ctx, share.ItemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, ErrNotFound
	}
	return s.reveal(ctx, item)
}

// RenderHTML renders unlocked content for display. Text is treated as
// Markdown; raw HTML in it is not passed through.
func (s *VaultService) RenderHTML(view *ItemView) (string, error) {
	if !view.Unlocked || view.Content == nil {
		return "", ErrLocked
	}
	if view.Type == domain.ItemTypeImage {
		return fmt.Sprintf(`<img alt="%s" src="%s">`, html.EscapeString(view.Title), html.EscapeString(*view.Content)), nil
	}

	var buf bytes.Buffer
	if err := s.md.Convert([]byte(*view.Content), &buf); err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}
	return buf.String(), nil
}

// reveal decrypts content only when the item has unlocked on the server clock.
func (s *VaultService) reveal(ctx context.Context, item *domain.Item) (*ItemView, error) {
	view := &ItemView{Item: item, Unlocked: item.IsUnlocked(s.clk.Now())}
	if !view.Unlocked {
		return view, nil
	}

	var content string
	switch item.Type {
	case domain.ItemTypeText:
		plain, err := s.sealer.Open(ctx, item.Ciphertext, item.LayerCount)
		if err != nil {
			return nil, fmt.Errorf("failed to open item %s: %w", item.ID, err)
		}
		content = plain
	case domain.ItemTypeImage:
		encoded, err := s.openImage(ctx, item)
		if err != nil {
			return nil, err
		}
		content = "data:" + item.MimeType + ";base64," + encoded
	default:
		return nil, fmt.Errorf("item %s has unknown type %q", item.ID, item.Type)
	}
	view.Content = &content
	return view, nil
}

func (s *VaultService) openImage(ctx context.Context, item *domain.Item) (string, error) {
	rc, err := s.images.Get(ctx, item.BlobKey)
	if err != nil {
		return "", fmt.Errorf("failed to load image for item %s: %w", item.ID, err)
	}
	defer func() {
		if err := rc.Close(); err != nil {
			s.logger.Warn("failed to close image reader", "item_id", item.ID, "error", err)
		}
	}()

	sealed, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("failed to read image for item %s: %w", item.ID, err)
	}
	encoded, err := s.sealer.Open(ctx, string(sealed), item.LayerCount)
	if err != nil {
		return "", fmt.Errorf("failed to open image for item %s: %w", item.ID, err)
	}
	return encoded, nil
}

// publish is best effort; a failed notification never fails the mutation.
func (s *VaultService) publish(ctx context.Context, ev events.Event) {
	ev.At = s.clk.Now().UTC()
	if err := s.hub.Publish(ctx, ev); err != nil {
		s.logger.Warn("failed to publish event", "type", ev.Type, "item_id", ev.ItemID, "error", err)
	}
}
