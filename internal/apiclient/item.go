package apiclient

import (
	"fmt"
	"time"
)

type ItemType string

const (
	ItemTypeText  ItemType = "text"
	ItemTypeImage ItemType = "image"
)

// Item is the client's copy of a vault item. Unlocked is whatever the server
// reported; callers needing the current truth recompute it with UnlockedAt.
type Item struct {
	ID         string
	Type       ItemType
	Title      string
	MimeType   string
	UnlockAt   time.Time
	CreatedAt  time.Time
	Unlocked   bool
	Content    *string
	LayerCount int
	Version    int64
}

// UnlockedAt reports whether now has reached the unlock time.
func (i *Item) UnlockedAt(now time.Time) bool {
	return !now.Before(i.UnlockAt)
}

// Clone returns a deep copy so snapshots never share the content pointer.
func (i *Item) Clone() *Item {
	if i == nil {
		return nil
	}
	c := *i
	if i.Content != nil {
		content := *i.Content
		c.Content = &content
	}
	return &c
}

type itemWire struct {
	ID         string  `json:"id"`
	Type       string  `json:"type"`
	Title      string  `json:"title"`
	MimeType   string  `json:"mimeType"`
	UnlockAt   int64   `json:"unlockAt"`
	CreatedAt  int64   `json:"createdAt"`
	Unlocked   bool    `json:"unlocked"`
	Content    *string `json:"content"`
	LayerCount int     `json:"layerCount"`
	Version    int64   `json:"version"`
}

// validate rejects shapes the rest of the client must never see.
func (w *itemWire) validate() error {
	switch {
	case w.ID == "":
		return fmt.Errorf("%w: item has no id", ErrInvalidResponse)
	case w.Type != string(ItemTypeText) && w.Type != string(ItemTypeImage):
		return fmt.Errorf("%w: item %s has unknown type %q", ErrInvalidResponse, w.ID, w.Type)
	case w.UnlockAt <= 0:
		return fmt.Errorf("%w: item %s has no unlock time", ErrInvalidResponse, w.ID)
	case w.Content != nil && !w.Unlocked:
		return fmt.Errorf("%w: item %s carries content while locked", ErrInvalidResponse, w.ID)
	case w.Version < 0:
		return fmt.Errorf("%w: item %s has negative version", ErrInvalidResponse, w.ID)
	}
	return nil
}

func (w *itemWire) toItem() *Item {
	item := &Item{
		ID:         w.ID,
		Type:       ItemType(w.Type),
		Title:      w.Title,
		MimeType:   w.MimeType,
		UnlockAt:   time.UnixMilli(w.UnlockAt).UTC(),
		Unlocked:   w.Unlocked,
		Content:    w.Content,
		LayerCount: w.LayerCount,
		Version:    w.Version,
	}
	if w.CreatedAt > 0 {
		item.CreatedAt = time.UnixMilli(w.CreatedAt).UTC()
	}
	return item
}
