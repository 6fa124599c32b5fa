package domain

import "time"

type ItemType string

const (
	ItemTypeText  ItemType = "text"
	ItemTypeImage ItemType = "image"
)

func (t ItemType) Valid() bool {
	return t == ItemTypeText || t == ItemTypeImage
}

// Item is a sealed vault entry. Text content lives in Ciphertext; image
// content lives in the image store under BlobKey.
type Item struct {
	ID         string
	OwnerID    string
	Type       ItemType
	Title      string
	Ciphertext string
	BlobKey    string
	MimeType   string
	UnlockAt   time.Time
	CreatedAt  time.Time
	LayerCount int
	Version    int64
}

// IsUnlocked reports whether now has reached UnlockAt. It is never stored.
func (i *Item) IsUnlocked(now time.Time) bool {
	return !now.Before(i.UnlockAt)
}

type Settings struct {
	OwnerID   string
	Values    map[string]string
	Version   int64
	UpdatedAt time.Time
	UpdatedBy string
}

type Share struct {
	Token     string
	ItemID    string
	OwnerID   string
	CreatedAt time.Time
}
