// Package events fans vault changes out to every connected session of the
// owning user.
package events

import (
	"context"
	"time"
)

type Type string

const (
	ItemCreated     Type = "item.created"
	ItemExtended    Type = "item.extended"
	ItemDeleted     Type = "item.deleted"
	ItemUnlocked    Type = "item.unlocked"
	SettingsUpdated Type = "settings.updated"
)

// IsItem reports whether the event invalidates a single item.
func (t Type) IsItem() bool {
	switch t {
	case ItemCreated, ItemExtended, ItemDeleted, ItemUnlocked:
		return true
	}
	return false
}

// Event is the wire form of a change notification. Origin is the device id
// that caused the change, empty for server-originated events.
type Event struct {
	Type     Type              `json:"type"`
	OwnerID  string            `json:"ownerId"`
	Origin   string            `json:"origin,omitempty"`
	ItemID   string            `json:"itemId,omitempty"`
	Settings map[string]string `json:"settings,omitempty"`
	Version  int64             `json:"version,omitempty"`
	At       time.Time         `json:"at"`
}

// Hub delivers published events to the subscribers of the event's owner.
// The returned channel is closed once cancel is called or ctx ends.
type Hub interface {
	Publish(ctx context.Context, ev Event) error
	Subscribe(ctx context.Context, ownerID string) (<-chan Event, func(), error)
}

const subscriberBuffer = 32
