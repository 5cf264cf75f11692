// Package storage provides the persistence layer for the game.
// The engine only sees the SaveSlot and EventRepository; the KV backends
// are swappable.
package storage

import (
	"context"
	"time"
)

// KV is a flat key/value blob store, the shape of browser local storage.
type KV interface {
	// Get returns the value for key; the bool is false when the key is absent.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Put stores value under key, replacing any previous value.
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// StoredEvent mirrors the engine event structure for persistence.
// The engine package should NOT import this; the adapter lives in cmd.
type StoredEvent struct {
	ID        string                 `json:"id" db:"id"`
	Slot      string                 `json:"slot" db:"slot"`
	Seq       int64                  `json:"seq" db:"seq"`
	Timestamp time.Time              `json:"timestamp" db:"timestamp"`
	EventType string                 `json:"event_type" db:"event_type"`
	Payload   map[string]interface{} `json:"payload" db:"payload"`
}

// EventRepository defines the interface for event persistence.
type EventRepository interface {
	// Append adds a new event to the ledger.
	Append(ctx context.Context, event StoredEvent) error

	// ListBySlot returns the most recent events of a save slot, oldest first.
	ListBySlot(ctx context.Context, slot string, limit int) ([]StoredEvent, error)

	// ListByType returns every event of one type for a save slot.
	ListByType(ctx context.Context, slot, eventType string) ([]StoredEvent, error)

	// LastSeq returns the highest sequence number stored for a slot, 0 if none.
	LastSeq(ctx context.Context, slot string) (int64, error)

	// DeleteSlot drops the history of a save slot.
	DeleteSlot(ctx context.Context, slot string) error
}
