// Package history keeps a local record of every state published for an
// item, so recent values survive restarts even when InfluxDB is not
// configured.
package history

import (
	"context"
	"time"

	"github.com/nerrad567/gray-logic-onewire/internal/binding"
)

// Source values for recorded entries.
const (
	// SourceBus marks a value read from the bus.
	SourceBus = "bus"

	// SourceReadError marks the undefined state recorded after a failed read.
	SourceReadError = "read_error"
)

// Entry is one published state.
type Entry struct {
	// ID is the auto-incremented primary key.
	ID int64 `json:"id"`

	// Item is the item name.
	Item string `json:"item"`

	// State is the host representation, e.g. "21.5", "ON" or "UNDEF".
	State string `json:"state"`

	// Value is the plain value, nil for UNDEF.
	Value any `json:"value"`

	// Source identifies how the state was produced (bus, read_error).
	Source string `json:"source"`

	// CreatedAt is when the state was published (UTC).
	CreatedAt time.Time `json:"created_at"`
}

// Repository stores and retrieves published state history.
//
// Implementations must be thread-safe and use UTC timestamps.
type Repository interface {
	// RecordStateChange records a published state for item.
	RecordStateChange(ctx context.Context, item string, state binding.State, source string) error

	// GetHistory returns recent entries for item, newest first.
	// limit is clamped by the implementation.
	GetHistory(ctx context.Context, item string, limit int) ([]Entry, error)

	// PruneHistory deletes entries older than olderThan and returns the count.
	PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error)
}
