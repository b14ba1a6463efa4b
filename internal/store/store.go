// Package store adapts the external durable key/value + pub/sub service
// shared by all coordinator instances. It is the single source of truth for
// cells, locks, presence, and selections; instances never cache this state
// beyond a single request.
package store

import (
	"context"
	"time"
)

// CellPos addresses one cell in a room grid.
type CellPos struct {
	Row int
	Col int
}

// Cell is a populated grid cell.
type Cell struct {
	Pos   CellPos
	Value string
}

// Lock is an unexpired advisory lock on a cell.
type Lock struct {
	Pos   CellPos
	Owner string
}

// Presence records one active user in a room.
type Presence struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

// Selection records a user's current cursor position in a room.
type Selection struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	Row      int    `json:"row"`
	Col      int    `json:"col"`
	Color    string `json:"color"`
}

// Event is a payload received on a room channel.
type Event struct {
	RoomID  string
	Payload []byte
}

// Store is the durable state surface required by the coordinator. Per-key
// operations are atomic; there are no multi-key transactions. AcquireLock is
// the only conditional write: it succeeds only when no unexpired lock exists
// for the cell.
type Store interface {
	SetCell(ctx context.Context, roomID string, pos CellPos, value string) error
	Cells(ctx context.Context, roomID string) ([]Cell, error)

	AcquireLock(ctx context.Context, roomID string, pos CellPos, userID string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, roomID string, pos CellPos) error
	Locks(ctx context.Context, roomID string) ([]Lock, error)

	UpsertPresence(ctx context.Context, roomID string, p Presence) error
	RemovePresence(ctx context.Context, roomID, userID string) error
	ListPresence(ctx context.Context, roomID string) ([]Presence, error)

	UpsertSelection(ctx context.Context, roomID string, sel Selection) error
	RemoveSelection(ctx context.Context, roomID, userID string) error
	ListSelections(ctx context.Context, roomID string) ([]Selection, error)

	// Publish writes a payload to the room channel. Subscribe delivers
	// payloads for every room (wildcard) until ctx is cancelled, at which
	// point the returned channel is closed.
	Publish(ctx context.Context, roomID string, payload []byte) error
	Subscribe(ctx context.Context) (<-chan Event, error)

	Close() error
}
