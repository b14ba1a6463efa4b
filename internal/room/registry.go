// Package room tracks which local connections belong to which room. This
// membership map is instance-local and never persisted; the shared store is
// the source of truth for presence across instances.
package room

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Sender is the outbound half of a connection. Enqueue must not block; it
// reports false when the payload could not be queued.
type Sender interface {
	ID() string
	Enqueue(payload []byte) bool
}

// ConnectionState is the per-connection metadata owned by the registry,
// kept beside the transport handle rather than mixed into it.
type ConnectionState struct {
	ConnID   string
	UserID   string
	UserName string
	RoomID   string
	JoinedAt time.Time
}

type member struct {
	sender Sender
	state  ConnectionState
}

// Registry maps room id to the set of live local connections. Constructed
// per process (or per test); there is no ambient singleton.
type Registry struct {
	log   *zap.Logger
	mu    sync.RWMutex
	rooms map[string]map[string]member
}

// NewRegistry builds an empty registry.
func NewRegistry(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		log:   log,
		rooms: make(map[string]map[string]member),
	}
}

// Add registers a connection under state.RoomID.
func (r *Registry) Add(sender Sender, state ConnectionState) {
	if state.JoinedAt.IsZero() {
		state.JoinedAt = time.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.rooms[state.RoomID]
	if !ok {
		conns = make(map[string]member)
		r.rooms[state.RoomID] = conns
	}
	conns[state.ConnID] = member{sender: sender, state: state}
}

// Remove deregisters a connection, reporting whether it was present. Empty
// rooms are dropped from the map.
func (r *Registry) Remove(roomID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	if _, ok := conns[connID]; !ok {
		return false
	}
	delete(conns, connID)
	if len(conns) == 0 {
		delete(r.rooms, roomID)
	}
	return true
}

// BroadcastLocal delivers payload to every connection in the room except
// excludeConnID, returning the delivery count. A connection whose send
// buffer is full is skipped; its own transport tears it down.
func (r *Registry) BroadcastLocal(roomID string, payload []byte, excludeConnID string) int {
	r.mu.RLock()
	targets := make([]Sender, 0, len(r.rooms[roomID]))
	for connID, m := range r.rooms[roomID] {
		if connID == excludeConnID {
			continue
		}
		targets = append(targets, m.sender)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, target := range targets {
		if target.Enqueue(payload) {
			delivered++
			continue
		}
		r.log.Warn("dropping broadcast for saturated connection",
			zap.String("room_id", roomID),
			zap.String("conn_id", target.ID()))
	}
	return delivered
}

// HasUser reports whether any live local connection in the room belongs to
// userID. The grace-timer callback uses this to turn a reconnect's cleanup
// into a no-op.
func (r *Registry) HasUser(roomID, userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, m := range r.rooms[roomID] {
		if m.state.UserID == userID {
			return true
		}
	}
	return false
}

// Connections counts live connections in a room.
func (r *Registry) Connections(roomID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[roomID])
}

// Rooms counts rooms with at least one live local connection.
func (r *Registry) Rooms() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
