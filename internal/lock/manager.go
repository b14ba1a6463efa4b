// Package lock manages per-cell advisory locks with TTL expiry.
package lock

import (
	"context"
	"time"

	"github.com/gridwire/gridwire/internal/store"
	"go.uber.org/zap"
)

// DefaultTTL bounds how long a crashed or abandoned session can hold a cell.
// Keystrokes never renew a lock; the TTL exists purely for crash recovery,
// not to bound edit duration.
const DefaultTTL = time.Hour

// Manager acquires and releases cell locks against the shared store. The
// single-owner invariant holds store-wide because acquisition is one atomic
// conditional set; no in-process mutex is involved.
type Manager struct {
	store store.Store
	ttl   time.Duration
	log   *zap.Logger
}

// NewManager builds a manager with the given TTL; zero means DefaultTTL.
func NewManager(st store.Store, ttl time.Duration, log *zap.Logger) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{store: st, ttl: ttl, log: log}
}

// Acquire claims the cell for userID. It reports false without error when an
// unexpired lock is already held, by the same user or anyone else.
func (m *Manager) Acquire(ctx context.Context, roomID string, pos store.CellPos, userID string) (bool, error) {
	ok, err := m.store.AcquireLock(ctx, roomID, pos, userID, m.ttl)
	if err != nil {
		return false, err
	}
	if !ok {
		m.log.Debug("lock conflict",
			zap.String("room_id", roomID),
			zap.Int("row", pos.Row),
			zap.Int("col", pos.Col),
			zap.String("user_id", userID))
	}
	return ok, nil
}

// Release clears the lock unconditionally. Ownership is not re-verified: the
// protocol layer only routes release calls from the presumed owner, so a
// delayed release racing an expiry-and-reacquisition can clear another
// user's lock.
func (m *Manager) Release(ctx context.Context, roomID string, pos store.CellPos, userID string) error {
	m.log.Debug("releasing lock",
		zap.String("room_id", roomID),
		zap.Int("row", pos.Row),
		zap.Int("col", pos.Col),
		zap.String("user_id", userID))
	return m.store.ReleaseLock(ctx, roomID, pos)
}

// Snapshot lists the unexpired locks in a room.
func (m *Manager) Snapshot(ctx context.Context, roomID string) ([]store.Lock, error) {
	return m.store.Locks(ctx, roomID)
}
