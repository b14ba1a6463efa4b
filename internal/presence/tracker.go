// Package presence tracks active users and cursor selections per room, with
// grace-window deferred removal on disconnect.
package presence

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/gridwire/gridwire/internal/store"
	"go.uber.org/zap"
)

// DefaultGrace is how long a disconnected user's presence survives in case
// the same user reconnects, avoiding spurious join/leave churn.
const DefaultGrace = 5 * time.Second

// palette is the fixed set of cursor colors. A user's color is a pure
// function of the user name so it survives reconnects without the server
// assigning identity.
var palette = []string{
	"#e6194b", "#3cb44b", "#ffe119", "#4363d8", "#f58231",
	"#911eb4", "#46f0f0", "#f032e6", "#bcf60c", "#fabebe",
	"#008080", "#e6beff", "#9a6324", "#800000", "#aaffc3",
}

// ColorFor derives the stable cursor color for a user name.
func ColorFor(userName string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userName))
	return palette[h.Sum32()%uint32(len(palette))]
}

// Tracker owns presence and selection state in the shared store plus the
// local grace timers for deferred removal. All store operations are
// idempotent upserts or deletes.
type Tracker struct {
	store store.Store
	grace time.Duration
	log   *zap.Logger

	mu      sync.Mutex
	pending map[graceKey]*time.Timer
}

type graceKey struct {
	roomID string
	userID string
}

// NewTracker builds a tracker; zero grace means DefaultGrace.
func NewTracker(st store.Store, grace time.Duration, log *zap.Logger) *Tracker {
	if grace <= 0 {
		grace = DefaultGrace
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{
		store:   st,
		grace:   grace,
		log:     log,
		pending: make(map[graceKey]*time.Timer),
	}
}

// Join upserts the user's presence entry and reports whether the user was
// already present, which distinguishes a reconnect within the grace window
// from a fresh join.
func (t *Tracker) Join(ctx context.Context, roomID string, p store.Presence) (alreadyPresent bool, err error) {
	existing, err := t.store.ListPresence(ctx, roomID)
	if err != nil {
		return false, err
	}
	for _, entry := range existing {
		if entry.UserID == p.UserID {
			alreadyPresent = true
			break
		}
	}
	if err := t.store.UpsertPresence(ctx, roomID, p); err != nil {
		return false, err
	}
	return alreadyPresent, nil
}

// Leave removes the user's presence and selection immediately.
func (t *Tracker) Leave(ctx context.Context, roomID, userID string) error {
	if err := t.store.RemovePresence(ctx, roomID, userID); err != nil {
		return err
	}
	return t.store.RemoveSelection(ctx, roomID, userID)
}

// ListActive returns every presence entry except excludeUserID.
func (t *Tracker) ListActive(ctx context.Context, roomID, excludeUserID string) ([]store.Presence, error) {
	entries, err := t.store.ListPresence(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return filterPresence(entries, excludeUserID), nil
}

// SetSelection upserts the user's cursor position, stamping the stable
// color. Repeated selections by the same user overwrite, never duplicate.
func (t *Tracker) SetSelection(ctx context.Context, roomID string, sel store.Selection) (store.Selection, error) {
	sel.Color = ColorFor(sel.UserName)
	if err := t.store.UpsertSelection(ctx, roomID, sel); err != nil {
		return store.Selection{}, err
	}
	return sel, nil
}

// ClearSelection removes the user's cursor position.
func (t *Tracker) ClearSelection(ctx context.Context, roomID, userID string) error {
	return t.store.RemoveSelection(ctx, roomID, userID)
}

// ListSelections returns every selection except excludeUserID's.
func (t *Tracker) ListSelections(ctx context.Context, roomID, excludeUserID string) ([]store.Selection, error) {
	entries, err := t.store.ListSelections(ctx, roomID)
	if err != nil {
		return nil, err
	}
	out := entries[:0]
	for _, sel := range entries {
		if sel.UserID != excludeUserID {
			out = append(out, sel)
		}
	}
	return out, nil
}

// ScheduleRemoval arms the grace timer for (roomID, userID). Any timer
// already pending for the same key is replaced. When the window elapses the
// callback runs once on the timer goroutine; the caller decides there
// whether the user reconnected in the meantime.
func (t *Tracker) ScheduleRemoval(roomID, userID string, expire func()) {
	key := graceKey{roomID: roomID, userID: userID}

	t.mu.Lock()
	defer t.mu.Unlock()

	if timer, ok := t.pending[key]; ok {
		timer.Stop()
	}
	t.pending[key] = time.AfterFunc(t.grace, func() {
		t.mu.Lock()
		delete(t.pending, key)
		t.mu.Unlock()
		expire()
	})
	t.log.Debug("grace timer armed",
		zap.String("room_id", roomID),
		zap.String("user_id", userID),
		zap.Duration("grace", t.grace))
}

// CancelRemoval disarms a pending grace timer, reporting whether one was
// pending. Reconnecting joins call this before re-registering.
func (t *Tracker) CancelRemoval(roomID, userID string) bool {
	key := graceKey{roomID: roomID, userID: userID}

	t.mu.Lock()
	defer t.mu.Unlock()

	timer, ok := t.pending[key]
	if !ok {
		return false
	}
	timer.Stop()
	delete(t.pending, key)
	return true
}

// Stop disarms every pending grace timer. Used on shutdown so timers do not
// leak past the tracker's lifetime.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, timer := range t.pending {
		timer.Stop()
		delete(t.pending, key)
	}
}

func filterPresence(entries []store.Presence, excludeUserID string) []store.Presence {
	out := entries[:0]
	for _, entry := range entries {
		if entry.UserID != excludeUserID {
			out = append(out, entry)
		}
	}
	return out
}
