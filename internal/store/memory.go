package store

import (
	"context"
	"sync"
	"time"
)

const subscriberBuffer = 256

type memLock struct {
	owner     string
	expiresAt time.Time
}

// Memory implements Store in-process. It backs single-node deployments and
// tests; the lock expiry check mirrors the conditional-set the redis backend
// gets from SET NX with TTL.
type Memory struct {
	mu         sync.RWMutex
	cells      map[string]map[CellPos]string
	locks      map[string]map[CellPos]memLock
	presence   map[string]map[string]Presence
	selections map[string]map[string]Selection
	subs       map[int]chan Event
	nextSub    int
	closed     bool
	nowFn      func() time.Time
}

// NewMemory builds an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		cells:      make(map[string]map[CellPos]string),
		locks:      make(map[string]map[CellPos]memLock),
		presence:   make(map[string]map[string]Presence),
		selections: make(map[string]map[string]Selection),
		subs:       make(map[int]chan Event),
		nowFn:      time.Now,
	}
}

func (m *Memory) SetCell(_ context.Context, roomID string, pos CellPos, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.cells[roomID]
	if !ok {
		room = make(map[CellPos]string)
		m.cells[roomID] = room
	}
	if value == "" {
		delete(room, pos)
		return nil
	}
	room[pos] = value
	return nil
}

func (m *Memory) Cells(_ context.Context, roomID string) ([]Cell, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	room := m.cells[roomID]
	cells := make([]Cell, 0, len(room))
	for pos, value := range room {
		cells = append(cells, Cell{Pos: pos, Value: value})
	}
	sortCells(cells)
	return cells, nil
}

func (m *Memory) AcquireLock(_ context.Context, roomID string, pos CellPos, userID string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowFn()
	room, ok := m.locks[roomID]
	if !ok {
		room = make(map[CellPos]memLock)
		m.locks[roomID] = room
	}
	if existing, held := room[pos]; held && existing.expiresAt.After(now) {
		return false, nil
	}
	room[pos] = memLock{owner: userID, expiresAt: now.Add(ttl)}
	return true, nil
}

func (m *Memory) ReleaseLock(_ context.Context, roomID string, pos CellPos) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks[roomID], pos)
	return nil
}

func (m *Memory) Locks(_ context.Context, roomID string) ([]Lock, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.nowFn()
	var locks []Lock
	for pos, l := range m.locks[roomID] {
		if !l.expiresAt.After(now) {
			continue
		}
		locks = append(locks, Lock{Pos: pos, Owner: l.owner})
	}
	sortLocks(locks)
	return locks, nil
}

func (m *Memory) UpsertPresence(_ context.Context, roomID string, p Presence) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.presence[roomID]
	if !ok {
		room = make(map[string]Presence)
		m.presence[roomID] = room
	}
	room[p.UserID] = p
	return nil
}

func (m *Memory) RemovePresence(_ context.Context, roomID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.presence[roomID], userID)
	return nil
}

func (m *Memory) ListPresence(_ context.Context, roomID string) ([]Presence, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	room := m.presence[roomID]
	out := make([]Presence, 0, len(room))
	for _, p := range room {
		out = append(out, p)
	}
	sortPresence(out)
	return out, nil
}

func (m *Memory) UpsertSelection(_ context.Context, roomID string, sel Selection) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.selections[roomID]
	if !ok {
		room = make(map[string]Selection)
		m.selections[roomID] = room
	}
	room[sel.UserID] = sel
	return nil
}

func (m *Memory) RemoveSelection(_ context.Context, roomID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.selections[roomID], userID)
	return nil
}

func (m *Memory) ListSelections(_ context.Context, roomID string) ([]Selection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	room := m.selections[roomID]
	out := make([]Selection, 0, len(room))
	for _, sel := range room {
		out = append(out, sel)
	}
	sortSelections(out)
	return out, nil
}

func (m *Memory) Publish(_ context.Context, roomID string, payload []byte) error {
	event := Event{RoomID: roomID, Payload: append([]byte(nil), payload...)}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, sub := range m.subs {
		// A subscriber that falls subscriberBuffer events behind loses
		// events, matching pub/sub delivery semantics.
		select {
		case sub <- event:
		default:
		}
	}
	return nil
}

func (m *Memory) Subscribe(ctx context.Context) (<-chan Event, error) {
	ch := make(chan Event, subscriberBuffer)

	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
