package room

import (
	"testing"

	"go.uber.org/zap/zaptest"
)

// fakeSender records enqueued payloads; full simulates a saturated buffer.
type fakeSender struct {
	id       string
	full     bool
	payloads [][]byte
}

func (f *fakeSender) ID() string { return f.id }

func (f *fakeSender) Enqueue(payload []byte) bool {
	if f.full {
		return false
	}
	f.payloads = append(f.payloads, payload)
	return true
}

func add(r *Registry, s *fakeSender, roomID, userID string) {
	r.Add(s, ConnectionState{ConnID: s.id, UserID: userID, RoomID: roomID})
}

func TestBroadcastLocalExcludesSender(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t))
	a := &fakeSender{id: "c1"}
	b := &fakeSender{id: "c2"}
	other := &fakeSender{id: "c3"}
	add(r, a, "r1", "u1")
	add(r, b, "r1", "u2")
	add(r, other, "r2", "u3")

	delivered := r.BroadcastLocal("r1", []byte("hello"), "c1")
	if delivered != 1 {
		t.Fatalf("delivered %d, want 1", delivered)
	}
	if len(a.payloads) != 0 {
		t.Fatal("excluded connection received the broadcast")
	}
	if len(b.payloads) != 1 || string(b.payloads[0]) != "hello" {
		t.Fatalf("peer payloads: %q", b.payloads)
	}
	if len(other.payloads) != 0 {
		t.Fatal("connection in another room received the broadcast")
	}
}

func TestBroadcastLocalSkipsSaturated(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t))
	ok := &fakeSender{id: "c1"}
	stuck := &fakeSender{id: "c2", full: true}
	add(r, ok, "r1", "u1")
	add(r, stuck, "r1", "u2")

	delivered := r.BroadcastLocal("r1", []byte("x"), "")
	if delivered != 1 {
		t.Fatalf("delivered %d, want 1", delivered)
	}
}

func TestRemoveDropsEmptyRoom(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t))
	a := &fakeSender{id: "c1"}
	add(r, a, "r1", "u1")

	if r.Rooms() != 1 || r.Connections("r1") != 1 {
		t.Fatalf("rooms=%d connections=%d", r.Rooms(), r.Connections("r1"))
	}
	if !r.Remove("r1", "c1") {
		t.Fatal("remove reported absent connection")
	}
	if r.Remove("r1", "c1") {
		t.Fatal("second remove reported present connection")
	}
	if r.Rooms() != 0 {
		t.Fatalf("empty room not dropped, rooms=%d", r.Rooms())
	}
}

func TestHasUser(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t))
	a := &fakeSender{id: "c1"}
	add(r, a, "r1", "u1")

	if !r.HasUser("r1", "u1") {
		t.Fatal("expected u1 present in r1")
	}
	if r.HasUser("r1", "u2") {
		t.Fatal("unexpected user reported present")
	}
	if r.HasUser("r2", "u1") {
		t.Fatal("user reported present in wrong room")
	}

	r.Remove("r1", "c1")
	if r.HasUser("r1", "u1") {
		t.Fatal("removed connection still reported present")
	}
}
