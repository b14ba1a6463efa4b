package presence

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/gridwire/gridwire/internal/store"
)

func TestJoinReportsAlreadyPresent(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(store.NewMemory(), 0, zaptest.NewLogger(t))

	already, err := tr.Join(ctx, "r1", store.Presence{UserID: "u1", UserName: "Ada"})
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if already {
		t.Fatal("fresh join reported as already present")
	}

	already, err = tr.Join(ctx, "r1", store.Presence{UserID: "u1", UserName: "Ada"})
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if !already {
		t.Fatal("rejoin not reported as already present")
	}

	// Same user in a different room is a fresh join there.
	already, err = tr.Join(ctx, "r2", store.Presence{UserID: "u1", UserName: "Ada"})
	if err != nil {
		t.Fatalf("join r2: %v", err)
	}
	if already {
		t.Fatal("join in a second room reported as already present")
	}
}

func TestLeaveClearsPresenceAndSelection(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	tr := NewTracker(st, 0, zaptest.NewLogger(t))

	if _, err := tr.Join(ctx, "r1", store.Presence{UserID: "u1", UserName: "Ada"}); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := tr.SetSelection(ctx, "r1", store.Selection{UserID: "u1", UserName: "Ada", Row: 1, Col: 2}); err != nil {
		t.Fatalf("select: %v", err)
	}

	if err := tr.Leave(ctx, "r1", "u1"); err != nil {
		t.Fatalf("leave: %v", err)
	}

	users, err := st.ListPresence(ctx, "r1")
	if err != nil {
		t.Fatalf("list presence: %v", err)
	}
	if len(users) != 0 {
		t.Fatalf("presence survived leave: %+v", users)
	}
	sels, err := st.ListSelections(ctx, "r1")
	if err != nil {
		t.Fatalf("list selections: %v", err)
	}
	if len(sels) != 0 {
		t.Fatalf("selection survived leave: %+v", sels)
	}
}

func TestListActiveExcludesRequester(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(store.NewMemory(), 0, zaptest.NewLogger(t))

	for _, p := range []store.Presence{
		{UserID: "u1", UserName: "Ada"},
		{UserID: "u2", UserName: "Bob"},
	} {
		if _, err := tr.Join(ctx, "r1", p); err != nil {
			t.Fatalf("join %s: %v", p.UserID, err)
		}
	}

	active, err := tr.ListActive(ctx, "r1", "u1")
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 || active[0].UserID != "u2" {
		t.Fatalf("expected only u2, got %+v", active)
	}
}

func TestSetSelectionStampsColor(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(store.NewMemory(), 0, zaptest.NewLogger(t))

	sel, err := tr.SetSelection(ctx, "r1", store.Selection{UserID: "u1", UserName: "Ada", Row: 3, Col: 4})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if sel.Color == "" {
		t.Fatal("selection missing color")
	}
	if sel.Color != ColorFor("Ada") {
		t.Fatalf("color %s does not match ColorFor", sel.Color)
	}
}

func TestColorForIsStable(t *testing.T) {
	first := ColorFor("Ada")
	for i := 0; i < 10; i++ {
		if got := ColorFor("Ada"); got != first {
			t.Fatalf("color changed between calls: %s then %s", first, got)
		}
	}
	found := false
	for _, c := range palette {
		if c == first {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("color %s not in palette", first)
	}
}

func TestScheduleRemovalFiresOnce(t *testing.T) {
	tr := NewTracker(store.NewMemory(), 20*time.Millisecond, zaptest.NewLogger(t))
	defer tr.Stop()

	var fired atomic.Int32
	tr.ScheduleRemoval("r1", "u1", func() { fired.Add(1) })

	time.Sleep(100 * time.Millisecond)
	if got := fired.Load(); got != 1 {
		t.Fatalf("expected exactly one expiry, got %d", got)
	}
}

func TestCancelRemovalDisarms(t *testing.T) {
	tr := NewTracker(store.NewMemory(), 20*time.Millisecond, zaptest.NewLogger(t))
	defer tr.Stop()

	var fired atomic.Int32
	tr.ScheduleRemoval("r1", "u1", func() { fired.Add(1) })

	if !tr.CancelRemoval("r1", "u1") {
		t.Fatal("cancel reported no pending timer")
	}
	if tr.CancelRemoval("r1", "u1") {
		t.Fatal("second cancel reported a pending timer")
	}

	time.Sleep(100 * time.Millisecond)
	if got := fired.Load(); got != 0 {
		t.Fatalf("cancelled timer fired %d times", got)
	}
}

func TestScheduleRemovalReplacesPending(t *testing.T) {
	tr := NewTracker(store.NewMemory(), 30*time.Millisecond, zaptest.NewLogger(t))
	defer tr.Stop()

	var first, second atomic.Int32
	tr.ScheduleRemoval("r1", "u1", func() { first.Add(1) })
	tr.ScheduleRemoval("r1", "u1", func() { second.Add(1) })

	time.Sleep(120 * time.Millisecond)
	if got := first.Load(); got != 0 {
		t.Fatalf("replaced timer fired %d times", got)
	}
	if got := second.Load(); got != 1 {
		t.Fatalf("expected replacement to fire once, got %d", got)
	}
}
