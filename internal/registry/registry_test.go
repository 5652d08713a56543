package registry

import (
	"testing"
	"time"
)

func at(min int) time.Time {
	return time.Date(2026, 8, 24, 12, min, 0, 0, time.UTC)
}

func TestAllOrdersByStatusThenActivity(t *testing.T) {
	r := New()
	r.ReplaceAll([]Session{
		{ID: "idle-old", Status: StatusWaiting, LastActivityAt: at(0)},
		{ID: "busy", Status: StatusWorking, LastActivityAt: at(5)},
		{ID: "stuck", Status: StatusNeedsApproval, LastActivityAt: at(1)},
		{ID: "idle-new", Status: StatusWaiting, LastActivityAt: at(9)},
		{ID: "mystery", Status: StatusUnknown, LastActivityAt: at(30)},
	})

	got := r.All()
	want := []string{"stuck", "busy", "idle-new", "idle-old", "mystery"}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("position %d = %s, want %s (full: %v)", i, got[i].ID, id, ids(got))
		}
	}
}

func ids(sessions []Session) []string {
	out := make([]string, len(sessions))
	for i, s := range sessions {
		out[i] = s.ID
	}
	return out
}

func TestReplaceAllEmitsSessionsEvent(t *testing.T) {
	r := New()
	var events []Event
	r.Subscribe(func(ev Event) { events = append(events, ev) })

	r.ReplaceAll([]Session{{ID: "a", Status: StatusWorking}})
	if len(events) != 1 || events[0].Kind != EventSessions || len(events[0].Sessions) != 1 {
		t.Fatalf("events = %+v", events)
	}
}

func TestUpsertAndRemoveEvents(t *testing.T) {
	r := New()
	var kinds []string
	r.Subscribe(func(ev Event) { kinds = append(kinds, ev.Kind) })

	r.Upsert(Session{ID: "a", Status: StatusWorking})
	r.Remove("a")
	r.Remove("a") // second removal of a missing session is silent

	if len(kinds) != 2 || kinds[0] != EventSessionUpdate || kinds[1] != EventSessionRemoved {
		t.Fatalf("kinds = %v", kinds)
	}
}

func TestSetStatusSkipsNoops(t *testing.T) {
	r := New()
	r.ReplaceAll([]Session{{ID: "a", Status: StatusWaiting}})

	var updates int
	r.Subscribe(func(ev Event) {
		if ev.Kind == EventSessionUpdate {
			updates++
		}
	})

	r.SetStatus("a", StatusWaiting) // unchanged
	r.SetStatus("a", StatusWorking)
	r.SetStatus("missing", StatusWorking)

	if updates != 1 {
		t.Fatalf("updates = %d, want 1", updates)
	}
	s, _ := r.Get("a")
	if s.Status != StatusWorking {
		t.Errorf("status = %s", s.Status)
	}
	if s.LastActivityAt.IsZero() {
		t.Error("transition to working should bump activity")
	}
}

func TestGetReturnsCopy(t *testing.T) {
	r := New()
	r.ReplaceAll([]Session{{ID: "a", Status: StatusWaiting, DisplayName: "one"}})
	s, ok := r.Get("a")
	if !ok {
		t.Fatal("missing session")
	}
	s.DisplayName = "mutated"
	again, _ := r.Get("a")
	if again.DisplayName != "one" {
		t.Error("Get must return a copy")
	}
}
