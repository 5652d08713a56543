package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/marcus/agentboard/internal/registry"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleSession(id string) *registry.Session {
	return &registry.Session{
		ID:             id,
		AgentFamily:    "claude",
		LogFilePath:    "/logs/" + id + ".jsonl",
		ProjectPath:    "/home/u/proj",
		Slug:           "starry-leaping-orbit",
		DisplayName:    id,
		Status:         registry.StatusWaiting,
		LastActivityAt: time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC),
	}
}

func TestUpsertAndGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	in := sampleSession("claude-abc")
	in.IsPinned = true
	in.IsCodexExec = true
	in.LastKnownLogSize = 4096
	in.TokenCount = 1234
	in.LastUserMessage = "fix the tests"

	if err := s.Upsert(in); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get("claude-abc")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("session not found")
	}
	if got.LogFilePath != in.LogFilePath || got.Slug != in.Slug ||
		!got.IsPinned || !got.IsCodexExec ||
		got.LastKnownLogSize != 4096 || got.TokenCount != 1234 ||
		got.LastUserMessage != "fix the tests" ||
		!got.LastActivityAt.Equal(in.LastActivityAt) {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Error("created_at should be stamped on first insert")
	}
}

func TestGetMissingIsNil(t *testing.T) {
	s := newTestStore(t)
	got, err := s.Get("nope")
	if err != nil || got != nil {
		t.Fatalf("got %v, %v; want nil, nil", got, err)
	}
}

func TestUpsertReplacesFields(t *testing.T) {
	s := newTestStore(t)
	in := sampleSession("claude-abc")
	if err := s.Upsert(in); err != nil {
		t.Fatal(err)
	}
	in.Status = registry.StatusWorking
	in.LastKnownLogSize = 9000
	if err := s.Upsert(in); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Get("claude-abc")
	if got.Status != registry.StatusWorking || got.LastKnownLogSize != 9000 {
		t.Errorf("update not applied: %+v", got)
	}
}

func TestLookupsByPathWindowAndSlug(t *testing.T) {
	s := newTestStore(t)
	a := sampleSession("claude-a")
	a.CurrentWindow = "main:@1"
	b := sampleSession("claude-b")
	b.Slug = "other-slug"
	b.LastActivityAt = a.LastActivityAt.Add(time.Hour)
	for _, sess := range []*registry.Session{a, b} {
		if err := s.Upsert(sess); err != nil {
			t.Fatal(err)
		}
	}

	byPath, _ := s.GetByLogPath("/logs/claude-a.jsonl")
	if byPath == nil || byPath.ID != "claude-a" {
		t.Errorf("by path: %+v", byPath)
	}
	byWin, _ := s.GetByWindow("main:@1")
	if byWin == nil || byWin.ID != "claude-a" {
		t.Errorf("by window: %+v", byWin)
	}
	bySlug, _ := s.GetBySlugProject("starry-leaping-orbit", "/home/u/proj")
	if bySlug == nil || bySlug.ID != "claude-a" {
		t.Errorf("by slug: %+v", bySlug)
	}
	if none, _ := s.GetBySlugProject("", "/home/u/proj"); none != nil {
		t.Error("empty slug must not match")
	}
}

func TestClaimWindowIsExclusive(t *testing.T) {
	s := newTestStore(t)
	a := sampleSession("claude-a")
	b := sampleSession("claude-b")
	for _, sess := range []*registry.Session{a, b} {
		if err := s.Upsert(sess); err != nil {
			t.Fatal(err)
		}
	}

	if err := s.ClaimWindow("claude-a", "main:@1"); err != nil {
		t.Fatal(err)
	}
	if err := s.ClaimWindow("claude-b", "main:@1"); err != nil {
		t.Fatal(err)
	}

	gotA, _ := s.Get("claude-a")
	gotB, _ := s.Get("claude-b")
	if gotA.CurrentWindow != "" {
		t.Errorf("claude-a should have lost the window, has %q", gotA.CurrentWindow)
	}
	if gotB.CurrentWindow != "main:@1" {
		t.Errorf("claude-b should hold the window, has %q", gotB.CurrentWindow)
	}
}

func TestAttachedOrphanedPartition(t *testing.T) {
	s := newTestStore(t)
	a := sampleSession("claude-a")
	a.CurrentWindow = "main:@1"
	b := sampleSession("claude-b")
	for _, sess := range []*registry.Session{a, b} {
		if err := s.Upsert(sess); err != nil {
			t.Fatal(err)
		}
	}

	attached, _ := s.Attached()
	orphaned, _ := s.Orphaned()
	if len(attached) != 1 || attached[0].ID != "claude-a" {
		t.Errorf("attached = %+v", attached)
	}
	if len(orphaned) != 1 || orphaned[0].ID != "claude-b" {
		t.Errorf("orphaned = %+v", orphaned)
	}
}

func TestDisplayNameTaken(t *testing.T) {
	s := newTestStore(t)
	a := sampleSession("claude-a")
	a.DisplayName = "refactor"
	if err := s.Upsert(a); err != nil {
		t.Fatal(err)
	}

	taken, err := s.DisplayNameTaken("refactor", "claude-b")
	if err != nil || !taken {
		t.Errorf("got %v, %v; want true, nil", taken, err)
	}
	self, _ := s.DisplayNameTaken("refactor", "claude-a")
	if self {
		t.Error("a session's own name is not a conflict")
	}
}

func TestDeleteAndRelease(t *testing.T) {
	s := newTestStore(t)
	a := sampleSession("claude-a")
	a.CurrentWindow = "main:@1"
	if err := s.Upsert(a); err != nil {
		t.Fatal(err)
	}

	if err := s.ReleaseWindow("claude-a"); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Get("claude-a")
	if got.CurrentWindow != "" {
		t.Error("window claim should be cleared")
	}

	if err := s.Delete("claude-a"); err != nil {
		t.Fatal(err)
	}
	if got, _ := s.Get("claude-a"); got != nil {
		t.Error("session should be gone")
	}
}

func TestAcquireLockIsExclusive(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "x.db")
	fl, err := AcquireLock(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer fl.Unlock()

	if _, err := AcquireLock(dbPath); err == nil {
		t.Fatal("second lock acquisition should fail")
	}
}
