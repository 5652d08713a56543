package discovery

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testRoots(t *testing.T) Roots {
	t.Helper()
	dir := t.TempDir()
	return Roots{
		Claude: filepath.Join(dir, "claude"),
		Codex:  filepath.Join(dir, "codex"),
		Pi:     filepath.Join(dir, "pi"),
	}
}

func writeLog(t *testing.T, path string, lines ...string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	paths := []string{
		"/tmp/alpha",
		"/Users/dev/code/project",
		"/home/user/src/nested/deep/tree",
	}
	for _, p := range paths {
		if got := DecodeProjectPath(EncodeProjectPath(p)); got != p {
			t.Errorf("round trip %q: got %q", p, got)
		}
	}
}

func TestIsToolNotification(t *testing.T) {
	cases := []struct {
		msg  string
		want bool
	}{
		{"please fix the tests", false},
		{"[Tool: Bash]", true},
		{"<command-name>/clear</command-name>", true},
		{"  <local-command-stdout>ok</local-command-stdout>", true},
		{"[Request interrupted by user]", true},
		{"Caveat: the messages below were generated while running local commands", true},
		{"what does [Tool: mean in this context", false},
	}
	for _, tc := range cases {
		if got := IsToolNotification(tc.msg); got != tc.want {
			t.Errorf("IsToolNotification(%q) = %v, want %v", tc.msg, got, tc.want)
		}
	}
}

func TestDecodeRecoversDashedPath(t *testing.T) {
	base := t.TempDir()
	project := filepath.Join(base, "my-proj")
	if err := os.MkdirAll(project, 0755); err != nil {
		t.Fatal(err)
	}

	got := DecodeProjectPath(EncodeProjectPath(project))
	if got != project {
		t.Errorf("got %q, want %q", got, project)
	}
}

func TestDecodeFallsBackWhenPathMissing(t *testing.T) {
	got := DecodeProjectPath("-nowhere-at-all-proj")
	if got != "/nowhere/at/all/proj" {
		t.Errorf("got %q", got)
	}
}

func TestScanFindsJSONLAcrossRoots(t *testing.T) {
	r := testRoots(t)
	writeLog(t, filepath.Join(r.Claude, "projects", "-tmp-alpha", "s1.jsonl"), `{"type":"user"}`)
	writeLog(t, filepath.Join(r.Codex, "sessions", "2026", "08", "24", "s2.jsonl"), `{"type":"session_meta"}`)
	writeLog(t, filepath.Join(r.Pi, "sessions", "proj", "s3.jsonl"), `{"type":"user"}`)
	// Excluded: wrong extension and subagents directory.
	writeLog(t, filepath.Join(r.Claude, "projects", "-tmp-alpha", "notes.txt"), "x")
	writeLog(t, filepath.Join(r.Claude, "projects", "-tmp-alpha", "s1", "subagents", "agent-1.jsonl"), `{"type":"user"}`)

	paths := r.Scan()
	if len(paths) != 3 {
		t.Fatalf("expected 3 paths, got %d: %v", len(paths), paths)
	}
	for _, p := range paths {
		if IsSubagentPath(p) {
			t.Errorf("subagent path leaked into scan: %s", p)
		}
	}
}

func TestScanSortsByMtimeDescending(t *testing.T) {
	r := testRoots(t)
	older := filepath.Join(r.Claude, "projects", "-tmp-a", "old.jsonl")
	newer := filepath.Join(r.Claude, "projects", "-tmp-a", "new.jsonl")
	writeLog(t, older, `{}`)
	writeLog(t, newer, `{}`)
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(older, past, past); err != nil {
		t.Fatal(err)
	}

	paths := r.Scan()
	if len(paths) != 2 || paths[0] != newer {
		t.Fatalf("expected newest first, got %v", paths)
	}
}

func TestExtractMetaClaude(t *testing.T) {
	r := testRoots(t)
	path := filepath.Join(r.Claude, "projects", "-tmp-alpha", "abc123.jsonl")
	writeLog(t, path,
		`{"type":"user","sessionId":"abc123","cwd":"/tmp/alpha","slug":"starry-leaping-orbit","message":{"role":"user","content":"add a flag"}}`,
		`{"type":"assistant","message":{"role":"assistant","content":"done"}}`,
	)

	meta := r.ExtractMeta(path)
	if meta.SessionID != "abc123" {
		t.Errorf("sessionID = %q", meta.SessionID)
	}
	if meta.LogicalID != "claude-abc123" {
		t.Errorf("logicalID = %q", meta.LogicalID)
	}
	if meta.ProjectPath != "/tmp/alpha" {
		t.Errorf("projectPath = %q", meta.ProjectPath)
	}
	if meta.Slug != "starry-leaping-orbit" {
		t.Errorf("slug = %q", meta.Slug)
	}
	if meta.Family != FamilyClaude {
		t.Errorf("family = %q", meta.Family)
	}
	if meta.LastUserMessage != "add a flag" {
		t.Errorf("lastUserMessage = %q", meta.LastUserMessage)
	}
}

func TestExtractMetaCodexExec(t *testing.T) {
	r := testRoots(t)
	path := filepath.Join(r.Codex, "sessions", "2026", "08", "24", "rollout-1.jsonl")
	writeLog(t, path,
		`{"type":"session_meta","payload":{"id":"cdx-9","cwd":"/tmp/beta","source":"exec","originator":"codex_exec"}}`,
		`{"type":"event_msg","payload":{"type":"user_message","message":"run the suite"}}`,
	)

	meta := r.ExtractMeta(path)
	if meta.SessionID != "cdx-9" || meta.Family != FamilyCodex {
		t.Errorf("meta = %+v", meta)
	}
	if !meta.IsExec {
		t.Error("expected isExec")
	}
	if meta.IsSubagent {
		t.Error("unexpected isSubagent")
	}
	if meta.ProjectPath != "/tmp/beta" {
		t.Errorf("projectPath = %q", meta.ProjectPath)
	}
	if meta.LastUserMessage != "run the suite" {
		t.Errorf("lastUserMessage = %q", meta.LastUserMessage)
	}
}

func TestExtractMetaFallbackSessionID(t *testing.T) {
	r := testRoots(t)
	path := filepath.Join(r.Claude, "projects", "-tmp-a", "stem-name.jsonl")
	writeLog(t, path, `{"type":"user","message":{"role":"user","content":"hi"}}`)

	meta := r.ExtractMeta(path)
	if meta.SessionID != "stem-name" {
		t.Errorf("sessionID = %q, want filename stem", meta.SessionID)
	}
}

func TestExtractMetaMissingFile(t *testing.T) {
	r := testRoots(t)
	meta := r.ExtractMeta(filepath.Join(r.Claude, "projects", "-x", "nope.jsonl"))
	if meta.SessionID != "nope" {
		t.Errorf("sessionID = %q", meta.SessionID)
	}
	if meta.ProjectPath != "" || meta.Slug != "" {
		t.Errorf("expected empty fields, got %+v", meta)
	}
}

func TestExtractLastEntryTimestamp(t *testing.T) {
	r := testRoots(t)
	path := filepath.Join(r.Claude, "projects", "-tmp-a", "ts.jsonl")
	writeLog(t, path,
		`{"type":"user","timestamp":"2026-08-20T10:00:00Z"}`,
		`{"type":"assistant","timestamp":"2026-08-20T10:05:30Z"}`,
	)
	ts := ExtractLastEntryTimestamp(path)
	want := time.Date(2026, 8, 20, 10, 5, 30, 0, time.UTC)
	if !ts.Equal(want) {
		t.Errorf("timestamp = %v, want %v", ts, want)
	}
}

func TestExtractLastEntryTimestampCodexPayload(t *testing.T) {
	r := testRoots(t)
	path := filepath.Join(r.Codex, "sessions", "2026", "08", "24", "ts.jsonl")
	writeLog(t, path,
		`{"type":"response_item","payload":{"timestamp":"2026-08-21T09:00:00.250Z"}}`,
	)
	ts := ExtractLastEntryTimestamp(path)
	if ts.IsZero() {
		t.Fatal("expected parsed timestamp")
	}
	if ts.Second() != 0 || ts.Nanosecond() != 250_000_000 {
		t.Errorf("timestamp = %v", ts)
	}
}

func TestExtractLastEntryTimestampUnparseable(t *testing.T) {
	r := testRoots(t)
	path := filepath.Join(r.Claude, "projects", "-tmp-a", "bad.jsonl")
	writeLog(t, path, `{"type":"user","timestamp":"not a time"}`)
	if ts := ExtractLastEntryTimestamp(path); !ts.IsZero() {
		t.Errorf("expected zero time, got %v", ts)
	}
}

func TestRefreshExecFlag(t *testing.T) {
	r := testRoots(t)
	path := filepath.Join(r.Codex, "sessions", "2026", "08", "24", "sub.jsonl")
	writeLog(t, path,
		`{"type":"session_meta","payload":{"id":"c1","cwd":"/tmp","source":"subagent_tool"}}`,
	)
	isExec, isSubagent := r.RefreshExecFlag(path)
	if isExec {
		t.Error("unexpected exec flag")
	}
	if !isSubagent {
		t.Error("expected subagent flag")
	}
}
