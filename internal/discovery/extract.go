package discovery

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/marcus/agentboard/internal/events"
)

const (
	// headerLineLimit bounds how many leading entries are inspected for
	// identity fields.
	headerLineLimit = 3
	// tailReadBytes bounds the trailing read used for lastUserMessage and
	// last-entry timestamps.
	tailReadBytes = 256 * 1024

	maxLineBytes = 10 * 1024 * 1024
)

// Meta is the identity tuple extracted from a transcript.
type Meta struct {
	Path            string
	SessionID       string // raw id from the transcript header
	LogicalID       string // family-prefixed id used as the store key
	ProjectPath     string
	Slug            string
	Family          AgentFamily
	IsSubagent      bool
	IsExec          bool
	LastUserMessage string
}

// headerEntry covers the identity fields of both claude and codex headers.
type headerEntry struct {
	SessionID string `json:"sessionId"`
	CWD       string `json:"cwd"`
	Slug      string `json:"slug"`
	Type      string `json:"type"`
	Payload   *struct {
		ID         string `json:"id"`
		CWD        string `json:"cwd"`
		Source     string `json:"source"`
		Originator string `json:"originator"`
	} `json:"payload"`
}

// ExtractMeta reads the first few entries of a transcript (and its tail, for
// lastUserMessage) and returns the identity tuple. Any I/O or parse failure
// yields a Meta with empty fields rather than an error; scans must not abort
// on one bad file.
func (r Roots) ExtractMeta(path string) Meta {
	meta := Meta{Path: path, Family: r.FamilyForPath(path)}
	if meta.Family == FamilyUnknown && strings.HasSuffix(path, ".jsonl") {
		// Paths handed in from outside the roots (tests, relocated dirs)
		// still get header extraction.
		meta.Family = FamilyClaude
	}

	f, err := os.Open(path)
	if err != nil {
		return meta
	}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	for i := 0; i < headerLineLimit && scanner.Scan(); i++ {
		var entry headerEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		if meta.Slug == "" && entry.Slug != "" {
			meta.Slug = entry.Slug
		}
		switch meta.Family {
		case FamilyCodex:
			if entry.Type == "session_meta" && entry.Payload != nil {
				if meta.SessionID == "" {
					meta.SessionID = entry.Payload.ID
				}
				if meta.ProjectPath == "" {
					meta.ProjectPath = entry.Payload.CWD
				}
				src := entry.Payload.Source
				meta.IsSubagent = meta.IsSubagent || strings.Contains(src, "subagent")
				meta.IsExec = meta.IsExec || src == "exec" || entry.Payload.Originator == "codex_exec"
			}
		default:
			if meta.SessionID == "" && entry.SessionID != "" {
				meta.SessionID = entry.SessionID
			}
			if meta.ProjectPath == "" && entry.CWD != "" {
				meta.ProjectPath = entry.CWD
			}
		}
	}
	_ = f.Close()

	if meta.SessionID == "" {
		meta.SessionID = fallbackSessionID(path)
	}
	meta.LogicalID = string(meta.Family) + "-" + meta.SessionID
	meta.LastUserMessage = LastUserMessage(path)
	return meta
}

// fallbackSessionID derives an id for transcripts whose header carries none:
// the filename stem when it looks like an id, otherwise a fresh uuid.
func fallbackSessionID(path string) string {
	stem := strings.TrimSuffix(filepath.Base(path), ".jsonl")
	if stem != "" {
		return stem
	}
	return uuid.NewString()
}

// RefreshExecFlag re-reads just the header of a codex transcript to settle the
// exec/subagent classification. Used by the known-sessions fast path when the
// cached record predates exec detection.
func (r Roots) RefreshExecFlag(path string) (isExec, isSubagent bool) {
	f, err := os.Open(path)
	if err != nil {
		return false, false
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for i := 0; i < headerLineLimit && scanner.Scan(); i++ {
		var entry headerEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		if entry.Type == "session_meta" && entry.Payload != nil {
			src := entry.Payload.Source
			return src == "exec" || entry.Payload.Originator == "codex_exec",
				strings.Contains(src, "subagent")
		}
	}
	return false, false
}

// LastUserMessage scans the transcript tail backwards for the most recent
// user-role message text.
func LastUserMessage(path string) string {
	lines, err := ReadTailLines(path, tailReadBytes)
	if err != nil {
		return ""
	}
	for i := len(lines) - 1; i >= 0; i-- {
		for _, ev := range events.ParseLine([]byte(lines[i])) {
			if ev.Kind == events.KindMessage && ev.Role == "user" && ev.Text != "" {
				return ev.Text
			}
		}
	}
	return ""
}

// toolNotificationPrefixes identify user-role entries the CLIs synthesise
// around tool execution and local commands. They are not text the user typed
// and must never surface as a session's last user message.
var toolNotificationPrefixes = []string{
	"[Tool:",
	"[Request interrupted",
	"<command-name>",
	"<local-command-stdout>",
	"<system-reminder>",
	"Caveat: the messages below",
}

// IsToolNotification reports whether a user-role message is CLI-synthesised
// tool chatter rather than typed input.
func IsToolNotification(msg string) bool {
	trimmed := strings.TrimSpace(msg)
	for _, p := range toolNotificationPrefixes {
		if strings.HasPrefix(trimmed, p) {
			return true
		}
	}
	return false
}

// ReadTailLines reads up to maxBytes from the end of a file and returns the
// complete lines. A partial first line after the seek point is dropped.
func ReadTailLines(path string, maxBytes int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := info.Size()
	if size == 0 {
		return nil, nil
	}

	start := int64(0)
	if size > int64(maxBytes) {
		start = size - int64(maxBytes)
	}
	if start > 0 {
		if _, err := f.Seek(start, io.SeekStart); err != nil {
			return nil, err
		}
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}

	lines := strings.Split(string(data), "\n")
	if start > 0 && len(lines) > 0 {
		lines = lines[1:]
	}
	return lines, nil
}

// timestampEntry covers the known timestamp carriers.
type timestampEntry struct {
	Timestamp string `json:"timestamp"`
	Payload   *struct {
		Timestamp string `json:"timestamp"`
	} `json:"payload"`
}

// ExtractLastEntryTimestamp parses the transcript's last JSON line for a
// timestamp field. Returns the zero time when none parses; callers fall back
// to the file mtime, which backup and sync tooling can skew.
func ExtractLastEntryTimestamp(path string) time.Time {
	lines, err := ReadTailLines(path, tailReadBytes)
	if err != nil {
		return time.Time{}
	}
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		var entry timestampEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		candidates := []string{entry.Timestamp}
		if entry.Payload != nil {
			candidates = append(candidates, entry.Payload.Timestamp)
		}
		for _, c := range candidates {
			if c == "" {
				continue
			}
			if ts, err := time.Parse(time.RFC3339Nano, c); err == nil {
				return ts
			}
			if ts, err := time.Parse(time.RFC3339, c); err == nil {
				return ts
			}
		}
		return time.Time{}
	}
	return time.Time{}
}
