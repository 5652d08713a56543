package match

import (
	"strings"

	"github.com/charmbracelet/x/ansi"

	"github.com/marcus/agentboard/internal/discovery"
	"github.com/marcus/agentboard/internal/events"
)

// Mode selects which roles contribute text.
type Mode string

const (
	ModeAll           Mode = "all"
	ModeUser          Mode = "user"
	ModeAssistant     Mode = "assistant"
	ModeAssistantUser Mode = "assistant-user"
)

const (
	// DefaultByteLimit caps how much of a transcript tail is read.
	DefaultByteLimit = 200 * 1024
	// DefaultLineLimit caps how many trailing lines are parsed.
	DefaultLineLimit = 2000
)

func (m Mode) accepts(role string) bool {
	switch m {
	case ModeUser:
		return role == "user"
	case ModeAssistant:
		return role == "assistant"
	case ModeAssistantUser:
		return role == "assistant" || role == "user"
	default:
		return true
	}
}

// ExtractLogText reads the transcript tail and joins the role-filtered message
// text. Non-JSON lines and tool results are skipped.
func ExtractLogText(path string, mode Mode, byteLimit, lineLimit int) string {
	if byteLimit <= 0 {
		byteLimit = DefaultByteLimit
	}
	if lineLimit <= 0 {
		lineLimit = DefaultLineLimit
	}
	lines, err := discovery.ReadTailLines(path, byteLimit)
	if err != nil {
		return ""
	}
	if len(lines) > lineLimit {
		lines = lines[len(lines)-lineLimit:]
	}

	var chunks []string
	for _, line := range lines {
		for _, ev := range events.ParseLine([]byte(line)) {
			if ev.Kind != events.KindMessage || ev.Text == "" {
				continue
			}
			if mode.accepts(ev.Role) {
				chunks = append(chunks, ev.Text)
			}
		}
	}
	return strings.Join(chunks, "\n")
}

// Exchange is a user/assistant text pair, each side possibly empty.
type Exchange struct {
	User      string
	Assistant string
}

// LastExchangeFromLog scans the tail backward for the most recent user text
// and the most recent assistant text, independently.
func LastExchangeFromLog(path string) Exchange {
	var ex Exchange
	lines, err := discovery.ReadTailLines(path, DefaultByteLimit)
	if err != nil {
		return ex
	}
	for i := len(lines) - 1; i >= 0 && (ex.User == "" || ex.Assistant == ""); i-- {
		for _, ev := range events.ParseLine([]byte(lines[i])) {
			if ev.Kind != events.KindMessage || ev.Text == "" {
				continue
			}
			switch ev.Role {
			case "user":
				if ex.User == "" {
					ex.User = ev.Text
				}
			case "assistant":
				if ex.Assistant == "" {
					ex.Assistant = ev.Text
				}
			}
		}
	}
	return ex
}

// Prompt and response markers drawn by the agent CLIs. The tool-call bullet
// prefixes distinguish "⏺ Bash(...)" style lines from real assistant text.
var (
	promptMarkers = []string{"❯", "›"}
	bulletMarkers = []string{"⏺", "•"}
	toolPrefixes  = []string{
		"Bash(", "Read(", "Write(", "Edit(", "Glob(", "Grep(", "Task(",
		"WebFetch(", "WebSearch(", "Update(", "Call(", "Search(", "List(",
	}
)

func isPromptLine(line string) bool {
	trimmed := strings.TrimSpace(ansi.Strip(line))
	for _, m := range promptMarkers {
		if strings.HasPrefix(trimmed, m) {
			return true
		}
	}
	return false
}

func bulletText(line string) (string, bool) {
	trimmed := strings.TrimSpace(ansi.Strip(line))
	for _, m := range bulletMarkers {
		if strings.HasPrefix(trimmed, m) {
			return strings.TrimSpace(strings.TrimPrefix(trimmed, m)), true
		}
	}
	return "", false
}

func isToolCallText(text string) bool {
	for _, p := range toolPrefixes {
		if strings.HasPrefix(text, p) {
			return true
		}
	}
	return false
}

// LastExchangeFromPane scans the trailing pane lines backwards for the two
// most recent prompt markers, takes the user text from the bottom prompt, and
// the assistant text from the first non-tool-call bullet between them up to
// the next bullet.
func LastExchangeFromPane(lines []string) Exchange {
	var ex Exchange

	bottom := -1
	top := -1
	for i := len(lines) - 1; i >= 0; i-- {
		if !isPromptLine(lines[i]) {
			continue
		}
		if bottom == -1 {
			bottom = i
		} else {
			top = i
			break
		}
	}
	if bottom == -1 {
		return ex
	}

	promptLine := strings.TrimSpace(ansi.Strip(lines[bottom]))
	for _, m := range promptMarkers {
		promptLine = strings.TrimPrefix(promptLine, m)
	}
	ex.User = strings.TrimSpace(promptLine)

	start := 0
	if top >= 0 {
		start = top
	}
	for i := start; i < bottom; i++ {
		text, ok := bulletText(lines[i])
		if !ok || isToolCallText(text) {
			continue
		}
		// Collect continuation lines up to the next bullet or prompt.
		parts := []string{text}
		for j := i + 1; j < bottom; j++ {
			if _, isBullet := bulletText(lines[j]); isBullet || isPromptLine(lines[j]) {
				break
			}
			if cleaned := CleanLine(lines[j]); cleaned != "" {
				parts = append(parts, cleaned)
			}
		}
		ex.Assistant = strings.Join(parts, "\n")
		break
	}
	return ex
}
