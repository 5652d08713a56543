package events

import (
	"testing"
)

func TestParseLineClaudeStringContent(t *testing.T) {
	line := `{"type":"user","message":{"role":"user","content":"fix the tests"}}`
	evs := ParseLine([]byte(line))
	if len(evs) != 1 {
		t.Fatalf("expected 1 event, got %d", len(evs))
	}
	if evs[0].Kind != KindMessage || evs[0].Role != "user" || evs[0].Text != "fix the tests" {
		t.Errorf("unexpected event: %+v", evs[0])
	}
}

func TestParseLineClaudeBlockContent(t *testing.T) {
	line := `{"type":"assistant","message":{"role":"assistant","content":[` +
		`{"type":"text","text":"running the build"},` +
		`{"type":"tool_use","id":"tu_1","name":"Bash","input":{"command":"go build"}}]}}`
	evs := ParseLine([]byte(line))
	if len(evs) != 2 {
		t.Fatalf("expected 2 events, got %d: %+v", len(evs), evs)
	}
	if evs[0].Kind != KindMessage || evs[0].Text != "running the build" {
		t.Errorf("unexpected text event: %+v", evs[0])
	}
	if evs[1].Kind != KindToolCall || evs[1].Text != "[Tool: Bash]" {
		t.Errorf("unexpected tool event: %+v", evs[1])
	}
}

func TestParseLineClaudeStopReasonToolUse(t *testing.T) {
	line := `{"type":"assistant","message":{"role":"assistant","stop_reason":"tool_use"}}`
	evs := ParseLine([]byte(line))
	if len(evs) != 1 || evs[0].Kind != KindToolCall {
		t.Fatalf("expected a tool call event, got %+v", evs)
	}
}

func TestParseLineCodexResponseItem(t *testing.T) {
	line := `{"type":"response_item","payload":{"type":"message","role":"assistant",` +
		`"content":[{"type":"output_text","text":"done"},{"type":"text","text":"next steps"}]}}`
	evs := ParseLine([]byte(line))
	if len(evs) != 1 {
		t.Fatalf("expected 1 event, got %d", len(evs))
	}
	if evs[0].Role != "assistant" || evs[0].Text != "done\nnext steps" {
		t.Errorf("unexpected event: %+v", evs[0])
	}
	if evs[0].Source != "codex.response_item" {
		t.Errorf("unexpected source %q", evs[0].Source)
	}
}

func TestParseLineCodexUserMessage(t *testing.T) {
	line := `{"type":"event_msg","payload":{"type":"user_message","message":"hello there"}}`
	evs := ParseLine([]byte(line))
	if len(evs) != 1 || evs[0].Role != "user" || evs[0].Text != "hello there" {
		t.Fatalf("unexpected events: %+v", evs)
	}
}

func TestParseLineToolResultHasNoText(t *testing.T) {
	line := `{"type":"tool_result","content":"giant output blob"}`
	evs := ParseLine([]byte(line))
	if len(evs) != 1 || evs[0].Kind != KindToolResult {
		t.Fatalf("unexpected events: %+v", evs)
	}
	if evs[0].Text != "" {
		t.Errorf("tool_result text should be empty, got %q", evs[0].Text)
	}
}

func TestParseLineResultEntry(t *testing.T) {
	line := `{"type":"result","result":"task completed"}`
	evs := ParseLine([]byte(line))
	if len(evs) != 1 || evs[0].Kind != KindSystemOther || evs[0].Text != "task completed" {
		t.Fatalf("unexpected events: %+v", evs)
	}
}

func TestParseLineTurnDuration(t *testing.T) {
	line := `{"type":"system","subtype":"turn_duration","durationMs":1234}`
	evs := ParseLine([]byte(line))
	if len(evs) != 1 || evs[0].Kind != KindTurnEnd {
		t.Fatalf("unexpected events: %+v", evs)
	}
}

func TestParseLineFallback(t *testing.T) {
	line := `{"content":"orphan text with no type"}`
	evs := ParseLine([]byte(line))
	if len(evs) != 1 || evs[0].Source != "fallback" || evs[0].Text != "orphan text with no type" {
		t.Fatalf("unexpected events: %+v", evs)
	}
}

func TestParseLineGarbage(t *testing.T) {
	for _, line := range []string{"", "   ", "not json", "[1,2,3]", `{"type":`} {
		if evs := ParseLine([]byte(line)); evs != nil {
			t.Errorf("line %q: expected nil, got %+v", line, evs)
		}
	}
}
