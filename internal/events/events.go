// Package events normalises heterogeneous agent transcript JSONL lines into a
// single event shape. Each vendor writes a different envelope; a fixed set of
// adapter functions keyed by the top-level type (and codex payload type) lifts
// role-tagged text out of each known shape. Unknown lines fall through to a
// best-effort adapter rather than being reflected over.
package events

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind classifies a normalised event.
type Kind string

const (
	KindMessage     Kind = "message"
	KindToolCall    Kind = "tool_call"
	KindToolResult  Kind = "tool_result"
	KindSystemOther Kind = "system_other"
	KindTurnEnd     Kind = "turn_end"
)

// Event is the normalised form of one transcript line.
type Event struct {
	Kind Kind
	Role string // "user", "assistant", or "" when unknown
	Text string
	// Source names the adapter that produced the event, e.g. "codex.response_item".
	Source string
}

// contentBlock covers both claude content blocks and codex content items.
type contentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	Name      string          `json:"name"`
	ID        string          `json:"id"`
	Input     json.RawMessage `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
}

// rawLine is the superset envelope the adapters dispatch on.
type rawLine struct {
	Type      string          `json:"type"`
	Role      string          `json:"role"`
	Content   json.RawMessage `json:"content"`
	Text      string          `json:"text"`
	Result    string          `json:"result"`
	Subtype   string          `json:"subtype"`
	Message   *rawMessage     `json:"message,omitempty"`
	Payload   *rawPayload     `json:"payload,omitempty"`
	Timestamp string          `json:"timestamp"`
}

type rawMessage struct {
	Role       string          `json:"role"`
	Content    json.RawMessage `json:"content"`
	StopReason string          `json:"stop_reason"`
}

type rawPayload struct {
	Type    string          `json:"type"`
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
	Message string          `json:"message"`
}

// ParseLine parses one JSONL line into zero or more events. Lines that are not
// JSON objects yield nil; callers treat that as "skip", never as an error.
func ParseLine(line []byte) []Event {
	trimmed := strings.TrimSpace(string(line))
	if trimmed == "" || trimmed[0] != '{' {
		return nil
	}
	var raw rawLine
	if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
		return nil
	}
	return adapt(&raw)
}

func adapt(raw *rawLine) []Event {
	switch {
	case raw.Payload != nil && raw.Type == "response_item" && raw.Payload.Type == "message":
		return codexMessage(raw.Payload)
	case raw.Payload != nil && raw.Type == "event_msg" && raw.Payload.Type == "user_message":
		if raw.Payload.Message == "" {
			return nil
		}
		return []Event{{Kind: KindMessage, Role: "user", Text: raw.Payload.Message, Source: "codex.event_msg"}}
	case raw.Type == "user" || raw.Type == "assistant":
		return claudeMessage(raw)
	case raw.Type == "tool_use":
		return []Event{toolCallEvent(raw.Text, "")}
	case raw.Type == "tool_result" || raw.Type == "custom_tool_call_output":
		return []Event{{Kind: KindToolResult, Source: "generic." + raw.Type}}
	case raw.Type == "result" && raw.Result != "":
		return []Event{{Kind: KindSystemOther, Text: raw.Result, Source: "generic.result"}}
	case raw.Type == "system" && raw.Subtype == "turn_duration":
		return []Event{{Kind: KindTurnEnd, Source: "claude.turn_duration"}}
	}
	return fallback(raw)
}

// codexMessage handles type=response_item / payload.type=message. Text chunks
// live under content items of type text, input_text, or output_text.
func codexMessage(p *rawPayload) []Event {
	var blocks []contentBlock
	if err := json.Unmarshal(p.Content, &blocks); err != nil {
		return nil
	}
	var texts []string
	for _, b := range blocks {
		switch b.Type {
		case "text", "input_text", "output_text":
			if b.Text != "" {
				texts = append(texts, b.Text)
			}
		}
	}
	if len(texts) == 0 {
		return nil
	}
	return []Event{{
		Kind:   KindMessage,
		Role:   p.Role,
		Text:   strings.Join(texts, "\n"),
		Source: "codex.response_item",
	}}
}

// claudeMessage handles top-level user/assistant entries. Content is either a
// bare string or an array of typed blocks; legacy entries carry content/text at
// the top level instead of under message.
func claudeMessage(raw *rawLine) []Event {
	role := raw.Type
	content := raw.Content
	if raw.Message != nil {
		if raw.Message.Role != "" {
			role = raw.Message.Role
		}
		content = raw.Message.Content
	}

	var out []Event
	parsed := false
	if len(content) > 0 {
		var str string
		if err := json.Unmarshal(content, &str); err == nil {
			parsed = true
			if str != "" {
				out = append(out, Event{Kind: KindMessage, Role: role, Text: str, Source: "claude.message"})
			}
		} else {
			var blocks []contentBlock
			if err := json.Unmarshal(content, &blocks); err == nil {
				parsed = true
				var texts []string
				for _, b := range blocks {
					switch b.Type {
					case "text":
						if b.Text != "" {
							texts = append(texts, b.Text)
						}
					case "tool_use":
						out = append(out, toolCallEvent(b.Name, role))
					case "tool_result":
						out = append(out, Event{Kind: KindToolResult, Role: role, Source: "claude.tool_result"})
					}
				}
				if len(texts) > 0 {
					out = append([]Event{{
						Kind:   KindMessage,
						Role:   role,
						Text:   strings.Join(texts, "\n"),
						Source: "claude.message",
					}}, out...)
				}
			}
		}
	}

	// Legacy top-level text field.
	if !parsed && raw.Text != "" {
		out = append(out, Event{Kind: KindMessage, Role: role, Text: raw.Text, Source: "claude.legacy"})
	}

	// An assistant entry stopped for tool use is a tool call even when the
	// content blocks were elided.
	if raw.Message != nil && raw.Message.StopReason == "tool_use" && !hasToolCall(out) {
		out = append(out, toolCallEvent("unknown", role))
	}
	return out
}

func hasToolCall(evs []Event) bool {
	for _, e := range evs {
		if e.Kind == KindToolCall {
			return true
		}
	}
	return false
}

func toolCallEvent(name, role string) Event {
	if name == "" {
		name = "unknown"
	}
	return Event{
		Kind:   KindToolCall,
		Role:   role,
		Text:   fmt.Sprintf("[Tool: %s]", name),
		Source: "generic.tool_use",
	}
}

// fallback lifts any message/content/text string into an unknown-role event.
func fallback(raw *rawLine) []Event {
	if raw.Payload != nil && raw.Payload.Message != "" {
		return []Event{{Kind: KindMessage, Text: raw.Payload.Message, Source: "fallback"}}
	}
	if len(raw.Content) > 0 {
		var str string
		if err := json.Unmarshal(raw.Content, &str); err == nil && str != "" {
			return []Event{{Kind: KindMessage, Role: raw.Role, Text: str, Source: "fallback"}}
		}
	}
	if raw.Text != "" {
		return []Event{{Kind: KindMessage, Role: raw.Role, Text: raw.Text, Source: "fallback"}}
	}
	return nil
}
