// Package status derives a session's activity state from its transcript. A
// small event machine consumes parsed log entries; a per-file tail watcher
// feeds it as the agent appends.
package status

import (
	"sync"
	"time"

	"github.com/marcus/agentboard/internal/events"
	"github.com/marcus/agentboard/internal/registry"
)

// Transcript events driving the machine.
type Event string

const (
	EventLogFound         Event = "log_found"
	EventUserPrompt       Event = "user_prompt"
	EventAssistantText    Event = "assistant_text"
	EventAssistantToolUse Event = "assistant_tool_use"
	EventToolResult       Event = "tool_result"
	EventTurnEnd          Event = "turn_end"
	EventToolStall        Event = "tool_stall"
	EventIdleTimeout      Event = "idle_timeout"
)

// DefaultStallTimeout is how long a tool call may sit without a result before
// the session is assumed to be blocked on an approval prompt.
const DefaultStallTimeout = 3 * time.Second

// Machine tracks one session's status. A pending tool call arms a stall
// timer; if no result or turn end arrives in time, the session flips to
// needs_approval.
type Machine struct {
	mu           sync.Mutex
	status       registry.Status
	stallTimeout time.Duration
	stallTimer   *time.Timer
	onChange     func(registry.Status)
}

// NewMachine creates a machine in the unknown state. onChange fires on every
// status transition, never for no-ops; it may be nil.
func NewMachine(stallTimeout time.Duration, onChange func(registry.Status)) *Machine {
	if stallTimeout <= 0 {
		stallTimeout = DefaultStallTimeout
	}
	return &Machine{
		status:       registry.StatusUnknown,
		stallTimeout: stallTimeout,
		onChange:     onChange,
	}
}

// Status returns the current state.
func (m *Machine) Status() registry.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Apply feeds one event through the machine.
func (m *Machine) Apply(ev Event) {
	m.mu.Lock()
	next := m.status
	switch ev {
	case EventLogFound:
		// Settles a fresh attach only; an established status is kept.
		if m.status == registry.StatusUnknown {
			next = registry.StatusWaiting
		}
	case EventUserPrompt, EventAssistantText, EventToolResult:
		next = registry.StatusWorking
		m.cancelStallLocked()
	case EventAssistantToolUse:
		next = registry.StatusWorking
		m.armStallLocked()
	case EventTurnEnd:
		next = registry.StatusWaiting
		m.cancelStallLocked()
	case EventToolStall:
		next = registry.StatusNeedsApproval
	case EventIdleTimeout:
		// No transition from any state.
	}

	changed := next != m.status
	m.status = next
	cb := m.onChange
	m.mu.Unlock()

	if changed && cb != nil {
		cb(next)
	}
}

// Stop cancels any pending stall timer.
func (m *Machine) Stop() {
	m.mu.Lock()
	m.cancelStallLocked()
	m.mu.Unlock()
}

func (m *Machine) armStallLocked() {
	m.cancelStallLocked()
	m.stallTimer = time.AfterFunc(m.stallTimeout, func() { m.Apply(EventToolStall) })
}

func (m *Machine) cancelStallLocked() {
	if m.stallTimer != nil {
		m.stallTimer.Stop()
		m.stallTimer = nil
	}
}

// EventsForEntry maps one parsed transcript entry's events to machine events,
// in order.
func EventsForEntry(parsed []events.Event) []Event {
	var out []Event
	for _, ev := range parsed {
		switch ev.Kind {
		case events.KindMessage:
			switch ev.Role {
			case "user":
				out = append(out, EventUserPrompt)
			case "assistant":
				out = append(out, EventAssistantText)
			}
		case events.KindToolCall:
			out = append(out, EventAssistantToolUse)
		case events.KindToolResult:
			out = append(out, EventToolResult)
		case events.KindTurnEnd:
			out = append(out, EventTurnEnd)
		}
	}
	return out
}
