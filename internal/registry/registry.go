// Package registry holds the in-memory session list the dashboard renders.
// It owns ordering and change notification; persistence lives in the store.
package registry

import (
	"sort"
	"sync"
	"time"
)

// Status is a session's activity state derived from its transcript and pane.
type Status string

const (
	StatusNeedsApproval Status = "needs_approval"
	StatusPermission    Status = "permission"
	StatusWorking       Status = "working"
	StatusWaiting       Status = "waiting"
	StatusUnknown       Status = "unknown"
)

// statusRank orders sessions for display. Sessions that need a human come
// first, then active ones, then idle, then unclassified.
var statusRank = map[Status]int{
	StatusNeedsApproval: 0,
	StatusPermission:    1,
	StatusWorking:       2,
	StatusWaiting:       3,
	StatusUnknown:       4,
}

func rank(s Status) int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return len(statusRank)
}

// Session is one correlated agent session.
type Session struct {
	ID               string    `json:"id"`
	AgentFamily      string    `json:"agentFamily"`
	LogFilePath      string    `json:"logFilePath"`
	ProjectPath      string    `json:"projectPath"`
	Slug             string    `json:"slug,omitempty"`
	DisplayName      string    `json:"displayName"`
	CurrentWindow    string    `json:"currentWindow,omitempty"`
	Status           Status    `json:"status"`
	IsPinned         bool      `json:"isPinned"`
	IsCodexExec      bool      `json:"isCodexExec"`
	IsSubagent       bool      `json:"isSubagent"`
	LastUserMessage  string    `json:"lastUserMessage,omitempty"`
	LastResumeError  string    `json:"lastResumeError,omitempty"`
	LastKnownLogSize int64     `json:"lastKnownLogSize"`
	TokenCount       int       `json:"tokenCount"`
	LastActivityAt   time.Time `json:"lastActivityAt"`
	CreatedAt        time.Time `json:"createdAt"`
}

// Event kinds delivered to listeners.
const (
	EventSessions       = "sessions"
	EventSessionUpdate  = "session-update"
	EventSessionRemoved = "session-removed"
)

// Event is a change notification. Sessions is set for EventSessions, Session
// for the per-session kinds.
type Event struct {
	Kind     string
	Sessions []Session
	Session  *Session
}

// Listener receives registry change events. Callbacks run synchronously on
// the mutating goroutine; keep them fast.
type Listener func(Event)

// Registry is the ordered, observable session set.
type Registry struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	listeners []Listener
}

func New() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Subscribe registers a listener for subsequent changes.
func (r *Registry) Subscribe(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// ReplaceAll swaps the entire session set, as after a poll cycle, and emits
// one sessions event with the new ordering.
func (r *Registry) ReplaceAll(sessions []Session) {
	r.mu.Lock()
	r.sessions = make(map[string]*Session, len(sessions))
	for i := range sessions {
		s := sessions[i]
		r.sessions[s.ID] = &s
	}
	ordered := r.orderedLocked()
	listeners := r.listeners
	r.mu.Unlock()

	emit(listeners, Event{Kind: EventSessions, Sessions: ordered})
}

// Upsert inserts or replaces one session and emits a session-update event.
func (r *Registry) Upsert(s Session) {
	r.mu.Lock()
	copied := s
	r.sessions[s.ID] = &copied
	listeners := r.listeners
	r.mu.Unlock()

	emit(listeners, Event{Kind: EventSessionUpdate, Session: &s})
}

// Remove drops a session by ID. Emits session-removed only when it existed.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	existing, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	listeners := r.listeners
	r.mu.Unlock()

	if ok {
		emit(listeners, Event{Kind: EventSessionRemoved, Session: existing})
	}
}

// Get returns a copy of one session.
func (r *Registry) Get(id string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// SetStatus updates one session's status, bumping activity when the session
// transitions into working. No event is emitted when the status is unchanged.
func (r *Registry) SetStatus(id string, status Status) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok || s.Status == status {
		r.mu.Unlock()
		return
	}
	s.Status = status
	if status == StatusWorking {
		s.LastActivityAt = time.Now()
	}
	copied := *s
	listeners := r.listeners
	r.mu.Unlock()

	emit(listeners, Event{Kind: EventSessionUpdate, Session: &copied})
}

// All returns the sessions in display order: attention-first by status rank,
// then most recent activity first, then ID for stability.
func (r *Registry) All() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.orderedLocked()
}

func (r *Registry) orderedLocked() []Session {
	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, *s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := rank(out[i].Status), rank(out[j].Status)
		if ri != rj {
			return ri < rj
		}
		if !out[i].LastActivityAt.Equal(out[j].LastActivityAt) {
			return out[i].LastActivityAt.After(out[j].LastActivityAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func emit(listeners []Listener, ev Event) {
	for _, l := range listeners {
		l(ev)
	}
}
