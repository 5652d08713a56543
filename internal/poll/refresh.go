package poll

import (
	"log/slog"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/marcus/agentboard/internal/registry"
	"github.com/marcus/agentboard/internal/store"
	"github.com/marcus/agentboard/internal/tmux"
)

// refreshCaptureLines bounds the per-window capture for coarse
// classification. Only the visible tail matters here, unlike the matcher's
// deep scrollback reads.
const refreshCaptureLines = 50

// Refresher keeps the registry aligned with live windows between poll
// cycles. Each pass enumerates windows, releases sessions whose window
// vanished, and folds coarse pane-derived status into the registry.
type Refresher struct {
	store    *store.Store
	registry *registry.Registry
	windows  WindowSource
	opts     Options
	logger   *slog.Logger

	mu   sync.Mutex
	prev map[string]uint64 // windowKey -> pane content hash
}

func NewRefresher(st *store.Store, reg *registry.Registry, windows WindowSource, opts Options, logger *slog.Logger) *Refresher {
	opts.fill()
	if logger == nil {
		logger = slog.Default()
	}
	return &Refresher{
		store:    st,
		registry: reg,
		windows:  windows,
		opts:     opts,
		logger:   logger,
		prev:     make(map[string]uint64),
	}
}

// RefreshOnce runs one enumeration pass.
func (r *Refresher) RefreshOnce() {
	windows, err := r.windows.DiscoverWindows(r.opts.TmuxSession, r.opts.DiscoverPrefixes)
	if err != nil {
		r.logger.Warn("discover windows", "error", err)
		return
	}

	live := make(map[string]bool, len(windows))
	states := make(map[string]tmux.PaneState, len(windows))
	for _, w := range windows {
		key := w.Key()
		live[key] = true
		content, err := r.windows.CapturePane(key, refreshCaptureLines)
		if err != nil {
			continue
		}
		states[key] = tmux.ClassifyPane(content, r.paneChanged(key, content))
	}
	r.dropDeadPanes(live)

	for _, sess := range r.registry.All() {
		if sess.CurrentWindow == "" {
			continue
		}
		if !live[sess.CurrentWindow] {
			r.logger.Info("window vanished", "id", sess.ID, "window", sess.CurrentWindow)
			if err := r.store.ReleaseWindow(sess.ID); err != nil {
				r.logger.Warn("release window", "id", sess.ID, "error", err)
			}
			r.registry.Remove(sess.ID)
			continue
		}
		r.applyPaneState(sess, states[sess.CurrentWindow])
	}
}

// paneChanged records the pane content hash and reports whether it differs
// from the previous capture. The first capture of a window never counts as a
// change.
func (r *Refresher) paneChanged(key, content string) bool {
	h := xxhash.Sum64String(content)
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, seen := r.prev[key]
	r.prev[key] = h
	return seen && prev != h
}

func (r *Refresher) dropDeadPanes(live map[string]bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.prev {
		if !live[key] {
			delete(r.prev, key)
		}
	}
}

// applyPaneState folds the coarse pane signal into the registry. A
// permission dialog always surfaces; otherwise the pane only settles
// sessions whose transcript has not produced a status, since the
// transcript-driven machine is the stronger signal.
func (r *Refresher) applyPaneState(sess registry.Session, state tmux.PaneState) {
	switch state {
	case tmux.PanePermission:
		r.registry.SetStatus(sess.ID, registry.StatusPermission)
	case tmux.PaneWorking:
		if sess.Status == registry.StatusUnknown || sess.Status == registry.StatusPermission {
			r.registry.SetStatus(sess.ID, registry.StatusWorking)
		}
	case tmux.PaneWaiting:
		if sess.Status == registry.StatusUnknown || sess.Status == registry.StatusPermission {
			r.registry.SetStatus(sess.ID, registry.StatusWaiting)
		}
	}
}
