// Package logwatch provides a recursive filesystem watcher over transcript
// directories with debounced, deduplicated batch delivery. A burst of writes
// to any number of .jsonl files collapses into one batch; a steady stream
// still flushes within the max-wait bound.
package logwatch

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	// DefaultDebounce is the quiet period after the last accepted event
	// before a batch flushes.
	DefaultDebounce = 2000 * time.Millisecond
	// DefaultMaxWait bounds how long the first event of a run can sit in
	// the pending set while new events keep arriving.
	DefaultMaxWait = 5000 * time.Millisecond
)

// Watcher watches a set of directories recursively and delivers batches of
// changed .jsonl paths.
type Watcher struct {
	debounce time.Duration
	maxWait  time.Duration
	onBatch  func([]string)

	fsw *fsnotify.Watcher

	mu         sync.Mutex
	pending    []string
	pendingSet map[string]struct{}
	timer      *time.Timer
	firstEvent time.Time
	stopped    bool

	done chan struct{}
}

// Options tunes the watcher. Zero values take the defaults.
type Options struct {
	Debounce time.Duration
	MaxWait  time.Duration
}

// New starts watching dirs and invokes onBatch with each flushed batch.
// Directories that cannot be watched are logged and skipped; the watcher runs
// with whatever it could open. An error is returned only when the underlying
// notify facility cannot be created at all.
func New(dirs []string, opts Options, onBatch func([]string)) (*Watcher, error) {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = DefaultMaxWait
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		debounce:   opts.Debounce,
		maxWait:    opts.MaxWait,
		onBatch:    onBatch,
		fsw:        fsw,
		pendingSet: make(map[string]struct{}),
		done:       make(chan struct{}),
	}

	for _, dir := range dirs {
		resolved := ResolveWatchDir(dir)
		if resolved == "" {
			slog.Warn("log watcher skipping directory", "dir", dir)
			continue
		}
		if err := addWatchTree(fsw, resolved); err != nil {
			slog.Warn("log watcher setup failed for directory", "dir", resolved, "err", err)
		}
	}

	go w.loop()
	return w, nil
}

// ResolveWatchDir walks upward from dir until an existing ancestor is found.
// Returns "" when the walk lands on the user's home directory or the
// filesystem root, which must never be watched wholesale.
func ResolveWatchDir(dir string) string {
	home, _ := os.UserHomeDir()
	for cur := filepath.Clean(dir); ; cur = filepath.Dir(cur) {
		if cur == "/" || (home != "" && cur == home) {
			return ""
		}
		if info, err := os.Stat(cur); err == nil && info.IsDir() {
			return cur
		}
		if filepath.Dir(cur) == cur {
			return ""
		}
	}
}

// addWatchTree registers dir and every subdirectory beneath it, skipping
// subagents trees.
func addWatchTree(fsw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() == "subagents" {
			return filepath.SkipDir
		}
		if err := fsw.Add(path); err != nil {
			slog.Debug("log watcher add failed", "dir", path, "err", err)
		}
		return nil
	})
}

func (w *Watcher) loop() {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			// A single watcher error never terminates the watcher.
			slog.Warn("log watcher error", "err", err)
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if filepath.Base(event.Name) != "subagents" {
				_ = addWatchTree(w.fsw, event.Name)
				// Files may land before the watch registers; sweep once.
				w.sweepDir(event.Name)
			}
			return
		}
	}
	w.accept(event.Name)
}

func (w *Watcher) sweepDir(dir string) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		w.accept(path)
		return nil
	})
}

// accept filters and enqueues one path, arming the flush timers.
func (w *Watcher) accept(path string) {
	if !strings.HasSuffix(path, ".jsonl") {
		return
	}
	if strings.Contains(filepath.ToSlash(path), "/subagents/") {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}

	if _, dup := w.pendingSet[path]; !dup {
		w.pendingSet[path] = struct{}{}
		w.pending = append(w.pending, path)
	}

	now := time.Now()
	if w.firstEvent.IsZero() {
		w.firstEvent = now
	}

	// Debounce restarts on every event, but the flush can never drift past
	// firstEvent+maxWait.
	delay := w.debounce
	if deadline := w.firstEvent.Add(w.maxWait); now.Add(delay).After(deadline) {
		delay = deadline.Sub(now)
		if delay < 0 {
			delay = 0
		}
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(delay, w.flush)
}

// flush delivers the pending batch in insertion order and resets the run.
func (w *Watcher) flush() {
	w.mu.Lock()
	batch := w.pending
	w.pending = nil
	w.pendingSet = make(map[string]struct{})
	w.firstEvent = time.Time{}
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	cb := w.onBatch
	w.mu.Unlock()

	if len(batch) > 0 && cb != nil {
		cb(batch)
	}
}

// Stop tears down the watcher and synchronously flushes anything pending.
// Safe to call more than once.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	w.mu.Unlock()

	close(w.done)
	_ = w.fsw.Close()
	w.flush()
}
