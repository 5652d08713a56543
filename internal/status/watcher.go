package status

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/marcus/agentboard/internal/events"
)

// bootstrapBytes bounds the initial read of an already-large transcript. Only
// the tail matters for current status.
const bootstrapBytes = 64 * 1024

// Watcher tails one transcript file and feeds parsed entries to a Machine.
// It tracks its read position across writes; a shrinking file means rotation
// and resets the tail to the start.
type Watcher struct {
	path    string
	machine *Machine
	logger  *slog.Logger
	fsw     *fsnotify.Watcher

	mu        sync.Mutex
	position  int64
	remainder []byte

	stopOnce sync.Once
	done     chan struct{}
}

// NewWatcher starts tailing path. The machine receives EventLogFound
// immediately, then transcript events as the file grows.
func NewWatcher(path string, machine *Machine, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		path:    path,
		machine: machine,
		logger:  logger,
		fsw:     fsw,
		done:    make(chan struct{}),
	}
	w.bootstrap()
	machine.Apply(EventLogFound)
	go w.loop()
	return w, nil
}

// bootstrap positions the tail near the end of an existing file and replays
// the trailing entries so the machine starts from recent history.
func (w *Watcher) bootstrap() {
	info, err := os.Stat(w.path)
	if err != nil {
		return
	}
	w.mu.Lock()
	if info.Size() > bootstrapBytes {
		w.position = info.Size() - bootstrapBytes
		w.mu.Unlock()
		// Mid-file start: drop the partial first line.
		w.consume(true)
		return
	}
	w.mu.Unlock()
	w.consume(false)
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Name != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.consume(false)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("status watch error", "path", w.path, "error", err)
		}
	}
}

// consume reads everything appended since the last position and applies the
// resulting events.
func (w *Watcher) consume(dropFirstPartial bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	info, err := os.Stat(w.path)
	if err != nil {
		return
	}
	if info.Size() < w.position {
		// Truncated or rotated in place: start over.
		w.position = 0
		w.remainder = nil
	}
	if info.Size() == w.position {
		return
	}

	f, err := os.Open(w.path)
	if err != nil {
		return
	}
	defer f.Close()

	if _, err := f.Seek(w.position, io.SeekStart); err != nil {
		return
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return
	}
	w.position += int64(len(data))

	buf := append(w.remainder, data...)
	if dropFirstPartial {
		if idx := bytes.IndexByte(buf, '\n'); idx >= 0 {
			buf = buf[idx+1:]
		} else {
			w.remainder = buf
			return
		}
	}

	lines := bytes.Split(buf, []byte("\n"))
	w.remainder = append([]byte(nil), lines[len(lines)-1]...)
	for _, line := range lines[:len(lines)-1] {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		for _, ev := range EventsForEntry(events.ParseLine(line)) {
			w.machine.Apply(ev)
		}
	}
}

// Stop ends the tail and cancels the machine's pending timers.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.fsw.Close()
		w.machine.Stop()
	})
}
