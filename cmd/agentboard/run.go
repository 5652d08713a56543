package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcus/agentboard/internal/config"
	"github.com/marcus/agentboard/internal/discovery"
	"github.com/marcus/agentboard/internal/logwatch"
	"github.com/marcus/agentboard/internal/match"
	"github.com/marcus/agentboard/internal/poll"
	"github.com/marcus/agentboard/internal/registry"
	"github.com/marcus/agentboard/internal/status"
	"github.com/marcus/agentboard/internal/store"
	"github.com/marcus/agentboard/internal/tmux"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the correlation loop",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBoard(cmd.Context())
	},
}

func runBoard(ctx context.Context) error {
	cfg, err := config.LoadFrom(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, closeLog, err := setupLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()
	slog.SetDefault(logger)

	tm := tmux.New()
	if !tm.IsAvailable() {
		return fmt.Errorf("tmux not found in PATH; install tmux to run agentboard")
	}
	rg, err := match.NewRipgrep()
	if err != nil {
		return fmt.Errorf("%w; install ripgrep to run agentboard", err)
	}

	lock, err := store.AcquireLock(cfg.DBPath)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	st, err := store.New(cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	roots := discovery.ResolveRoots()
	reg := registry.New()
	matcher := match.NewMatcher(rg, logger)
	windowOpts := poll.Options{
		TmuxSession:      cfg.TmuxSession,
		DiscoverPrefixes: cfg.DiscoverPrefixes,
	}
	poller := poll.New(roots, st, reg, matcher, tm, windowOpts, logger)
	refresher := poll.NewRefresher(st, reg, tm, windowOpts, logger)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	statuses := newStatusManager(reg, logger)
	defer statuses.stopAll()
	reg.Subscribe(statuses.onEvent)

	watcher, err := logwatch.New(roots.WatchDirs(), logwatch.Options{}, func(batch []string) {
		poller.PollChanged(ctx, batch)
	})
	if err != nil {
		return fmt.Errorf("start log watcher: %w", err)
	}
	defer watcher.Stop()

	logger.Info("agentboard started",
		"session", cfg.TmuxSession,
		"db", cfg.DBPath,
		"refresh", cfg.RefreshInterval,
		"log_poll", cfg.LogPollInterval)

	// Window liveness and coarse pane status run on their own cadence.
	go func() {
		refresh := time.NewTicker(cfg.RefreshInterval)
		defer refresh.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-refresh.C:
				refresher.RefreshOnce()
			}
		}
	}()

	// Startup backfill, then the steady-state tick.
	poller.PollAll(ctx)

	ticker := time.NewTicker(cfg.LogPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("agentboard stopping")
			return nil
		case <-ticker.C:
			poller.PollAll(ctx)
		}
	}
}

// statusManager keeps one transcript tail per tracked session and feeds
// status changes back into the registry.
type statusManager struct {
	reg    *registry.Registry
	logger *slog.Logger

	mu       sync.Mutex
	watchers map[string]*status.Watcher // sessionID -> tail
	paths    map[string]string          // sessionID -> watched path
}

func newStatusManager(reg *registry.Registry, logger *slog.Logger) *statusManager {
	return &statusManager{
		reg:      reg,
		logger:   logger,
		watchers: make(map[string]*status.Watcher),
		paths:    make(map[string]string),
	}
}

func (m *statusManager) onEvent(ev registry.Event) {
	switch ev.Kind {
	case registry.EventSessions:
		m.sync(ev.Sessions)
	case registry.EventSessionRemoved:
		if ev.Session != nil {
			m.drop(ev.Session.ID)
		}
	}
}

func (m *statusManager) sync(sessions []registry.Session) {
	alive := make(map[string]bool, len(sessions))
	for _, sess := range sessions {
		alive[sess.ID] = true
		m.ensure(sess)
	}

	m.mu.Lock()
	var stale []string
	for id := range m.watchers {
		if !alive[id] {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()
	for _, id := range stale {
		m.drop(id)
	}
}

func (m *statusManager) ensure(sess registry.Session) {
	m.mu.Lock()
	if m.paths[sess.ID] == sess.LogFilePath {
		m.mu.Unlock()
		return
	}
	old := m.watchers[sess.ID]
	m.mu.Unlock()
	if old != nil {
		old.Stop()
	}

	id := sess.ID
	machine := status.NewMachine(0, func(s registry.Status) {
		m.reg.SetStatus(id, s)
	})
	w, err := status.NewWatcher(sess.LogFilePath, machine, m.logger)
	if err != nil {
		m.logger.Warn("tail transcript", "id", id, "error", err)
		return
	}

	m.mu.Lock()
	m.watchers[id] = w
	m.paths[id] = sess.LogFilePath
	m.mu.Unlock()
}

func (m *statusManager) drop(id string) {
	m.mu.Lock()
	w := m.watchers[id]
	delete(m.watchers, id)
	delete(m.paths, id)
	m.mu.Unlock()
	if w != nil {
		w.Stop()
	}
}

func (m *statusManager) stopAll() {
	m.mu.Lock()
	watchers := make([]*status.Watcher, 0, len(m.watchers))
	for _, w := range m.watchers {
		watchers = append(watchers, w)
	}
	m.watchers = make(map[string]*status.Watcher)
	m.paths = make(map[string]string)
	m.mu.Unlock()
	for _, w := range watchers {
		w.Stop()
	}
}

func setupLogger(cfg *config.Config) (*slog.Logger, func(), error) {
	level := parseLevel(cfg.LogLevel)

	if cfg.LogFile == "" {
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		return logger, func() {}, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0755); err != nil {
		return nil, nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: level}))
	return logger, func() { _ = f.Close() }, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
