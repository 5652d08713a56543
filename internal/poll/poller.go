package poll

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marcus/agentboard/internal/discovery"
	"github.com/marcus/agentboard/internal/match"
	"github.com/marcus/agentboard/internal/registry"
	"github.com/marcus/agentboard/internal/store"
	"github.com/marcus/agentboard/internal/tmux"
)

const (
	// DefaultRematchCooldown is how long a transcript sits out after a
	// failed window match before it is scored again.
	DefaultRematchCooldown = 60 * time.Second
	// MinLogTokensForInsert keeps empty transcripts out of the store.
	MinLogTokensForInsert = 1
	// DefaultOrphanBudget bounds the post-startup rematch sweep for stored
	// sessions that lost their window.
	DefaultOrphanBudget = 2 * time.Minute

	orphanSweepInterval = 5 * time.Second
)

// WindowSource enumerates candidate windows and captures their panes.
// *tmux.Tmux satisfies it.
type WindowSource interface {
	DiscoverWindows(managed string, prefixes []string) ([]tmux.Window, error)
	CapturePane(target string, lines int) (string, error)
}

// WindowMatcher scores transcripts against candidate panes. *match.Matcher
// satisfies it.
type WindowMatcher interface {
	// ExactMatches maps logPath to windowKey for unique pane-signature hits
	// across the full candidate transcript set.
	ExactMatches(ctx context.Context, logPaths []string, windows []match.WindowPane) map[string]string
	MatchWindow(ctx context.Context, logPath string, windows []match.WindowPane) match.Result
}

// Options tune a Poller. Zero values take the package defaults.
type Options struct {
	TmuxSession      string
	DiscoverPrefixes []string
	MaxLogsPerPoll   int
	MaxLogsBackfill  int
	RematchCooldown  time.Duration
	OrphanBudget     time.Duration
	ScrollbackLines  int
}

func (o *Options) fill() {
	if o.MaxLogsPerPoll <= 0 {
		o.MaxLogsPerPoll = MaxLogsPerPoll
	}
	if o.MaxLogsBackfill <= 0 {
		o.MaxLogsBackfill = MaxLogsBackfill
	}
	if o.RematchCooldown <= 0 {
		o.RematchCooldown = DefaultRematchCooldown
	}
	if o.OrphanBudget <= 0 {
		o.OrphanBudget = DefaultOrphanBudget
	}
	if o.ScrollbackLines <= 0 {
		o.ScrollbackLines = match.ScrollbackLines
	}
}

// Stats summarises one poll cycle. A cycle skipped because another is in
// flight reports the zero value.
type Stats struct {
	NewSessions int
	Updated     int
	DurationMs  int64
}

// Poller reconciles transcripts with the session store and window claims.
// Poll cycles never overlap: a cycle arriving while one runs is dropped, the
// next tick or batch covers it.
type Poller struct {
	opts     Options
	roots    discovery.Roots
	store    *store.Store
	registry *registry.Registry
	matcher  WindowMatcher
	windows  WindowSource
	logger   *slog.Logger

	// OnSessionOrphaned fires when a superseding session inherits an older
	// record's window. OnSessionActivated fires when an orphan regains one.
	OnSessionOrphaned  func(old, new registry.Session)
	OnSessionActivated func(sess registry.Session)

	// IsLastUserMessageLocked lets the serving layer protect text the user
	// just typed into a window from stale log backfill. Nil means unlocked.
	IsLastUserMessageLocked func(sessionID string) bool

	inProgress atomic.Bool
	orphanOnce sync.Once
	orphanBusy atomic.Bool

	mu        sync.Mutex
	emptyLogs map[string]int64     // path -> size last seen without content
	cooldown  map[string]time.Time // path -> next match attempt
}

func New(roots discovery.Roots, st *store.Store, reg *registry.Registry, matcher WindowMatcher, windows WindowSource, opts Options, logger *slog.Logger) *Poller {
	opts.fill()
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		opts:      opts,
		roots:     roots,
		store:     st,
		registry:  reg,
		matcher:   matcher,
		windows:   windows,
		logger:    logger,
		emptyLogs: make(map[string]int64),
		cooldown:  make(map[string]time.Time),
	}
}

// PollChanged processes a watcher batch of changed transcripts.
func (p *Poller) PollChanged(ctx context.Context, paths []string) Stats {
	return p.pollOnce(ctx, paths, false)
}

// PollAll rescans every transcript under the vendor roots. Used on the timer
// tick and at startup for backfill.
func (p *Poller) PollAll(ctx context.Context) Stats {
	return p.pollOnce(ctx, p.roots.Scan(), true)
}

func (p *Poller) pollOnce(ctx context.Context, paths []string, backfill bool) Stats {
	if !p.inProgress.CompareAndSwap(false, true) {
		p.logger.Debug("poll skipped, previous cycle still running")
		return Stats{}
	}
	defer p.inProgress.Store(false)
	started := time.Now()
	var stats Stats

	stored, err := p.store.All()
	if err != nil {
		p.logger.Error("load sessions", "error", err)
		return stats
	}
	byPath := make(map[string]*registry.Session, len(stored))
	byID := make(map[string]*registry.Session, len(stored))
	known := make(map[string]KnownLog, len(stored))
	claims := make(map[string]string) // windowKey -> sessionID
	for i := range stored {
		s := &stored[i]
		byPath[s.LogFilePath] = s
		byID[s.ID] = s
		known[s.LogFilePath] = KnownLog{ExecKnown: s.IsCodexExec}
		if s.CurrentWindow != "" {
			claims[s.CurrentWindow] = s.ID
		}
	}

	paths = p.dropCachedEmpty(paths, known)

	maxLogs := p.opts.MaxLogsPerPoll
	if backfill {
		maxLogs = p.opts.MaxLogsBackfill
	}
	entries := EnrichLogs(p.roots, paths, known, maxLogs)

	// Panes and the exact pass are computed at most once per cycle, and only
	// when an entry actually needs a match attempt.
	var panes []match.WindowPane
	panesLoaded := false
	loadPanes := func() []match.WindowPane {
		if !panesLoaded {
			panes, _ = p.capturePanes()
			panesLoaded = true
		}
		return panes
	}
	var exact map[string]string
	exactFor := func(path string) (string, bool) {
		if exact == nil {
			exact = p.matcher.ExactMatches(ctx, p.searchSet(paths, byPath), loadPanes())
		}
		key, ok := exact[path]
		return key, ok
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		if entry.Meta.IsSubagent {
			continue
		}
		if existing, ok := byPath[entry.Meta.Path]; ok {
			grown := entry.Size > existing.LastKnownLogSize
			if p.applyLogEntry(existing, entry) {
				stats.Updated++
			}
			if existing.CurrentWindow == "" && grown {
				p.tryAttach(ctx, existing, loadPanes, claims, exactFor)
			}
			continue
		}
		if prev, ok := byID[entry.Meta.LogicalID]; ok && entry.Meta.LogicalID != "" {
			p.adoptRotatedLog(prev, entry)
			stats.Updated++
			if prev.CurrentWindow == "" {
				p.tryAttach(ctx, prev, loadPanes, claims, exactFor)
			}
			continue
		}
		if p.insertNew(ctx, entry, loadPanes, claims, exactFor) {
			stats.NewSessions++
		}
	}

	p.publish()
	p.orphanOnce.Do(func() { go p.RematchOrphans(ctx) })
	stats.DurationMs = time.Since(started).Milliseconds()
	return stats
}

// searchSet is the candidate transcript set for the exact pass: the cycle's
// paths plus every stored session's transcript that still exists on disk. A
// signature is only trusted when it is unique across all of them.
func (p *Poller) searchSet(paths []string, byPath map[string]*registry.Session) []string {
	seen := make(map[string]bool, len(paths)+len(byPath))
	out := make([]string, 0, len(paths)+len(byPath))
	add := func(path string) {
		if seen[path] {
			return
		}
		seen[path] = true
		if _, err := os.Stat(path); err == nil {
			out = append(out, path)
		}
	}
	for _, path := range paths {
		add(path)
	}
	for path := range byPath {
		add(path)
	}
	return out
}

// dropCachedEmpty filters out transcripts previously seen empty whose size
// has not changed. A grown file gets another look.
func (p *Poller) dropCachedEmpty(paths []string, known map[string]KnownLog) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := paths[:0]
	for _, path := range paths {
		if _, tracked := known[path]; !tracked {
			if size, ok := p.emptyLogs[path]; ok {
				if info, err := os.Stat(path); err == nil && info.Size() == size {
					continue
				}
				delete(p.emptyLogs, path)
			}
		}
		out = append(out, path)
	}
	return out
}

// applyLogEntry refreshes an already-tracked session from a poll snapshot and
// persists it when anything changed.
func (p *Poller) applyLogEntry(sess *registry.Session, entry LogPollData) bool {
	if !p.refreshFromEntry(sess, entry) {
		return false
	}
	if err := p.store.Upsert(sess); err != nil {
		p.logger.Warn("update session", "id", sess.ID, "error", err)
		return false
	}
	return true
}

func (p *Poller) refreshFromEntry(sess *registry.Session, entry LogPollData) bool {
	hasGrown := entry.Size > sess.LastKnownLogSize
	sizeChanged := entry.Size != sess.LastKnownLogSize

	changed := false
	if entry.Meta.IsExec && !sess.IsCodexExec {
		sess.IsCodexExec = true
		changed = true
	}
	if entry.Meta.Slug != "" && sess.Slug == "" {
		sess.Slug = entry.Meta.Slug
		changed = true
	}
	if sizeChanged {
		sess.LastKnownLogSize = entry.Size
		changed = true
	}
	if hasGrown {
		if ts := discovery.ExtractLastEntryTimestamp(entry.Meta.Path); !ts.IsZero() {
			sess.LastActivityAt = ts
		} else {
			sess.LastActivityAt = entry.ModTime
		}
		if msg := discovery.LastUserMessage(entry.Meta.Path); p.shouldUpdateLastUserMessage(sess, msg, sizeChanged) {
			sess.LastUserMessage = msg
		}
		changed = true
	}
	return changed
}

// shouldUpdateLastUserMessage guards against stale log backfill: synthetic
// tool notifications never replace typed text, and a consumer-held lock
// (text freshly typed into the window) blocks any update. A stored
// tool-notification is always eligible for replacement by real text.
func (p *Poller) shouldUpdateLastUserMessage(sess *registry.Session, msg string, sizeChanged bool) bool {
	if msg == "" || discovery.IsToolNotification(msg) {
		return false
	}
	if p.IsLastUserMessageLocked != nil && p.IsLastUserMessageLocked(sess.ID) {
		return false
	}
	if sess.LastUserMessage == "" || discovery.IsToolNotification(sess.LastUserMessage) {
		return true
	}
	return sizeChanged && msg != sess.LastUserMessage
}

// adoptRotatedLog points a tracked session at a replacement transcript for
// the same logical id, keeping its window, pin, and display name.
func (p *Poller) adoptRotatedLog(sess *registry.Session, entry LogPollData) {
	p.logger.Info("transcript rotated", "id", sess.ID, "old", sess.LogFilePath, "new", entry.Meta.Path)
	sess.LogFilePath = entry.Meta.Path
	sess.LastKnownLogSize = 0
	if entry.TokenCount >= 0 {
		sess.TokenCount = entry.TokenCount
	}
	p.refreshFromEntry(sess, entry)
	if err := p.store.Upsert(sess); err != nil {
		p.logger.Warn("update session", "id", sess.ID, "error", err)
	}
}

// tryAttach attempts a window claim for a tracked session without one,
// honouring the per-transcript cooldown and claim arbitration.
func (p *Poller) tryAttach(ctx context.Context, sess *registry.Session, loadPanes func() []match.WindowPane, claims map[string]string, exactFor func(string) (string, bool)) bool {
	if !p.allowMatch(sess.LogFilePath) {
		return false
	}

	key, ok := exactFor(sess.LogFilePath)
	if !ok {
		free := unclaimedPanes(loadPanes(), claims)
		res := p.matcher.MatchWindow(ctx, sess.LogFilePath, free)
		if !res.Matched {
			p.setCooldown(sess.LogFilePath)
			p.logger.Debug("window match failed", "log", sess.LogFilePath, "reason", res.Reason)
			return false
		}
		key = res.Key
	}

	if owner, taken := claims[key]; taken && owner != sess.ID {
		p.logger.Info("log_match_skipped_window_claimed",
			"log", sess.LogFilePath, "window", key, "owner", owner)
		return false
	}
	if err := p.store.ClaimWindow(sess.ID, key); err != nil {
		p.logger.Warn("claim window", "id", sess.ID, "error", err)
		return false
	}
	sess.CurrentWindow = key
	claims[key] = sess.ID
	p.logger.Info("orphan reattached", "id", sess.ID, "window", key)
	if p.OnSessionActivated != nil {
		p.OnSessionActivated(*sess)
	}
	return true
}

// insertNew creates a session record for a fresh transcript, handling slug
// supersede and the window match. Reports whether a record was inserted.
func (p *Poller) insertNew(ctx context.Context, entry LogPollData, loadPanes func() []match.WindowPane, claims map[string]string, exactFor func(string) (string, bool)) bool {
	meta := entry.Meta
	if entry.TokenCount < MinLogTokensForInsert {
		p.mu.Lock()
		p.emptyLogs[meta.Path] = entry.Size
		p.mu.Unlock()
		return false
	}

	sess := registry.Session{
		ID:               meta.LogicalID,
		AgentFamily:      string(meta.Family),
		LogFilePath:      meta.Path,
		ProjectPath:      meta.ProjectPath,
		Slug:             meta.Slug,
		Status:           registry.StatusUnknown,
		IsCodexExec:      meta.IsExec,
		LastKnownLogSize: entry.Size,
		TokenCount:       entry.TokenCount,
		CreatedAt:        time.Now().UTC(),
	}
	if !discovery.IsToolNotification(meta.LastUserMessage) {
		sess.LastUserMessage = meta.LastUserMessage
	}
	if ts := discovery.ExtractLastEntryTimestamp(meta.Path); !ts.IsZero() {
		sess.LastActivityAt = ts
	} else {
		sess.LastActivityAt = entry.ModTime
	}

	if prev := p.findSuperseded(meta); prev != nil {
		// A resumed conversation continues in a new transcript. The new
		// session takes over the old one's identity and window.
		sess.CurrentWindow = prev.CurrentWindow
		sess.IsPinned = prev.IsPinned
		sess.DisplayName = prev.DisplayName
		if err := p.store.ReleaseWindow(prev.ID); err != nil {
			p.logger.Warn("release superseded window", "id", prev.ID, "error", err)
		}
		p.logger.Info("session superseded", "old", prev.ID, "new", sess.ID, "slug", meta.Slug)
		if err := p.store.Upsert(&sess); err != nil {
			p.logger.Warn("insert session", "id", sess.ID, "error", err)
			return false
		}
		if sess.CurrentWindow != "" {
			if err := p.store.ClaimWindow(sess.ID, sess.CurrentWindow); err != nil {
				p.logger.Warn("claim inherited window", "id", sess.ID, "error", err)
			}
			claims[sess.CurrentWindow] = sess.ID
		}
		if p.OnSessionOrphaned != nil {
			old := *prev
			old.CurrentWindow = ""
			p.OnSessionOrphaned(old, sess)
		}
		return true
	}

	sess.DisplayName = p.pickDisplayName(&sess)

	if p.allowMatch(meta.Path) {
		if key, ok := exactFor(meta.Path); ok {
			if owner, taken := claims[key]; taken && owner != sess.ID {
				p.logger.Info("log_match_skipped_window_claimed",
					"log", meta.Path, "window", key, "owner", owner)
			} else {
				sess.CurrentWindow = key
				claims[key] = sess.ID
			}
		} else {
			free := unclaimedPanes(loadPanes(), claims)
			res := p.matcher.MatchWindow(ctx, meta.Path, free)
			if res.Matched {
				if owner, taken := claims[res.Key]; taken && owner != sess.ID {
					p.logger.Info("log_match_skipped_window_claimed",
						"log", meta.Path, "window", res.Key, "owner", owner)
				} else {
					sess.CurrentWindow = res.Key
					claims[res.Key] = sess.ID
				}
			} else {
				p.setCooldown(meta.Path)
				p.logger.Debug("window match failed", "log", meta.Path, "reason", res.Reason)
			}
		}
	}

	if err := p.store.Upsert(&sess); err != nil {
		p.logger.Warn("insert session", "id", sess.ID, "error", err)
		return false
	}
	if sess.CurrentWindow != "" {
		if err := p.store.ClaimWindow(sess.ID, sess.CurrentWindow); err != nil {
			p.logger.Warn("claim window", "id", sess.ID, "error", err)
		}
	}
	return true
}

// findSuperseded looks for an older session sharing the new transcript's slug
// within the same project.
func (p *Poller) findSuperseded(meta discovery.Meta) *registry.Session {
	if meta.Slug == "" {
		return nil
	}
	prev, err := p.store.GetBySlugProject(meta.Slug, meta.ProjectPath)
	if err != nil || prev == nil {
		return nil
	}
	if prev.ID == meta.LogicalID || prev.LogFilePath == meta.Path {
		return nil
	}
	return prev
}

// pickDisplayName derives a unique human-facing name: the slug when present,
// otherwise the raw session id, suffixed on collision.
func (p *Poller) pickDisplayName(sess *registry.Session) string {
	base := sess.Slug
	if base == "" {
		base = sess.ID
	}
	name := base
	for i := 2; ; i++ {
		taken, err := p.store.DisplayNameTaken(name, sess.ID)
		if err != nil || !taken {
			return name
		}
		name = fmt.Sprintf("%s-%d", base, i)
	}
}

func (p *Poller) allowMatch(path string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return time.Now().After(p.cooldown[path])
}

func (p *Poller) setCooldown(path string) {
	p.mu.Lock()
	p.cooldown[path] = time.Now().Add(p.opts.RematchCooldown)
	p.mu.Unlock()
}

// capturePanes enumerates candidate windows and grabs their scrollback.
func (p *Poller) capturePanes() ([]match.WindowPane, map[string]string) {
	windows, err := p.windows.DiscoverWindows(p.opts.TmuxSession, p.opts.DiscoverPrefixes)
	if err != nil {
		p.logger.Warn("discover windows", "error", err)
		return nil, nil
	}

	panes := make([]match.WindowPane, 0, len(windows))
	names := make(map[string]string, len(windows))
	for _, w := range windows {
		content, err := p.windows.CapturePane(w.Key(), p.opts.ScrollbackLines)
		if err != nil {
			continue
		}
		panes = append(panes, match.WindowPane{Key: w.Key(), Content: content})
		names[w.Key()] = w.Name
	}
	return panes, names
}

func unclaimedPanes(panes []match.WindowPane, claims map[string]string) []match.WindowPane {
	var free []match.WindowPane
	for _, pane := range panes {
		if _, taken := claims[pane.Key]; !taken {
			free = append(free, pane)
		}
	}
	return free
}

// RematchOrphans sweeps stored sessions without a window, attempting content
// matches within the configured budget. It runs automatically after the first
// poll and may be invoked on demand; concurrent invocations are no-ops.
func (p *Poller) RematchOrphans(ctx context.Context) {
	if !p.orphanBusy.CompareAndSwap(false, true) {
		return
	}
	defer p.orphanBusy.Store(false)
	p.rematchOrphans(ctx)
}

// rematchOrphans gives stored sessions without a window repeated match
// attempts within a fixed budget, with an exact window-name fallback when
// similarity cannot decide.
func (p *Poller) rematchOrphans(ctx context.Context) {
	deadline := time.Now().Add(p.opts.OrphanBudget)
	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return
		}
		orphans, err := p.store.Orphaned()
		if err != nil || len(orphans) == 0 {
			return
		}

		attached, err := p.store.Attached()
		if err != nil {
			return
		}
		claims := make(map[string]string, len(attached))
		for _, s := range attached {
			claims[s.CurrentWindow] = s.ID
		}

		panes, names := p.capturePanes()
		orphanPaths := make([]string, 0, len(orphans))
		for _, o := range orphans {
			if _, err := os.Stat(o.LogFilePath); err == nil {
				orphanPaths = append(orphanPaths, o.LogFilePath)
			}
		}
		exact := p.matcher.ExactMatches(ctx, orphanPaths, panes)

		activated := false
		for _, orphan := range orphans {
			key := p.matchOrphan(ctx, orphan, panes, names, claims, exact)
			if key == "" {
				continue
			}
			if err := p.store.ClaimWindow(orphan.ID, key); err != nil {
				p.logger.Warn("claim window", "id", orphan.ID, "error", err)
				continue
			}
			claims[key] = orphan.ID
			orphan.CurrentWindow = key
			p.logger.Info("orphan reattached", "id", orphan.ID, "window", key)
			if p.OnSessionActivated != nil {
				p.OnSessionActivated(orphan)
			}
			activated = true
		}
		if activated {
			p.publish()
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(orphanSweepInterval):
		}
	}
}

func (p *Poller) matchOrphan(ctx context.Context, orphan registry.Session, panes []match.WindowPane, names, claims, exact map[string]string) string {
	if key, ok := exact[orphan.LogFilePath]; ok {
		if _, taken := claims[key]; !taken {
			return key
		}
	}

	free := unclaimedPanes(panes, claims)
	if res := p.matcher.MatchWindow(ctx, orphan.LogFilePath, free); res.Matched {
		return res.Key
	}

	// Fallback: a window renamed to exactly this session's display name.
	if orphan.DisplayName == "" {
		return ""
	}
	found := ""
	for key, name := range names {
		if name != orphan.DisplayName {
			continue
		}
		if _, taken := claims[key]; taken {
			continue
		}
		if found != "" {
			return "" // ambiguous
		}
		found = key
	}
	return found
}

// publish mirrors the store into the in-memory registry.
func (p *Poller) publish() {
	sessions, err := p.store.All()
	if err != nil {
		p.logger.Error("load sessions", "error", err)
		return
	}
	p.registry.ReplaceAll(sessions)
}
