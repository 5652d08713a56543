package match

import (
	"context"
	"log/slog"
	"strings"
)

// Matcher scores a transcript against a set of candidate windows. The zero
// value is not usable; construct with NewMatcher.
type Matcher struct {
	search SearchTool
	logger *slog.Logger
}

func NewMatcher(search SearchTool, logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Matcher{search: search, logger: logger}
}

// ExactMatches runs the substring short-circuit for a poll cycle: each
// window's tail signature is searched across the full candidate transcript
// set, and only a signature found in exactly one transcript yields a pairing.
// The returned map is logPath to windowKey.
func (m *Matcher) ExactMatches(ctx context.Context, logPaths []string, windows []WindowPane) map[string]string {
	hits := ExactMatches(ctx, m.search, logPaths, windows)
	for logPath, key := range hits {
		m.logger.Debug("exact signature match", "log", logPath, "window", key)
	}
	return hits
}

// MatchWindow scores one transcript against candidate windows by similarity:
// the full tail pass, then the last-exchange pass. The exact short-circuit
// runs separately, once per cycle, via ExactMatches.
func (m *Matcher) MatchWindow(ctx context.Context, logPath string, windows []WindowPane) Result {
	if len(windows) == 0 {
		return Result{Reason: ReasonNoWindows}
	}

	if res := m.fullPass(logPath, windows); res.Matched {
		return res
	}

	return m.lastExchangePass(logPath, windows)
}

func (m *Matcher) fullPass(logPath string, windows []WindowPane) Result {
	logTokens := TokenSet(Tokenize(ExtractLogText(logPath, ModeAll, DefaultByteLimit, DefaultLineLimit)))

	candidates := make([]Candidate, 0, len(windows))
	for _, win := range windows {
		paneTokens := TokenSet(Tokenize(win.Content))
		candidates = append(candidates, Candidate{
			Key:        win.Key,
			Score:      Hybrid(logTokens, paneTokens, MinTokensFull),
			LogTokens:  len(logTokens),
			PaneTokens: len(paneTokens),
		})
	}
	res := SelectWindow(candidates, len(logTokens), MinTokensFull)
	m.logger.Debug("full similarity pass", "log", logPath, "reason", res.Reason, "score", res.Score, "window", res.Key)
	return res
}

func (m *Matcher) lastExchangePass(logPath string, windows []WindowPane) Result {
	logEx := LastExchangeFromLog(logPath)
	logTokens := TokenSet(Tokenize(logEx.User + "\n" + logEx.Assistant))

	candidates := make([]Candidate, 0, len(windows))
	for _, win := range windows {
		paneEx := LastExchangeFromPane(splitLines(win.Content))
		paneTokens := TokenSet(Tokenize(paneEx.User + "\n" + paneEx.Assistant))
		candidates = append(candidates, Candidate{
			Key:        win.Key,
			Score:      Hybrid(logTokens, paneTokens, MinTokensLastExchange),
			LogTokens:  len(logTokens),
			PaneTokens: len(paneTokens),
		})
	}
	res := SelectWindow(candidates, len(logTokens), MinTokensLastExchange)
	m.logger.Debug("last exchange pass", "log", logPath, "reason", res.Reason, "score", res.Score, "window", res.Key)
	return res
}

func splitLines(s string) []string {
	return strings.Split(s, "\n")
}
