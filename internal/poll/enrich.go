// Package poll drives the correlation cycle: enrich changed transcripts,
// reconcile them with stored sessions, and match new ones to tmux windows.
package poll

import (
	"os"
	"sort"
	"time"

	"github.com/marcus/agentboard/internal/discovery"
	"github.com/marcus/agentboard/internal/match"
)

const (
	// MaxLogsPerPoll bounds a regular poll cycle; backfill scans get more.
	MaxLogsPerPoll  = 25
	MaxLogsBackfill = 100

	// TokenCountKnown marks entries for already-tracked sessions, whose
	// token count is not recomputed.
	TokenCountKnown = -1
)

// KnownLog marks a transcript already tracked in the store. ExecKnown
// suppresses the codex header re-read once the exec flag is settled.
type KnownLog struct {
	ExecKnown bool
}

// LogPollData is one transcript's enriched snapshot for a poll cycle.
type LogPollData struct {
	Meta    discovery.Meta
	Size    int64
	ModTime time.Time
	// TokenCount is the distinct token count of the log tail, or
	// TokenCountKnown for sessions already in the store.
	TokenCount int
}

// EnrichLogs stats and classifies the given transcripts. Paths belonging to
// known sessions take the fast path: no tail read, token count sentinel, and
// for codex files whose exec flag is still unsettled, a cheap header
// re-check. Unknown paths get full metadata extraction and a token count.
// Results are sorted newest first and truncated to maxLogs.
func EnrichLogs(roots discovery.Roots, paths []string, known map[string]KnownLog, maxLogs int) []LogPollData {
	if maxLogs < 1 {
		maxLogs = 1
	}

	var out []LogPollData
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}

		if k, ok := known[path]; ok {
			family := roots.FamilyForPath(path)
			var isExec, isSubagent bool
			if family == discovery.FamilyCodex && !k.ExecKnown {
				isExec, isSubagent = roots.RefreshExecFlag(path)
			}
			out = append(out, LogPollData{
				Meta: discovery.Meta{
					Path:       path,
					Family:     family,
					IsExec:     isExec,
					IsSubagent: isSubagent,
				},
				Size:       info.Size(),
				ModTime:    info.ModTime(),
				TokenCount: TokenCountKnown,
			})
			continue
		}

		meta := roots.ExtractMeta(path)
		text := match.ExtractLogText(path, match.ModeAll, match.DefaultByteLimit, match.DefaultLineLimit)
		out = append(out, LogPollData{
			Meta:       meta,
			Size:       info.Size(),
			ModTime:    info.ModTime(),
			TokenCount: len(match.TokenSet(match.Tokenize(text))),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ModTime.After(out[j].ModTime)
	})
	if len(out) > maxLogs {
		out = out[:maxLogs]
	}
	return out
}
