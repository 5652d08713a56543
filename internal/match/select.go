package match

import "sort"

// Selection thresholds. A window wins only when its score clears the floor
// AND beats the runner-up by a visible margin.
const (
	MinScore = 0.7
	MinGap   = 0.02

	// Token floors for the two comparison granularities.
	MinTokensFull         = 10
	MinTokensLastExchange = 5

	// Sessions with very little text get a relaxed score floor; a fresh
	// transcript cannot accumulate enough overlap to clear 0.7.
	ShortSessionTokens   = 300
	ShortSessionMinScore = 0.3

	// ScrollbackLines is how much pane history is captured per window.
	ScrollbackLines = 2000
)

// Reasons a selection was or was not made.
const (
	ReasonMatched      = "matched"
	ReasonNoWindows    = "no_windows"
	ReasonTooFewTokens = "too_few_tokens"
	ReasonLowScore     = "low_score"
	ReasonLowGap       = "low_gap"
)

// WindowPane is one candidate window's captured scrollback.
type WindowPane struct {
	Key     string
	Content string
}

// Candidate is a scored window.
type Candidate struct {
	Key        string
	Score      float64
	LogTokens  int
	PaneTokens int
}

// Result reports the winning window, if any, and why selection succeeded or
// failed. Candidates are sorted by score descending for logging.
type Result struct {
	Matched    bool
	Key        string
	Score      float64
	Reason     string
	Candidates []Candidate
}

// SelectWindow picks the best-scoring candidate if it clears every gate. The
// score floor drops to ShortSessionMinScore when the transcript side has fewer
// than ShortSessionTokens tokens.
func SelectWindow(candidates []Candidate, logTokenCount, minTokens int) Result {
	if len(candidates) == 0 {
		return Result{Reason: ReasonNoWindows}
	}

	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	best := sorted[0]
	res := Result{Candidates: sorted, Key: best.Key, Score: best.Score}

	if best.LogTokens < minTokens || best.PaneTokens < minTokens {
		res.Reason = ReasonTooFewTokens
		return res
	}

	floor := float64(MinScore)
	if logTokenCount < ShortSessionTokens {
		floor = ShortSessionMinScore
	}
	if best.Score < floor {
		res.Reason = ReasonLowScore
		return res
	}

	if len(sorted) > 1 && best.Score-sorted[1].Score < MinGap {
		res.Reason = ReasonLowGap
		return res
	}

	res.Matched = true
	res.Reason = ReasonMatched
	return res
}
