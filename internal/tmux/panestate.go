package tmux

import (
	"regexp"
	"strings"
)

// PaneState is the coarse activity classification read off a pane's visible
// content. It is a fallback signal; transcript-driven status wins when a log
// is matched to the window.
type PaneState string

const (
	PaneWorking    PaneState = "working"
	PaneWaiting    PaneState = "waiting"
	PanePermission PaneState = "permission"
	PaneUnknown    PaneState = "unknown"
)

// Permission dialogs rendered by the agent CLIs. Matched line by line against
// the pane tail.
var permissionRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)do you want to`),
	regexp.MustCompile(`(?i)allow this (command|tool|action)`),
	regexp.MustCompile(`(?i)❯?\s*1\.\s*yes`),
	regexp.MustCompile(`(?i)\by/n\b`),
	regexp.MustCompile(`(?i)grant (access|permission)`),
	regexp.MustCompile(`(?i)approve this`),
}

// Spinner and progress chrome shown while the agent is generating.
var workingRes = []*regexp.Regexp{
	regexp.MustCompile(`esc to interrupt`),
	regexp.MustCompile(`(?i)^\s*[✶✻✽·]+\s*\S`),
	regexp.MustCompile(`(?i)thinking|working|running…`),
}

// ClassifyPane derives the coarse state from the pane's trailing content and
// whether it changed since the previous capture. Permission dialogs win over
// everything; spinner chrome or a changing pane means working; a stable pane
// with a prompt is waiting.
func ClassifyPane(content string, changed bool) PaneState {
	if content == "" {
		return PaneUnknown
	}
	tail := lastNonEmptyLines(content, 20)

	for _, line := range tail {
		for _, re := range permissionRes {
			if re.MatchString(line) {
				return PanePermission
			}
		}
	}
	for _, line := range tail {
		for _, re := range workingRes {
			if re.MatchString(line) {
				return PaneWorking
			}
		}
	}
	if changed {
		return PaneWorking
	}
	for _, line := range tail {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "❯") || strings.HasPrefix(trimmed, "›") {
			return PaneWaiting
		}
	}
	return PaneUnknown
}

func lastNonEmptyLines(content string, n int) []string {
	lines := strings.Split(content, "\n")
	var out []string
	for i := len(lines) - 1; i >= 0 && len(out) < n; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			out = append(out, lines[i])
		}
	}
	return out
}
