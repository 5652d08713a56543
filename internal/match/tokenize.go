// Package match decides whether a transcript corresponds to a terminal
// window. It extracts comparable text from both sides, normalises it into
// token sets, and scores the overlap; an exec'd substring search tool
// short-circuits the similarity path when a pane signature appears in exactly
// one transcript.
package match

import (
	"regexp"
	"strings"

	"github.com/charmbracelet/x/ansi"
)

// Terminal chrome that must not contribute tokens: spinner/timer status lines,
// UI glyphs, and box-drawing frames drawn by the agent CLIs.
var (
	metadataLineRe = regexp.MustCompile(`(?i)^\s*([✶✻✽·↑↓⧉]|\d+[smh]\s|esc to interrupt|ctrl\+|tokens?\s*[:·]|\? for shortcuts|bypassing permissions)`)
	boxDrawingRe   = regexp.MustCompile(`[\x{2500}-\x{257F}]`)
	uiGlyphRe      = regexp.MustCompile(`[❯›⏺•✶✻✽⎿☒☐]`)
	controlRe      = regexp.MustCompile(`[\x00-\x08\x0B-\x1F\x7F\x80-\x9F]`)
)

// CleanLine strips ANSI sequences, control bytes, box drawing, and UI glyphs
// from one line of pane or log text.
func CleanLine(line string) string {
	s := ansi.Strip(line)
	s = controlRe.ReplaceAllString(s, "")
	s = boxDrawingRe.ReplaceAllString(s, " ")
	s = uiGlyphRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Tokenize lowercases and splits text into whitespace-separated tokens after
// stripping terminal chrome. Lines that are pure status chrome are dropped
// entirely.
func Tokenize(text string) []string {
	var tokens []string
	for _, line := range strings.Split(text, "\n") {
		stripped := ansi.Strip(line)
		if metadataLineRe.MatchString(stripped) {
			continue
		}
		cleaned := CleanLine(line)
		if cleaned == "" {
			continue
		}
		for _, tok := range strings.Fields(strings.ToLower(cleaned)) {
			tokens = append(tokens, tok)
		}
	}
	return tokens
}

// TokenSet builds a set from a token slice.
func TokenSet(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}
