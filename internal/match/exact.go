package match

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"runtime"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// SearchTool is the contract for the external substring search engine. The
// real implementation shells out to ripgrep; tests substitute a fake that
// satisfies the same invocation shape.
type SearchTool interface {
	// FilesWithMatch returns the subset of paths whose content contains the
	// literal pattern.
	FilesWithMatch(ctx context.Context, pattern string, paths []string) ([]string, error)
}

// Ripgrep runs the rg binary with -l for file listing. --threads is capped so
// a wide scan cannot saturate the host.
type Ripgrep struct {
	Binary string
}

// NewRipgrep locates the rg binary. The error is fatal at startup: the exact
// match stage cannot run without it.
func NewRipgrep() (*Ripgrep, error) {
	bin, err := exec.LookPath("rg")
	if err != nil {
		return nil, fmt.Errorf("ripgrep not found in PATH: %w", err)
	}
	return &Ripgrep{Binary: bin}, nil
}

func (r *Ripgrep) FilesWithMatch(ctx context.Context, pattern string, paths []string) ([]string, error) {
	if len(paths) == 0 || pattern == "" {
		return nil, nil
	}
	threads := runtime.NumCPU()
	if threads > 4 {
		threads = 4
	}
	args := []string{"-l", "--fixed-strings", "--threads", fmt.Sprint(threads), "--", pattern}
	args = append(args, paths...)

	cmd := exec.CommandContext(ctx, r.Binary, args...)
	out, err := cmd.Output()
	if err != nil {
		// Exit code 1 is "no matches", which is a normal outcome.
		if ee, ok := err.(*exec.ExitError); ok && ee.ExitCode() == 1 {
			return nil, nil
		}
		return nil, fmt.Errorf("rg: %w", err)
	}

	var files []string
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

// signatureMinLen is the shortest pane line considered distinctive enough to
// search for. Short fragments collide across unrelated transcripts.
const signatureMinLen = 24

var signatureNoiseRe = regexp.MustCompile(`^[\s\d\W]*$`)

// PaneSignature picks the most recent pane line that is long and distinctive
// enough to identify a transcript. Returns "" when no line qualifies.
func PaneSignature(paneContent string) string {
	lines := strings.Split(paneContent, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		cleaned := CleanLine(lines[i])
		if len(cleaned) < signatureMinLen {
			continue
		}
		if signatureNoiseRe.MatchString(cleaned) {
			continue
		}
		return cleaned
	}
	return ""
}

// SignatureHash keys a signature for caching negative search results within a
// poll cycle.
func SignatureHash(signature string) uint64 {
	return xxhash.Sum64String(signature)
}

// ExactMatches runs the substring tool once per window signature and returns
// logPath → windowKey for every unique hit. A signature found in more than
// one transcript is ambiguous and treated as a non-match.
func ExactMatches(ctx context.Context, tool SearchTool, logPaths []string, windows []WindowPane) map[string]string {
	out := make(map[string]string)
	if tool == nil || len(logPaths) == 0 {
		return out
	}
	seen := make(map[uint64]struct{})
	for _, win := range windows {
		sig := PaneSignature(win.Content)
		if sig == "" {
			continue
		}
		h := SignatureHash(sig)
		if _, dup := seen[h]; dup {
			// Two windows showing the same signature cannot be told apart.
			continue
		}
		seen[h] = struct{}{}

		files, err := tool.FilesWithMatch(ctx, sig, logPaths)
		if err != nil || len(files) != 1 {
			continue
		}
		if _, taken := out[files[0]]; taken {
			delete(out, files[0])
			continue
		}
		out[files[0]] = win.Key
	}
	return out
}
