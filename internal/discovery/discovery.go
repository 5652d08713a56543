// Package discovery locates agent transcript files under the known vendor
// roots and extracts per-transcript identity metadata. All extraction fails
// soft: a file that cannot be read or parsed yields empty fields, never an
// aborted scan.
package discovery

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// AgentFamily identifies which vendor produced a transcript.
type AgentFamily string

const (
	FamilyClaude  AgentFamily = "claude"
	FamilyCodex   AgentFamily = "codex"
	FamilyPi      AgentFamily = "pi"
	FamilyUnknown AgentFamily = "unknown"
)

// Roots holds the resolved vendor root directories.
type Roots struct {
	Claude string // <claude-root>/projects/<encoded>/*.jsonl
	Codex  string // <codex-root>/sessions/YYYY/MM/DD/*.jsonl
	Pi     string // <pi-root>/sessions/**/*.jsonl
}

// ResolveRoots builds the vendor roots from environment overrides, falling
// back to the conventional home-directory locations.
func ResolveRoots() Roots {
	home, _ := os.UserHomeDir()
	r := Roots{
		Claude: filepath.Join(home, ".claude"),
		Codex:  filepath.Join(home, ".codex"),
		Pi:     filepath.Join(home, ".pi"),
	}
	if v := os.Getenv("CLAUDE_CONFIG_DIR"); v != "" {
		r.Claude = v
	}
	if v := os.Getenv("CODEX_HOME"); v != "" {
		r.Codex = v
	}
	if v := os.Getenv("PI_HOME"); v != "" {
		r.Pi = v
	}
	return r
}

// WatchDirs returns the directories the log watcher should observe.
func (r Roots) WatchDirs() []string {
	return []string{
		filepath.Join(r.Claude, "projects"),
		filepath.Join(r.Codex, "sessions"),
		filepath.Join(r.Pi, "sessions"),
	}
}

// FamilyForPath infers the agent family from which root contains the path.
func (r Roots) FamilyForPath(path string) AgentFamily {
	switch {
	case under(path, filepath.Join(r.Claude, "projects")):
		return FamilyClaude
	case under(path, filepath.Join(r.Codex, "sessions")):
		return FamilyCodex
	case under(path, filepath.Join(r.Pi, "sessions")):
		return FamilyPi
	}
	return FamilyUnknown
}

func under(path, root string) bool {
	root = filepath.Clean(root)
	path = filepath.Clean(path)
	return path == root || strings.HasPrefix(path, root+string(filepath.Separator))
}

// IsSubagentPath reports whether a path sits inside a subagents/ directory.
// Sub-agent transcripts are excluded from discovery and watching.
func IsSubagentPath(path string) bool {
	norm := filepath.ToSlash(path)
	return strings.Contains(norm, "/subagents/")
}

// Scan walks all vendor roots and returns the absolute paths of every
// transcript found, sorted by modification time descending. Unreadable
// directories are skipped.
func (r Roots) Scan() []string {
	type fileEntry struct {
		path    string
		modTime int64
	}
	var files []fileEntry

	walk := func(root string) {
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				if d.Name() == "subagents" {
					return filepath.SkipDir
				}
				return nil
			}
			if !strings.HasSuffix(d.Name(), ".jsonl") || IsSubagentPath(path) {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return nil
			}
			files = append(files, fileEntry{path: path, modTime: info.ModTime().UnixNano()})
			return nil
		})
	}

	for _, dir := range r.WatchDirs() {
		walk(dir)
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime > files[j].modTime
	})

	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.path
	}
	return out
}
