package discovery

import (
	"os"
	"strings"
)

// EncodeProjectPath converts an absolute project path into the directory name
// used under <claude-root>/projects/. Slashes become dashes.
func EncodeProjectPath(p string) string {
	return strings.ReplaceAll(p, "/", "-")
}

// DecodeProjectPath inverts EncodeProjectPath. The encoding is lossy for
// paths that themselves contain dashes, so decoding probes the filesystem to
// recover the real segmentation; when no existing path resolves, every dash
// is treated as a separator. Callers that need a guaranteed answer should
// prefer the cwd recorded inside the transcript.
func DecodeProjectPath(name string) string {
	naive := strings.ReplaceAll(name, "-", "/")
	if pathExists(naive) {
		return naive
	}
	if probed := probeDecode(name); probed != "" {
		return probed
	}
	return naive
}

func pathExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

// probeDecode rebuilds the original path one component at a time, extending a
// component with dashes until the partial path exists on disk. Returns ""
// when no prefix resolves.
func probeDecode(name string) string {
	trimmed := strings.TrimPrefix(name, "-")
	if trimmed == "" {
		return ""
	}
	parts := strings.Split(trimmed, "-")
	path := ""
	for i := 0; i < len(parts); {
		seg := parts[i]
		i++
		for !pathExists(path + "/" + seg) {
			if i >= len(parts) {
				return ""
			}
			seg += "-" + parts[i]
			i++
		}
		path += "/" + seg
	}
	return path
}
