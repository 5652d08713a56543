// Package tmux wraps the tmux subprocess commands the dashboard needs:
// window enumeration, pane capture, and key injection.
package tmux

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Common errors
var (
	ErrNoServer        = errors.New("no tmux server running")
	ErrSessionNotFound = errors.New("session not found")
	ErrWindowNotFound  = errors.New("window not found")
)

// Runner executes a tmux command line and returns trimmed stdout. Tests
// substitute a fake; production uses the exec-backed default.
type Runner func(args ...string) (string, error)

// Tmux wraps tmux operations.
type Tmux struct {
	runner Runner
}

// New creates a Tmux wrapper that shells out to the tmux binary.
func New() *Tmux {
	t := &Tmux{}
	t.runner = t.execRun
	return t
}

// NewWithRunner creates a Tmux wrapper with a custom command runner.
func NewWithRunner(r Runner) *Tmux {
	return &Tmux{runner: r}
}

// execRun executes a tmux command and returns stdout.
func (t *Tmux) execRun(args ...string) (string, error) {
	cmd := exec.Command("tmux", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		return "", wrapError(err, stderr.String(), args)
	}

	return strings.TrimSpace(stdout.String()), nil
}

// wrapError wraps tmux errors with context.
func wrapError(err error, stderr string, args []string) error {
	stderr = strings.TrimSpace(stderr)

	if strings.Contains(stderr, "no server running") ||
		strings.Contains(stderr, "error connecting to") {
		return ErrNoServer
	}
	if strings.Contains(stderr, "session not found") ||
		strings.Contains(stderr, "can't find session") {
		return ErrSessionNotFound
	}
	if strings.Contains(stderr, "can't find window") ||
		strings.Contains(stderr, "window not found") {
		return ErrWindowNotFound
	}

	if stderr != "" {
		return fmt.Errorf("tmux %s: %s", args[0], stderr)
	}
	return fmt.Errorf("tmux %s: %w", args[0], err)
}

func (t *Tmux) run(args ...string) (string, error) {
	return t.runner(args...)
}

// IsAvailable checks if tmux is installed and can be invoked.
func (t *Tmux) IsAvailable() bool {
	cmd := exec.Command("tmux", "-V")
	return cmd.Run() == nil
}

// IsInsideTmux reports whether the current process runs inside a tmux client.
func IsInsideTmux() bool {
	return os.Getenv("TMUX") != ""
}

// HasSession checks if a session exists (exact match). The "=" prefix
// prevents prefix matching.
func (t *Tmux) HasSession(name string) (bool, error) {
	_, err := t.run("has-session", "-t", "="+name)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrNoServer) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ListSessions returns all session names.
func (t *Tmux) ListSessions() ([]string, error) {
	out, err := t.run("list-sessions", "-F", "#{session_name}")
	if err != nil {
		if errors.Is(err, ErrNoServer) {
			return nil, nil
		}
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// Window is one tmux window and its active pane's identity.
type Window struct {
	SessionName string
	WindowID    string // tmux window id, e.g. "@3"
	Name        string
	Active      bool
	PaneCommand string
	PanePath    string
}

// Key is the stable identifier used to correlate a window with a session
// record: "<sessionName>:<windowID>".
func (w Window) Key() string {
	return w.SessionName + ":" + w.WindowID
}

const windowFormat = "#{session_name}\t#{window_id}\t#{window_name}\t#{window_active}\t#{pane_current_command}\t#{pane_current_path}"

// ListWindows returns every window of one session with its active pane's
// command and working directory.
func (t *Tmux) ListWindows(session string) ([]Window, error) {
	out, err := t.run("list-windows", "-t", "="+session, "-F", windowFormat)
	if err != nil {
		if errors.Is(err, ErrNoServer) || errors.Is(err, ErrSessionNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return parseWindows(out), nil
}

func parseWindows(out string) []Window {
	var windows []Window
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		parts := strings.Split(line, "\t")
		if len(parts) < 6 {
			continue
		}
		windows = append(windows, Window{
			SessionName: parts[0],
			WindowID:    parts[1],
			Name:        parts[2],
			Active:      parts[3] == "1",
			PaneCommand: parts[4],
			PanePath:    parts[5],
		})
	}
	return windows
}

// DiscoverWindows enumerates the managed session's windows plus every window
// of external sessions whose name carries one of the discovery prefixes.
func (t *Tmux) DiscoverWindows(managed string, prefixes []string) ([]Window, error) {
	sessions, err := t.ListSessions()
	if err != nil {
		return nil, err
	}

	var windows []Window
	for _, session := range sessions {
		if session == "" {
			continue
		}
		if session != managed && !hasAnyPrefix(session, prefixes) {
			continue
		}
		wins, err := t.ListWindows(session)
		if err != nil {
			continue
		}
		windows = append(windows, wins...)
	}
	return windows, nil
}

func hasAnyPrefix(name string, prefixes []string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// CapturePane captures the last n lines of a window's active pane. The
// target is a window key ("session:@id").
func (t *Tmux) CapturePane(target string, lines int) (string, error) {
	return t.run("capture-pane", "-p", "-t", target, "-S", fmt.Sprintf("-%d", lines))
}

// CapturePaneLines captures the last n lines of a pane as a slice.
func (t *Tmux) CapturePaneLines(target string, lines int) ([]string, error) {
	out, err := t.CapturePane(target, lines)
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// SendKeys sends literal text to a window followed by Enter. Enter goes as a
// separate command so the paste is processed first.
func (t *Tmux) SendKeys(target, keys string) error {
	if _, err := t.run("send-keys", "-t", target, "-l", keys); err != nil {
		return err
	}
	_, err := t.run("send-keys", "-t", target, "Enter")
	return err
}

// SendKeysRaw sends key names without adding Enter.
func (t *Tmux) SendKeysRaw(target, keys string) error {
	_, err := t.run("send-keys", "-t", target, keys)
	return err
}

// SelectWindow focuses a window by key.
func (t *Tmux) SelectWindow(target string) error {
	_, err := t.run("select-window", "-t", target)
	return err
}

// RenameWindow sets a window's display name.
func (t *Tmux) RenameWindow(target, name string) error {
	_, err := t.run("rename-window", "-t", target, name)
	return err
}

// KillWindow closes a window.
func (t *Tmux) KillWindow(target string) error {
	_, err := t.run("kill-window", "-t", target)
	return err
}

// NewWindow creates a window in a session, optionally with a working
// directory and an initial command, and returns its key.
func (t *Tmux) NewWindow(session, name, workDir, command string) (string, error) {
	args := []string{"new-window", "-d", "-t", "=" + session, "-P", "-F", "#{session_name}:#{window_id}"}
	if name != "" {
		args = append(args, "-n", name)
	}
	if workDir != "" {
		args = append(args, "-c", workDir)
	}
	if command != "" {
		args = append(args, command)
	}
	return t.run(args...)
}

// DisplayMessage shows a transient message in the tmux status line.
func (t *Tmux) DisplayMessage(target, message string, durationMs int) error {
	_, err := t.run("display-message", "-t", target, "-d", fmt.Sprintf("%d", durationMs), message)
	return err
}
