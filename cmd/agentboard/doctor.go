package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/marcus/agentboard/internal/config"
	"github.com/marcus/agentboard/internal/discovery"
	"github.com/marcus/agentboard/internal/tmux"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the environment agentboard depends on",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDoctor()
	},
}

func runDoctor() error {
	failed := false
	check := func(name string, ok bool, detail string) {
		mark := "ok"
		if !ok {
			mark = "MISSING"
			failed = true
		}
		fmt.Printf("%-28s %-8s %s\n", name, mark, detail)
	}

	tm := tmux.New()
	check("tmux", tm.IsAvailable(), "required for window enumeration and pane capture")

	rgPath, err := exec.LookPath("rg")
	check("ripgrep", err == nil, rgPath)

	if tm.IsAvailable() {
		sessions, err := tm.ListSessions()
		if err != nil {
			check("tmux server", false, err.Error())
		} else {
			check("tmux server", true, fmt.Sprintf("%d session(s)", len(sessions)))
		}
	}

	roots := discovery.ResolveRoots()
	for _, root := range []struct {
		name string
		path string
	}{
		{"claude root", roots.Claude},
		{"codex root", roots.Codex},
		{"pi root", roots.Pi},
	} {
		_, err := os.Stat(root.path)
		// Absent vendor roots are normal; only report, never fail.
		mark := "ok"
		if err != nil {
			mark = "absent"
		}
		fmt.Printf("%-28s %-8s %s\n", root.name, mark, root.path)
	}

	cfg, err := config.LoadFrom(configPath)
	if err != nil {
		check("config", false, err.Error())
	} else {
		check("config", true, fmt.Sprintf("session=%s db=%s", cfg.TmuxSession, cfg.DBPath))
	}

	if failed {
		return fmt.Errorf("doctor found missing dependencies")
	}
	return nil
}
