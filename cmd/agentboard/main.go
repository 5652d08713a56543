// agentboard correlates live tmux windows with on-disk agent transcripts and
// keeps an ordered, persistent session board.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags.
var Version = ""

var configPath string

var rootCmd = &cobra.Command{
	Use:   "agentboard",
	Short: "Session board for tmux-hosted AI agents",
	Long: `agentboard watches the transcript directories of claude, codex, and pi
agents, matches each session to the tmux window it runs in, and maintains a
status-ordered session registry backed by SQLite.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBoard(cmd.Context())
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")
	rootCmd.AddCommand(runCmd, doctorCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
