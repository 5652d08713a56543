package main

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the agentboard version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("agentboard version %s\n", effectiveVersion())
	},
}

// effectiveVersion prefers the ldflags-injected version and falls back to the
// module version recorded in build info ("devel" for untagged builds).
func effectiveVersion() string {
	if Version != "" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "devel"
}
