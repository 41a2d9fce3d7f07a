package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Overridden at release time with -ldflags.
var (
	version   = "0.1.0-dev"
	commit    = "none"
	buildDate = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		if jsonOutput {
			printJSON(map[string]string{
				"version":    version,
				"commit":     commit,
				"build_date": buildDate,
				"go":         runtime.Version(),
			})
			return
		}
		fmt.Printf("scenesync %s (commit %s, built %s, %s)\n",
			version, commit, buildDate, runtime.Version())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
