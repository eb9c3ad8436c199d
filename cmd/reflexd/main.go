// Reflexd is an adaptive assistant daemon: it matches incoming events
// against learned heuristics, answers emergencies reflexively, defers
// everything else to an external reasoner, and adjusts heuristic
// confidence from explicit and implicit feedback.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "reflexd",
	Short: "Adaptive heuristic routing daemon",
	Long: `reflexd matches incoming events against learned heuristics, routes
them by salience, and learns from feedback.

Events arrive over HTTP or NATS. High-threat events with a confident
matching heuristic are answered immediately; everything else waits in a
priority queue for the external reasoner. Explicit ratings, undo
patterns, ignore streaks, and silence all feed back into per-heuristic
confidence.`,
	Version: version,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show detailed version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("reflexd %s\n", version)
		fmt.Printf("  commit: %s\n", gitCommit)
		fmt.Printf("  built:  %s\n", buildDate)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default ~/.config/reflexd/config.yaml)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
