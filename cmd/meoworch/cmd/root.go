package cmd

import (
	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "meow-orch",
	Short: "File-driven workflow orchestrator for long-running coding agents",
	Long: `meow-orch drives a DAG of agent steps to completion: it launches each
step's agent as a plain subprocess, waits for it to write a JSON run
report, and advances the workflow according to gates, loop-backs, and
per-step loop iteration.

No tmux, no IPC socket, no adapter registry: a step is a command line and
a report file.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("meow-orch {{.Version}}\n")
	rootCmd.AddCommand(runCmd)
}
