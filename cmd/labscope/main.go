// Package main provides the labscope CLI entrypoint.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/edulabs/labscope/internal/logging"
)

var (
	version = "0.1.0"
	pretty  = true
	logger  *logging.Logger
)

func main() {
	logger = logging.New("cli")

	rootCmd := &cobra.Command{
		Use:   "labscope",
		Short: "Lab exercise telemetry, scoring, and scenario validation",
		Long: `labscope drives hands-on lab exercises end to end: it records
student telemetry as an append-only event log, derives scores and
progress from that log, and validates lab modules against declarative
test scenarios.

Use 'labscope run' to validate scenarios against a module catalog.
Use 'labscope watch' to host a live session fed by a watcher process.
Use 'labscope replay' to re-score a recorded session.
Use 'labscope history' to inspect past scenario runs.`,
	}

	rootCmd.PersistentFlags().BoolVar(&pretty, "pretty", true, "Pretty print output")

	rootCmd.AddCommand(
		runCmd(),
		replayCmd(),
		watchCmd(),
		presetsCmd(),
		historyCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show labscope version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("labscope version %s\n", version)
		},
	}
}
