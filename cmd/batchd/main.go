package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/finledger/batchcore/cmd/batchd/commands"
	"github.com/finledger/batchcore/logger"
)

var rootCmd = &cobra.Command{
	Use:   "batchd",
	Short: "batchd - batch execution daemon for the finledger platform",
	Long: `batchd runs the batch-execution core of the finledger platform.

It executes batch jobs (depreciation runs, payment runs, dunning cycles,
payroll passes, ...) with per-item isolation and bounded retry, and fires
recurring schedules through an in-process scheduler.

Examples:
  batchd migrate                # Apply database migrations
  batchd serve                  # Start the scheduler daemon
  batchd run noop --items @items.json
  batchd retry BJ_6f3a...       # Re-queue a job's retryable failures`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.Initialize(jsonLogs); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to config file (TOML)")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit JSON log output")

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.MigrateCmd)
	rootCmd.AddCommand(commands.RunCmd)
	rootCmd.AddCommand(commands.RetryCmd)
	rootCmd.AddCommand(commands.SchedulesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
