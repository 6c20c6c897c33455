package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/finledger/batchcore/logger"
	"github.com/finledger/batchcore/orchestrator"
)

// RetryCmd re-queues a job's retryable failures and runs the job again.
var RetryCmd = &cobra.Command{
	Use:   "retry <job-id>",
	Short: "Re-queue a job's retryable failures and run it again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jobID := args[0]

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		orch, err := orchestrator.New(cfg, logger.Logger)
		if err != nil {
			return err
		}
		defer orch.Stop()

		ctx := context.Background()
		count, err := orch.Executor.RetryJob(ctx, jobID)
		if err != nil {
			return err
		}
		if count == 0 {
			fmt.Println("No retryable failures to re-queue.")
			return nil
		}

		fmt.Printf("Re-queued %d item(s).\n", count)

		result, err := orch.Executor.RunJob(ctx, jobID)
		if err != nil {
			return err
		}
		fmt.Printf("Job %s: %s (succeeded=%d failed=%d skipped=%d of %d)\n",
			result.JobID, result.Status,
			result.Succeeded, result.Failed, result.Skipped, result.TotalItems)
		return nil
	},
}
