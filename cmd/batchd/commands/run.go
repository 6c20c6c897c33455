package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/finledger/batchcore/batch"
	"github.com/finledger/batchcore/logger"
	"github.com/finledger/batchcore/orchestrator"
)

// RunCmd creates and runs a batch job for a task.
var RunCmd = &cobra.Command{
	Use:   "run <task-name>",
	Short: "Create and run a batch job",
	Long: `Create a batch job for the named task and run it to completion.

Items are supplied as a JSON array of objects, either inline or from a file
with the @ prefix:

  batchd run noop --items '[{}, {}, {}]'
  batchd run payments.payment-run --items @payables.json --key aug-run`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		taskName := args[0]
		itemsArg, _ := cmd.Flags().GetString("items")
		key, _ := cmd.Flags().GetString("key")
		maxAttempts, _ := cmd.Flags().GetInt("max-attempts")

		items, err := parseItems(itemsArg)
		if err != nil {
			return err
		}
		if key == "" {
			return fmt.Errorf("--key is required")
		}

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
		job, err := orch.Executor.CreateJob(ctx, batch.JobSpec{
			TaskName:       taskName,
			IdempotencyKey: key,
			Items:          items,
			MaxAttempts:    maxAttempts,
		})
		if err != nil {
			return err
		}

		result, err := orch.Executor.RunJob(ctx, job.ID)
		if err != nil {
			return err
		}

		fmt.Printf("Job %s: %s (succeeded=%d failed=%d skipped=%d of %d)\n",
			result.JobID, result.Status,
			result.Succeeded, result.Failed, result.Skipped, result.TotalItems)
		for _, item := range result.FailedItems {
			fmt.Printf("  item %d failed [%s]: %s\n", item.Seq, item.ErrorKind, item.Message)
		}
		return nil
	},
}

func init() {
	RunCmd.Flags().String("items", "[]", "JSON array of item inputs, or @file")
	RunCmd.Flags().String("key", "", "Idempotency key for the job (required)")
	RunCmd.Flags().Int("max-attempts", 0, "Max attempts per item (0 = default)")
}

func parseItems(arg string) ([]json.RawMessage, error) {
	data := []byte(arg)
	if strings.HasPrefix(arg, "@") {
		var err error
		data, err = os.ReadFile(strings.TrimPrefix(arg, "@"))
		if err != nil {
			return nil, fmt.Errorf("failed to read items file: %w", err)
		}
	}

	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("items must be a JSON array: %w", err)
	}
	return items, nil
}
