package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/finledger/batchcore/logger"
	"github.com/finledger/batchcore/orchestrator"
)

// ServeCmd starts the batch daemon in the foreground.
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the batch daemon",
	Long: `Start the batch daemon in foreground mode.

The daemon will:
- Apply pending database migrations
- Load schedule definitions from the schedules file
- Run the scheduler until interrupted (Ctrl+C)

Shutdown is graceful: the in-flight tick finishes, including any job runs
it already started, before the process exits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		orch, err := orchestrator.New(cfg, logger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize: %w", err)
		}

		if _, err := os.Stat(cfg.SchedulesFile); err == nil {
			if err := orch.LoadSchedules(cfg.SchedulesFile); err != nil {
				orch.Stop()
				return fmt.Errorf("failed to load schedules: %w", err)
			}
		} else {
			logger.Logger.Warnw("Schedules file not found, starting without schedules",
				"path", cfg.SchedulesFile)
		}

		orch.Start()
		fmt.Println("batchd running. Press Ctrl+C to stop.")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh

		logger.Logger.Infow("Shutting down", "signal", sig.String())
		return orch.Stop()
	},
}
