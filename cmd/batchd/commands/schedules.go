package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/finledger/batchcore/logger"
	"github.com/finledger/batchcore/orchestrator"
	"github.com/finledger/batchcore/schedule"
)

// SchedulesCmd manages schedule definitions.
var SchedulesCmd = &cobra.Command{
	Use:   "schedules",
	Short: "Manage schedules",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var schedulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List schedules and their fire state",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		orch, err := orchestrator.New(cfg, logger.Logger)
		if err != nil {
			return err
		}
		defer orch.Stop()

		schedules, err := orch.Schedules.List()
		if err != nil {
			return err
		}
		if len(schedules) == 0 {
			fmt.Println("No schedules.")
			return nil
		}

		for _, sched := range schedules {
			state := "enabled"
			if !sched.Enabled {
				state = "disabled"
			}
			fmt.Printf("%-30s %-30s %-10s %s  last=%s  job=%s\n",
				sched.ID, sched.TaskName, state,
				cadenceString(sched),
				timeString(sched.LastFiredAt),
				orDash(sched.LastJobID))
		}
		return nil
	},
}

var schedulesReloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload schedule definitions from the schedules file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		orch, err := orchestrator.New(cfg, logger.Logger)
		if err != nil {
			return err
		}
		defer orch.Stop()

		if err := orch.LoadSchedules(cfg.SchedulesFile); err != nil {
			return err
		}
		fmt.Println("Schedules reloaded.")
		return nil
	},
}

func init() {
	SchedulesCmd.AddCommand(schedulesListCmd)
	SchedulesCmd.AddCommand(schedulesReloadCmd)
}

func cadenceString(sched *schedule.Schedule) string {
	if sched.Cadence == schedule.CadenceCron {
		return fmt.Sprintf("cron(%s)", sched.Expr)
	}
	return fmt.Sprintf("every %s", sched.Every)
}

func timeString(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
