package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/finledger/batchcore/db"
	"github.com/finledger/batchcore/logger"
)

// MigrateCmd applies pending database migrations.
var MigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		conn, err := db.Open(cfg.Database.Path, logger.Logger)
		if err != nil {
			return err
		}
		defer conn.Close()

		if err := db.Migrate(conn, logger.Logger); err != nil {
			return err
		}

		fmt.Println("Migrations applied.")
		return nil
	},
}
