// Package commands contains the batchd CLI commands.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/finledger/batchcore/config"
)

// loadConfig resolves configuration from the --config flag or from
// environment variables and defaults.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}
