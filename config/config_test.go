package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "batchcore.db", cfg.Database.Path)
	assert.Equal(t, 60*time.Second, cfg.Executor.LeaseTTL())
	assert.Equal(t, 3, cfg.Executor.DefaultMaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.TickInterval())
	assert.Equal(t, 5*time.Minute, cfg.Scheduler.MetricsInterval())
	assert.False(t, cfg.Logging.JSON)
	assert.Equal(t, "schedules.yaml", cfg.SchedulesFile)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
schedules_file = "/etc/batchcore/schedules.yaml"

[database]
path = "/var/lib/batchcore/ledger.db"

[executor]
lease_ttl_seconds = 120

[logging]
json = true
`), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/batchcore/ledger.db", cfg.Database.Path)
	assert.Equal(t, 2*time.Minute, cfg.Executor.LeaseTTL())
	assert.True(t, cfg.Logging.JSON)
	assert.Equal(t, "/etc/batchcore/schedules.yaml", cfg.SchedulesFile)

	// Unset keys keep their defaults.
	assert.Equal(t, 3, cfg.Executor.DefaultMaxAttempts)
}

func TestLoadWithViperOverrides(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("scheduler.tick_interval_seconds", 5)

	cfg, err := LoadWithViper(v)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Scheduler.TickInterval())
}
