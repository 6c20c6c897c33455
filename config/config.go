// Package config reads the batchcore daemon configuration using Viper and
// loads schedule definitions from YAML.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/finledger/batchcore/errors"
)

// Config is the full daemon configuration.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Executor  ExecutorConfig  `mapstructure:"executor"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Logging   LoggingConfig   `mapstructure:"logging"`

	// SchedulesFile points to the YAML file with schedule definitions.
	SchedulesFile string `mapstructure:"schedules_file"`
}

// DatabaseConfig configures the SQLite database.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ExecutorConfig configures the batch executor.
type ExecutorConfig struct {
	LeaseTTLSeconds    int `mapstructure:"lease_ttl_seconds"`
	DefaultMaxAttempts int `mapstructure:"default_max_attempts"`
}

// LeaseTTL returns the lease TTL as a duration.
func (c ExecutorConfig) LeaseTTL() time.Duration {
	return time.Duration(c.LeaseTTLSeconds) * time.Second
}

// SchedulerConfig configures the scheduler loop.
type SchedulerConfig struct {
	TickIntervalSeconds    int `mapstructure:"tick_interval_seconds"`
	MetricsIntervalSeconds int `mapstructure:"metrics_interval_seconds"`
}

// TickInterval returns the tick interval as a duration.
func (c SchedulerConfig) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalSeconds) * time.Second
}

// MetricsInterval returns the metrics logging interval as a duration.
func (c SchedulerConfig) MetricsInterval() time.Duration {
	return time.Duration(c.MetricsIntervalSeconds) * time.Second
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	JSON bool `mapstructure:"json"`
}

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "batchcore.db")

	v.SetDefault("executor.lease_ttl_seconds", 60)
	v.SetDefault("executor.default_max_attempts", 3)

	v.SetDefault("scheduler.tick_interval_seconds", 30)
	v.SetDefault("scheduler.metrics_interval_seconds", 300)

	v.SetDefault("logging.json", false)

	v.SetDefault("schedules_file", "schedules.yaml")
}

// Load reads configuration from the environment and defaults only.
func Load() (*Config, error) {
	return LoadWithViper(newViper())
}

// LoadFromFile loads configuration from a specific file path.
func LoadFromFile(configPath string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
	}
	return LoadWithViper(v)
}

// LoadWithViper loads configuration from a provided Viper instance.
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	return &config, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("BATCHCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}
