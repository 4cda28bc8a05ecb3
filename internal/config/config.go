package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/livinlefevreloca/remindersync/internal/api"
	"github.com/livinlefevreloca/remindersync/internal/blackout"
	"github.com/livinlefevreloca/remindersync/internal/consumer"
	"github.com/livinlefevreloca/remindersync/internal/db"
	"github.com/livinlefevreloca/remindersync/internal/engine"
	"github.com/livinlefevreloca/remindersync/internal/lifecycle"
	"github.com/livinlefevreloca/remindersync/internal/stats"
	"github.com/livinlefevreloca/remindersync/internal/syncer"
)

// Config represents the application configuration
type Config struct {
	Daemon   DaemonConfig    `toml:"daemon"`
	Database db.Config       `toml:"database"`
	Engine   engine.Config   `toml:"engine"`
	Sync     SyncConfig      `toml:"sync"`
	Consumer consumer.Config `toml:"consumer"`
	Syncer   syncer.Config   `toml:"syncer"`
	HTTP     api.Config      `toml:"http"`
	Metrics  stats.Config    `toml:"metrics"`
	Logging  LoggingConfig   `toml:"logging"`
}

// DaemonConfig holds process-level settings for the serve command
type DaemonConfig struct {
	LockFile string `toml:"lock_file"`

	// Run history older than this is pruned; 0 keeps everything
	HistoryRetention time.Duration `toml:"history_retention"`
	PruneInterval    time.Duration `toml:"prune_interval"`
}

// SyncConfig holds the periodic job settings and the night window
type SyncConfig struct {
	lifecycle.Config

	BlackoutStartHour int    `toml:"blackout_start_hour"`
	BlackoutEndHour   int    `toml:"blackout_end_hour"`
	Timezone          string `toml:"timezone"`

	// Capacity of the in-process handoff queue
	HandoffBufferSize int `toml:"handoff_buffer_size"`
}

// Blackout builds the night window
func (c SyncConfig) Blackout() (blackout.Window, error) {
	return blackout.New(c.BlackoutStartHour, c.BlackoutEndHour, c.Timezone)
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Daemon: DaemonConfig{
			LockFile:         "remindersync.lock",
			HistoryRetention: 30 * 24 * time.Hour,
			PruneInterval:    1 * time.Hour,
		},
		Database: db.Config{
			Driver:          "sqlite3",
			DSN:             "remindersync.db",
			MaxOpenConns:    4,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
			SkipMigrations:  false,
		},
		Engine: engine.DefaultConfig(),
		Sync: SyncConfig{
			Config:            lifecycle.DefaultConfig(),
			BlackoutStartHour: blackout.DefaultStartHour,
			BlackoutEndHour:   blackout.DefaultEndHour,
			Timezone:          "Local",
			HandoffBufferSize: 16,
		},
		Consumer: consumer.DefaultConfig(),
		Syncer:   syncer.DefaultConfig(),
		HTTP:     api.DefaultConfig(),
		Metrics:  stats.DefaultConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadFromFile loads configuration from a TOML file
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", path)
	}

	if _, err := toml.DecodeFile(path, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// LoadConfig loads configuration with the following precedence:
// 1. Default values
// 2. Config file (if specified)
// 3. Command-line flags (handled by caller)
func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		return DefaultConfig(), nil
	}
	return LoadFromFile(configPath)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Daemon.HistoryRetention < 0 {
		return fmt.Errorf("daemon history_retention must not be negative")
	}
	if c.Daemon.HistoryRetention > 0 && c.Daemon.PruneInterval <= 0 {
		return fmt.Errorf("daemon prune_interval must be positive when history_retention is set")
	}

	// Only sqlite ships a driver
	if c.Database.Driver != "sqlite3" {
		return fmt.Errorf("unsupported database driver: %q (must be sqlite3)", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database DSN must be specified")
	}

	if err := c.Engine.Validate(); err != nil {
		return err
	}

	if err := c.Sync.Config.Validate(); err != nil {
		return err
	}
	if _, err := c.Sync.Blackout(); err != nil {
		return err
	}
	if c.Sync.HandoffBufferSize <= 0 {
		return fmt.Errorf("sync handoff_buffer_size must be positive")
	}

	if err := c.Consumer.Validate(); err != nil {
		return err
	}
	if err := c.Syncer.Validate(); err != nil {
		return fmt.Errorf("syncer: %w", err)
	}
	if err := c.HTTP.Validate(); err != nil {
		return err
	}
	if err := c.Metrics.Validate(); err != nil {
		return err
	}

	if _, err := ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Logging.Format)
	}

	return nil
}
