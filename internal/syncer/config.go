package syncer

import (
	"fmt"
	"time"
)

// Config defines the run-history write buffering
type Config struct {
	// Maximum buffered run updates before BufferRunUpdate reports overflow
	MaxBufferedRunUpdates int `toml:"max_buffered_run_updates"`

	// Channel buffer between the buffer and the writer goroutine
	RunChannelSize int `toml:"run_channel_size"`

	// Flushing - size OR time triggers a flush
	RunFlushThreshold int           `toml:"run_flush_threshold"`
	RunFlushInterval  time.Duration `toml:"run_flush_interval"`

	// Upper bound on a single batch write
	WriteTimeout time.Duration `toml:"write_timeout"`
}

// DefaultConfig returns defaults sized for one periodic job
func DefaultConfig() Config {
	return Config{
		MaxBufferedRunUpdates: 1000,
		RunChannelSize:        100,
		RunFlushThreshold:     10,
		RunFlushInterval:      5 * time.Second,
		WriteTimeout:          10 * time.Second,
	}
}

// Validate returns an error describing the first invalid field
func (c Config) Validate() error {
	if c.MaxBufferedRunUpdates <= 0 {
		return fmt.Errorf("max_buffered_run_updates must be positive, got %d", c.MaxBufferedRunUpdates)
	}

	if c.RunChannelSize <= 0 {
		return fmt.Errorf("run_channel_size must be positive, got %d", c.RunChannelSize)
	}

	if c.RunFlushThreshold <= 0 {
		return fmt.Errorf("run_flush_threshold must be positive, got %d", c.RunFlushThreshold)
	}

	if c.RunFlushInterval <= 0 {
		return fmt.Errorf("run_flush_interval must be positive, got %v", c.RunFlushInterval)
	}

	if c.WriteTimeout <= 0 {
		return fmt.Errorf("write_timeout must be positive, got %v", c.WriteTimeout)
	}

	return nil
}
