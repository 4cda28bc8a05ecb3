package engine

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	BackoffExponential = "exponential"
	BackoffConstant    = "constant"
)

// Config defines how the local engine schedules, checks and retries work
type Config struct {
	// Requested intervals below this are raised to it
	MinInterval time.Duration `toml:"min_interval"`

	// How long to wait before re-checking unmet constraints
	ConstraintRecheckInterval time.Duration `toml:"constraint_recheck_interval"`

	// Retry backoff
	BackoffPolicy  string        `toml:"backoff_policy"`
	BackoffInitial time.Duration `toml:"backoff_initial"`
	BackoffMax     time.Duration `toml:"backoff_max"`
	BackoffJitter  float64       `toml:"backoff_jitter"`

	// Consecutive retries before a run is recorded as failed; 0 is unlimited
	MaxAttempts int `toml:"max_attempts"`

	// Constraint probes
	NetworkProbeAddress string        `toml:"network_probe_address"`
	NetworkProbeTimeout time.Duration `toml:"network_probe_timeout"`
	StoragePath         string        `toml:"storage_path"`
	MinFreeStorageBytes uint64        `toml:"min_free_storage_bytes"`
}

// DefaultConfig mirrors the mobile scheduler's limits: 15 minute minimum
// period, exponential backoff from 30 seconds capped at 5 hours
func DefaultConfig() Config {
	return Config{
		MinInterval:               15 * time.Minute,
		ConstraintRecheckInterval: 1 * time.Minute,
		BackoffPolicy:             BackoffExponential,
		BackoffInitial:            30 * time.Second,
		BackoffMax:                5 * time.Hour,
		BackoffJitter:             0,
		MaxAttempts:               0,
		NetworkProbeAddress:       "1.1.1.1:443",
		NetworkProbeTimeout:       3 * time.Second,
		StoragePath:               ".",
		MinFreeStorageBytes:       64 << 20,
	}
}

// Validate returns an error describing the first invalid field
func (c Config) Validate() error {
	if c.MinInterval <= 0 {
		return fmt.Errorf("engine min_interval must be positive")
	}
	if c.ConstraintRecheckInterval <= 0 {
		return fmt.Errorf("engine constraint_recheck_interval must be positive")
	}
	if c.BackoffPolicy != BackoffExponential && c.BackoffPolicy != BackoffConstant {
		return fmt.Errorf("unsupported backoff policy: %s (must be %s or %s)", c.BackoffPolicy, BackoffExponential, BackoffConstant)
	}
	if c.BackoffInitial <= 0 {
		return fmt.Errorf("engine backoff_initial must be positive")
	}
	if c.BackoffMax < c.BackoffInitial {
		return fmt.Errorf("engine backoff_max must be at least backoff_initial")
	}
	if c.BackoffJitter < 0 || c.BackoffJitter >= 1 {
		return fmt.Errorf("engine backoff_jitter must be in [0, 1)")
	}
	if c.MaxAttempts < 0 {
		return fmt.Errorf("engine max_attempts must not be negative")
	}
	if c.NetworkProbeAddress != "" && c.NetworkProbeTimeout <= 0 {
		return fmt.Errorf("engine network_probe_timeout must be positive")
	}
	return nil
}

// newBackOff builds the retry schedule for one work record
func (c Config) newBackOff() backoff.BackOff {
	if c.BackoffPolicy == BackoffConstant {
		return backoff.NewConstantBackOff(c.BackoffInitial)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.BackoffInitial
	b.MaxInterval = c.BackoffMax
	b.Multiplier = 2
	b.RandomizationFactor = c.BackoffJitter
	b.Reset()
	return b
}
