// Package boot re-establishes periodic sync after a host restart when the
// user left auto-sync enabled.
package boot

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/livinlefevreloca/remindersync/internal/lifecycle"
)

// Preferences reads the persisted auto-sync preference
type Preferences interface {
	AutoSync(ctx context.Context) (bool, error)
}

// Starter brings up periodic sync
type Starter interface {
	Start(ctx context.Context) (lifecycle.StartResult, error)
}

// Trigger is the one-shot boot hook
type Trigger struct {
	prefs   Preferences
	starter Starter
	logger  *slog.Logger
}

func NewTrigger(prefs Preferences, starter Starter, logger *slog.Logger) *Trigger {
	return &Trigger{prefs: prefs, starter: starter, logger: logger}
}

// OnBoot starts periodic sync if auto-sync is enabled. It reports whether
// sync was started.
func (t *Trigger) OnBoot(ctx context.Context) (bool, error) {
	enabled, err := t.prefs.AutoSync(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to read auto-sync preference: %w", err)
	}

	if !enabled {
		t.logger.Info("auto-sync disabled, not starting background sync")
		return false, nil
	}

	res, err := t.starter.Start(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to start background sync at boot: %w", err)
	}

	t.logger.Info("background sync restored at boot",
		"job_name", res.JobName,
		"interval_minutes", res.EffectiveIntervalMinutes)
	return true, nil
}
