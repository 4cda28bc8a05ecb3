package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/livinlefevreloca/remindersync/internal/daemon"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var autoStart bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync daemon",
		Long: `Run the sync daemon: apply migrations, resume scheduled work, and serve the
HTTP API until interrupted. With --auto-start the daemon behaves as after a
host restart and schedules periodic sync again if auto-sync is enabled.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemon(cmd.Context(), opts, daemon.RunOptions{
				ConfigPath: opts.configPath,
				AutoStart:  autoStart,
			}, false)
		},
	}

	cmd.Flags().BoolVar(&autoStart, "auto-start", false, "Run the boot trigger before serving")
	return cmd
}

func newBootCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "boot",
		Short: "Run the boot trigger and serve only if auto-sync is enabled",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemon(cmd.Context(), opts, daemon.RunOptions{ConfigPath: opts.configPath}, true)
		},
	}
}

// runDaemon holds the data directory lock for the life of the daemon. With
// bootOnly the daemon exits right away unless the boot trigger started sync.
func runDaemon(ctx context.Context, opts *rootOptions, runOpts daemon.RunOptions, bootOnly bool) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}

	logger, level, err := newLogger(cfg)
	if err != nil {
		return err
	}
	logger.Info("starting remindersync", "config_file", opts.configPath)

	lock := flock.New(cfg.Daemon.LockFile)
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock %s: %w", cfg.Daemon.LockFile, err)
	}
	if !locked {
		return fmt.Errorf("another remindersync daemon holds %s", cfg.Daemon.LockFile)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.Warn("failed to release lock", "path", cfg.Daemon.LockFile, "error", err)
		}
	}()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := daemon.New(ctx, cfg, logger, level)
	if err != nil {
		return err
	}
	defer closeDaemon(d, logger)

	if bootOnly {
		started, err := d.Boot(ctx)
		if err != nil {
			return err
		}
		if !started {
			logger.Info("auto-sync disabled, nothing to serve")
			return nil
		}
	}

	return d.Run(ctx, runOpts)
}

func closeDaemon(d *daemon.Daemon, logger *slog.Logger) {
	if err := d.Close(); err != nil {
		logger.Error("failed to close database", "error", err)
	}
}
