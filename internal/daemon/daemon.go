// Package daemon assembles the sync components into one process: storage,
// the local engine with the sync executor, the lifecycle manager, the
// consumer, and the HTTP and metrics servers.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/livinlefevreloca/remindersync/internal/api"
	"github.com/livinlefevreloca/remindersync/internal/boot"
	"github.com/livinlefevreloca/remindersync/internal/bridge"
	"github.com/livinlefevreloca/remindersync/internal/config"
	"github.com/livinlefevreloca/remindersync/internal/consumer"
	"github.com/livinlefevreloca/remindersync/internal/db"
	"github.com/livinlefevreloca/remindersync/internal/db/migrations"
	"github.com/livinlefevreloca/remindersync/internal/engine"
	"github.com/livinlefevreloca/remindersync/internal/executor"
	"github.com/livinlefevreloca/remindersync/internal/handoff"
	"github.com/livinlefevreloca/remindersync/internal/kvstore"
	"github.com/livinlefevreloca/remindersync/internal/lifecycle"
	"github.com/livinlefevreloca/remindersync/internal/signal"
	"github.com/livinlefevreloca/remindersync/internal/stats"
	"github.com/livinlefevreloca/remindersync/internal/syncer"
	"github.com/livinlefevreloca/remindersync/tools/migrator"
)

// Daemon owns every long-lived component
type Daemon struct {
	config *config.Config
	logger *slog.Logger
	level  *slog.LevelVar

	database  *db.DB
	history   *syncer.Syncer
	engine    *engine.Local
	signals   *signal.Store
	lifecycle *lifecycle.Manager
	handoff   *handoff.Service
	bridge    *bridge.Bridge
	app       *consumer.Service
	exporter  *stats.Exporter
	metrics   *stats.Metrics

	now func() time.Time
}

// RunOptions control a Run
type RunOptions struct {
	// Watched for changes when set
	ConfigPath string

	// Run the boot trigger before serving
	AutoStart bool
}

// New opens the database, applies migrations and builds the components. level
// is the variable behind logger's handler; reloads adjust it.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, level *slog.LevelVar) (*Daemon, error) {
	d := &Daemon{config: cfg, logger: logger, level: level, now: time.Now}

	logger.Info("connecting to database", "driver", cfg.Database.Driver, "dsn", cfg.Database.DSN)
	database, err := db.OpenWithConfig(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	d.database = database

	if err := d.build(ctx); err != nil {
		database.Close()
		return nil, err
	}
	return d, nil
}

func (d *Daemon) build(ctx context.Context) error {
	cfg := d.config

	if cfg.Database.SkipMigrations {
		d.logger.Info("skipping migrations", "reason", "configured to skip")
	} else {
		if err := migrator.RunMigrations(ctx, d.database.DB, migrations.FS, "."); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		version, err := migrator.GetCurrentVersion(ctx, d.database.DB)
		if err != nil {
			return fmt.Errorf("failed to get schema version: %w", err)
		}
		d.logger.Info("database schema ready", "version", version)
	}

	if cfg.Metrics.Enabled {
		exporter, err := stats.NewExporter()
		if err != nil {
			return err
		}
		d.exporter = exporter

		metrics, err := stats.NewMetrics(exporter.Provider())
		if err != nil {
			return err
		}
		d.metrics = metrics
	}

	history, err := syncer.NewSyncer(cfg.Syncer, d.database, d.logger.With("component", "syncer"))
	if err != nil {
		return fmt.Errorf("invalid syncer configuration: %w", err)
	}
	d.history = history

	window, err := cfg.Sync.Blackout()
	if err != nil {
		return err
	}

	d.signals = signal.NewStore(kvstore.NewSQL(d.database))
	d.handoff = handoff.NewService(d.signals, cfg.Sync.HandoffBufferSize, d.logger.With("component", "handoff"),
		handoff.WithDropCounter(d.metrics))

	eng, err := engine.NewLocal(cfg.Engine,
		engine.NewSQLRepository(d.database),
		engine.NewDeviceChecker(cfg.Engine),
		d.logger.With("component", "engine"),
		engine.WithRunRecorder(d.history),
		engine.WithObserver(d.metrics))
	if err != nil {
		return fmt.Errorf("invalid engine configuration: %w", err)
	}
	d.engine = eng

	eng.RegisterWorker(executor.WorkerName, executor.New(window, d.signals, d.logger.With("component", "executor"),
		executor.WithNotifier(d.handoff),
		executor.WithMetrics(d.metrics)))

	d.lifecycle = lifecycle.NewManager(eng, d.signals, cfg.Sync.Config, d.logger.With("component", "lifecycle"))
	d.bridge = bridge.New(d.lifecycle, d.handoff, d.logger.With("component", "bridge"))

	sync := consumer.LogSync(d.logger.With("component", "sync"))
	if len(cfg.Consumer.SyncCommand) > 0 {
		sync = consumer.ExecSync(cfg.Consumer.SyncCommand, cfg.Consumer.SyncTimeout, d.logger.With("component", "sync"))
	}
	d.app = consumer.New(cfg.Consumer, d.lifecycle, d.handoff, d.signals, window, sync,
		d.logger.With("component", "consumer"),
		consumer.WithMetrics(d.metrics))

	d.logger.Info("sync configured",
		"job_name", cfg.Sync.JobName,
		"blackout", window.String(),
		"require_network", cfg.Sync.RequireNetwork,
		"require_storage_not_low", cfg.Sync.RequireStorageNotLow)
	return nil
}

// Boot runs the boot trigger: periodic sync is scheduled again only when the
// user left auto-sync enabled
func (d *Daemon) Boot(ctx context.Context) (bool, error) {
	return boot.NewTrigger(d.signals, d.app, d.logger.With("component", "boot")).OnBoot(ctx)
}

// Handler is the HTTP API
func (d *Daemon) Handler() http.Handler {
	return api.NewRouter(d.bridge, d.app, d.logger.With("component", "api"))
}

// Run starts the engine and serves until ctx is done, then shuts every
// component down. The database stays open until Close.
func (d *Daemon) Run(ctx context.Context, opts RunOptions) error {
	if opts.AutoStart {
		if _, err := d.Boot(ctx); err != nil {
			d.logger.Error("boot trigger failed", "error", err)
		}
	}

	if err := d.engine.Start(ctx); err != nil {
		return err
	}
	d.history.Start()
	defer d.shutdown()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return d.app.Run(gctx)
	})

	g.Go(func() error {
		return api.Serve(gctx, d.config.HTTP, d.Handler(), d.logger.With("component", "api"))
	})

	if d.exporter != nil {
		g.Go(func() error {
			return stats.Serve(gctx, d.config.Metrics, d.exporter.Handler(), d.logger.With("component", "metrics"))
		})
	}

	if opts.ConfigPath != "" {
		watcher := config.NewWatcher(opts.ConfigPath, d.config, d.onReload, d.logger.With("component", "config"))
		g.Go(func() error {
			return watcher.Watch(gctx)
		})
	}

	if d.config.Daemon.HistoryRetention > 0 {
		g.Go(func() error {
			d.pruneLoop(gctx)
			return nil
		})
	}

	d.logger.Info("remindersync is running", "http", d.config.HTTP.ListenAddr())

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (d *Daemon) shutdown() {
	d.logger.Info("shutting down gracefully")
	d.engine.Stop()

	events := d.handoff.Stats()
	d.logger.Info("handoff event totals",
		"published", events.TotalSent,
		"delivered", events.TotalReceived,
		"dropped", events.DroppedCount,
		"undelivered", events.CurrentDepth)

	if err := d.history.Shutdown(); err != nil {
		d.logger.Error("failed to flush run history", "error", err)
	}

	if d.exporter != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.exporter.Shutdown(ctx); err != nil {
			d.logger.Warn("failed to shut down meter provider", "error", err)
		}
	}
}

// Close releases the database
func (d *Daemon) Close() error {
	return d.database.Close()
}

// onReload applies what can change without a restart: the log level and
// the sync interval
func (d *Daemon) onReload(ctx context.Context, previous, current *config.Config) {
	if previous.Logging.Level != current.Logging.Level {
		if level, err := config.ParseLevel(current.Logging.Level); err == nil {
			d.level.Set(level)
			d.logger.Info("log level changed", "level", current.Logging.Level)
		}
	}

	if previous.Consumer.DefaultIntervalMinutes != current.Consumer.DefaultIntervalMinutes {
		minutes, err := d.app.SetSyncInterval(ctx, current.Consumer.DefaultIntervalMinutes)
		if err != nil {
			d.logger.Error("failed to apply new sync interval", "error", err)
		} else {
			d.logger.Info("sync interval changed", "interval_minutes", minutes)
		}
	}

	if previous.Database != current.Database || previous.HTTP != current.HTTP ||
		previous.Engine != current.Engine || previous.Metrics != current.Metrics {
		d.logger.Warn("some configuration changes take effect only after a restart")
	}
}

// pruneLoop deletes run history older than the retention window
func (d *Daemon) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(d.config.Daemon.PruneInterval)
	defer ticker.Stop()

	for {
		d.pruneHistory(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *Daemon) pruneHistory(ctx context.Context) {
	cutoff := d.now().Add(-d.config.Daemon.HistoryRetention)
	removed, err := d.database.PruneWorkRuns(ctx, cutoff.UnixMilli())
	if err != nil {
		if ctx.Err() == nil {
			d.logger.Warn("failed to prune run history", "error", err)
		}
		return
	}
	if removed > 0 {
		d.logger.Info("pruned run history", "runs", removed, "cutoff", cutoff)
	}
}
