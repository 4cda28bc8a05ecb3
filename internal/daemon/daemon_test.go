package daemon

import (
	"context"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livinlefevreloca/remindersync/internal/api"
	"github.com/livinlefevreloca/remindersync/internal/config"
	"github.com/livinlefevreloca/remindersync/internal/db"
	"github.com/livinlefevreloca/remindersync/internal/testutil"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Database.DSN = ":memory:"
	cfg.Engine.NetworkProbeAddress = ""
	cfg.Engine.StoragePath = ""
	cfg.Syncer.RunFlushInterval = 10 * time.Millisecond
	cfg.HTTP.Port = freePort(t)
	cfg.Daemon.HistoryRetention = 0
	require.NoError(t, cfg.Validate())
	return cfg
}

func newDaemon(t *testing.T, cfg *config.Config) (*Daemon, *testutil.TestLogger) {
	t.Helper()

	logger := testutil.NewTestLogger()
	d, err := New(context.Background(), cfg, logger.Logger(), new(slog.LevelVar))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d, logger
}

// run starts d in the background and returns a function that stops it
func run(t *testing.T, d *Daemon, opts RunOptions) func() {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx, opts) }()

	return func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("daemon did not stop")
		}
	}
}

func waitForHTTP(t *testing.T, client *api.Client) {
	t.Helper()
	testutil.WaitFor(t, func() bool {
		_, err := client.IsSyncRunning(context.Background())
		return err == nil
	}, 5*time.Second, "http server did not come up")
}

func TestDaemon_ServesAndRecordsHistory(t *testing.T) {
	cfg := testConfig(t)
	d, logger := newDaemon(t, cfg)
	stop := run(t, d, RunOptions{})

	client := api.NewClient(cfg.HTTP.BaseURL(), 2*time.Second)
	waitForHTTP(t, client)
	ctx := context.Background()

	started, err := client.StartPeriodicSync(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, 30, started.IntervalMinutes)
	assert.Equal(t, "ReminderSync", started.WorkName)

	running, err := client.IsSyncRunning(ctx)
	require.NoError(t, err)
	assert.True(t, running.IsRunning)

	// The first attempt runs right away and lands in run history
	testutil.WaitFor(t, func() bool {
		runs, err := d.database.ListWorkRuns(ctx, "ReminderSync", 10)
		return err == nil && len(runs) > 0
	}, 5*time.Second, "no run history written")

	status, err := client.GetWorkStatus(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, "NOT_SCHEDULED", status.State)
	assert.NotEmpty(t, status.LastStatus)

	_, err = client.StopPeriodicSync(ctx)
	require.NoError(t, err)

	stop()

	spec, err := d.database.GetWorkSpec(ctx, "ReminderSync")
	require.NoError(t, err)
	assert.Equal(t, "CANCELLED", spec.State)

	_, ok := logger.FindEntry("handoff event totals")
	assert.True(t, ok, "event totals logged on shutdown")
}

func TestDaemon_AutoStart(t *testing.T) {
	cfg := testConfig(t)
	d, logger := newDaemon(t, cfg)
	ctx := context.Background()

	require.NoError(t, d.signals.SetAutoSync(ctx, true))

	stop := run(t, d, RunOptions{AutoStart: true})
	defer stop()

	client := api.NewClient(cfg.HTTP.BaseURL(), 2*time.Second)
	waitForHTTP(t, client)

	running, err := client.IsSyncRunning(ctx)
	require.NoError(t, err)
	assert.True(t, running.IsRunning)
	assert.False(t, logger.HasError())
}

func TestDaemon_BootWithoutPreference(t *testing.T) {
	d, _ := newDaemon(t, testConfig(t))

	started, err := d.Boot(context.Background())
	require.NoError(t, err)
	assert.False(t, started)

	running, err := d.lifecycle.IsRunning(context.Background())
	require.NoError(t, err)
	assert.False(t, running)
}

func TestDaemon_PruneHistory(t *testing.T) {
	cfg := testConfig(t)
	cfg.Daemon.HistoryRetention = time.Hour
	d, _ := newDaemon(t, cfg)
	ctx := context.Background()

	now := time.Date(2024, 3, 14, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	require.NoError(t, d.database.InsertWorkRuns(ctx, []*db.WorkRun{
		{RunID: "old", WorkID: "w", WorkName: "ReminderSync", Attempt: 1, State: "SUCCEEDED",
			StartedAt: now.Add(-2 * time.Hour).UnixMilli(), FinishedAt: now.Add(-2 * time.Hour).UnixMilli()},
		{RunID: "new", WorkID: "w", WorkName: "ReminderSync", Attempt: 1, State: "SUCCEEDED",
			StartedAt: now.Add(-time.Minute).UnixMilli(), FinishedAt: now.Add(-time.Minute).UnixMilli()},
	}))

	d.pruneHistory(ctx)

	runs, err := d.database.ListWorkRuns(ctx, "ReminderSync", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "new", runs[0].RunID)
}

func TestDaemon_ReloadChangesLevelAndInterval(t *testing.T) {
	cfg := testConfig(t)
	d, _ := newDaemon(t, cfg)
	ctx := context.Background()

	_, err := d.app.Start(ctx)
	require.NoError(t, err)

	next := *cfg
	next.Logging.Level = "debug"
	next.Consumer.DefaultIntervalMinutes = 60

	d.onReload(ctx, cfg, &next)

	assert.Equal(t, slog.LevelDebug, d.level.Level())
	minutes, err := d.signals.IntervalMinutes(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 60, minutes)

	info, err := d.engine.QueryStatus(ctx, "ReminderSync")
	require.NoError(t, err)
	assert.Equal(t, time.Hour, info.Interval)
}

func TestDaemon_OpenFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.DSN = filepath.Join(t.TempDir(), "missing", "state.db")

	_, err := New(context.Background(), cfg, testutil.NewTestLogger().Logger(), new(slog.LevelVar))
	assert.Error(t, err)
	_, statErr := os.Stat(cfg.Database.DSN)
	assert.True(t, os.IsNotExist(statErr))
}
