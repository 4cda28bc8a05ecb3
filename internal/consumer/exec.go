package consumer

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/livinlefevreloca/remindersync/internal/signal"
)

// ExecSync returns a SyncFunc that runs command with the trigger time in
// REMINDERSYNC_TRIGGERED_AT (epoch millis). A non-zero exit fails the sync.
func ExecSync(command []string, timeout time.Duration, logger *slog.Logger) SyncFunc {
	return func(ctx context.Context, sig signal.Signal) error {
		if len(command) == 0 {
			return fmt.Errorf("no sync command configured")
		}

		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		cmd := exec.CommandContext(ctx, command[0], command[1:]...)
		cmd.Env = append(os.Environ(),
			"REMINDERSYNC_TRIGGERED_AT="+strconv.FormatInt(sig.TriggeredAtEpochMillis, 10))

		var out bytes.Buffer
		cmd.Stdout = &out
		cmd.Stderr = &out

		err := cmd.Run()
		output := strings.TrimSpace(out.String())
		if err != nil {
			if output != "" {
				return fmt.Errorf("%s: %w: %s", command[0], err, output)
			}
			return fmt.Errorf("%s: %w", command[0], err)
		}

		logger.Debug("sync command finished", "command", command[0], "output", output)
		return nil
	}
}

// LogSync is the SyncFunc used when no command is configured: it only logs
func LogSync(logger *slog.Logger) SyncFunc {
	return func(_ context.Context, sig signal.Signal) error {
		logger.Info("sync requested with no sync command configured",
			"triggered_at", sig.TriggeredAtEpochMillis)
		return nil
	}
}
