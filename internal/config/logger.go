package config

import (
	"fmt"
	"io"
	"log/slog"
)

// ParseLevel maps a [logging] level name to a slog level
func ParseLevel(name string) (slog.Level, error) {
	switch name {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", name)
	}
}

// NewLogger builds the process logger. The level is read through level so a
// reload can change it without rebuilding the handler.
func NewLogger(c LoggingConfig, w io.Writer, level *slog.LevelVar) (*slog.Logger, error) {
	l, err := ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	level.Set(l)

	opts := &slog.HandlerOptions{Level: level}
	switch c.Format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format: %s (must be text or json)", c.Format)
	}
}
