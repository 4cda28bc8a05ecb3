package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/livinlefevreloca/remindersync/internal/api"
	"github.com/livinlefevreloca/remindersync/internal/config"
)

type rootOptions struct {
	configPath string
	server     string
	timeout    time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:          "remindersync",
		Short:        "Background reminder sync scheduler",
		SilenceUsage: true,
		Long: `remindersync schedules a periodic background job that raises a pending-sync
signal outside night hours. The daemon (serve) owns the job; the other
commands talk to a running daemon over HTTP.`,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to configuration file (TOML)")
	cmd.PersistentFlags().StringVar(&opts.server, "server", "", "Daemon base URL (defaults to the [http] address in the config)")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "HTTP client timeout")

	cmd.AddCommand(
		newServeCmd(opts),
		newBootCmd(opts),
		newHistoryCmd(opts),
	)
	cmd.AddCommand(newClientCmds(opts)...)

	return cmd
}

// loadConfig loads and validates the configuration named by --config
func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (o *rootOptions) client() (*api.Client, error) {
	if o.server != "" {
		return api.NewClient(o.server, o.timeout), nil
	}
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	return api.NewClient(cfg.HTTP.BaseURL(), o.timeout), nil
}

// newLogger builds the process logger and installs it as the default
func newLogger(cfg *config.Config) (*slog.Logger, *slog.LevelVar, error) {
	level := new(slog.LevelVar)
	logger, err := config.NewLogger(cfg.Logging, os.Stdout, level)
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger)
	return logger, level, nil
}

func printJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}
