package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/livinlefevreloca/remindersync/internal/api"
)

// clientCmd builds a command that calls the daemon and prints the response
func clientCmd(opts *rootOptions, use, short string, args cobra.PositionalArgs, call func(ctx context.Context, c *api.Client, args []string) (any, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			resp, err := call(cmd.Context(), client, args)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
}

func newClientCmds(opts *rootOptions) []*cobra.Command {
	var interval int

	start := clientCmd(opts, "start", "Schedule or update periodic sync", cobra.NoArgs,
		func(ctx context.Context, c *api.Client, _ []string) (any, error) {
			return c.StartPeriodicSync(ctx, interval)
		})
	start.Flags().IntVar(&interval, "interval", 30, "Requested interval in minutes (raised to 15)")

	return []*cobra.Command{
		start,
		clientCmd(opts, "stop", "Cancel periodic sync", cobra.NoArgs,
			func(ctx context.Context, c *api.Client, _ []string) (any, error) {
				return c.StopPeriodicSync(ctx)
			}),
		clientCmd(opts, "running", "Report whether periodic sync is scheduled", cobra.NoArgs,
			func(ctx context.Context, c *api.Client, _ []string) (any, error) {
				return c.IsSyncRunning(ctx)
			}),
		clientCmd(opts, "status", "Show the periodic sync job status", cobra.NoArgs,
			func(ctx context.Context, c *api.Client, _ []string) (any, error) {
				return c.GetWorkStatus(ctx)
			}),
		clientCmd(opts, "pending", "Show the pending-sync signal", cobra.NoArgs,
			func(ctx context.Context, c *api.Client, _ []string) (any, error) {
				return c.CheckPendingSync(ctx)
			}),
		clientCmd(opts, "clear", "Clear the pending-sync signal", cobra.NoArgs,
			func(ctx context.Context, c *api.Client, _ []string) (any, error) {
				return c.ClearPendingSync(ctx)
			}),
		clientCmd(opts, "enable", "Start sync at the stored interval and enable auto-sync at boot", cobra.NoArgs,
			func(ctx context.Context, c *api.Client, _ []string) (any, error) {
				return c.AppStart(ctx)
			}),
		clientCmd(opts, "disable", "Stop sync and disable auto-sync at boot", cobra.NoArgs,
			func(ctx context.Context, c *api.Client, _ []string) (any, error) {
				if err := c.AppStop(ctx); err != nil {
					return nil, err
				}
				return map[string]bool{"success": true}, nil
			}),
		clientCmd(opts, "interval MINUTES", "Store a new sync interval, rescheduling if sync is running", cobra.ExactArgs(1),
			func(ctx context.Context, c *api.Client, args []string) (any, error) {
				minutes, err := strconv.Atoi(args[0])
				if err != nil {
					return nil, fmt.Errorf("invalid interval %q: %w", args[0], err)
				}
				return c.SetSyncInterval(ctx, minutes)
			}),
		clientCmd(opts, "state", "Show stored sync preferences and the last attempt outcome", cobra.NoArgs,
			func(ctx context.Context, c *api.Client, _ []string) (any, error) {
				return c.AppState(ctx)
			}),
		clientCmd(opts, "sync-now", "Run the pending sync if one is waiting", cobra.NoArgs,
			func(ctx context.Context, c *api.Client, _ []string) (any, error) {
				return c.SyncNow(ctx)
			}),
	}
}
