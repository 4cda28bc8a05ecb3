package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/livinlefevreloca/remindersync/internal/db"
)

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent sync attempts from the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			database, err := db.OpenWithConfig(cfg.Database)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer database.Close()

			runs, err := database.ListWorkRuns(cmd.Context(), cfg.Sync.JobName, limit)
			if err != nil {
				return fmt.Errorf("failed to list runs: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "FINISHED\tSTATE\tATTEMPT\tOUTPUT\tERROR")
			for _, run := range runs {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
					time.UnixMilli(run.FinishedAt).Format(time.RFC3339),
					run.State,
					run.Attempt,
					deref(run.Output),
					deref(run.Error))
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum runs to show")
	return cmd
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
