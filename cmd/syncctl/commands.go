package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"affsync/internal/domain"
)

func newSyncCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync [network]",
		Short: "Run a full sync, or one network",
		Long: `Run the advertiser, offer and product passes and reconcile counters.

Without a network every unpaused network is synced. The command waits for
the run to finish and exits 3 when some networks failed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			network, err := parseNetworkArg(args)
			if err != nil {
				return err
			}

			a, err := opts.open(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			var runErr error
			if network == "" {
				runErr = a.Sync.RunAll(cmd.Context())
			} else {
				runErr = a.Sync.RunNetwork(cmd.Context(), network)
			}
			if errors.Is(runErr, domain.ErrSyncInProgress) {
				return runErr
			}

			states := a.Sync.Status()
			if err := opts.print(cmd.OutOrStdout(), states, func(w io.Writer) error {
				return printStates(w, states)
			}); err != nil {
				return err
			}
			if runErr != nil {
				return &partialError{err: runErr}
			}
			return nil
		},
	}
}

func newReconcileCommand(opts *RootOptions) *cobra.Command {
	var networkFlag string

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Recalculate advertiser product and offer counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var network domain.Network
			if networkFlag != "" {
				parsed, err := domain.ParseNetwork(networkFlag)
				if err != nil {
					return err
				}
				network = parsed
			}

			a, err := opts.open(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			summary, err := a.Sync.Reconcile(cmd.Context(), network)
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), summary, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "advertisers %d, updated %d, skipped %d, failed %d\n",
					summary.Advertisers, summary.Updated, summary.Skipped, summary.Failed)
				return err
			})
		},
	}

	cmd.Flags().StringVarP(&networkFlag, "network", "n", "", "limit to one network")
	return cmd
}

func newHistoryCommand(opts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history <network>",
		Short: "Show the newest completed runs of a network",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			network, err := parseNetworkArg(args)
			if err != nil {
				return err
			}

			a, err := opts.open(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			if limit <= 0 {
				limit = a.Config.Sync.HistoryLimit
			}
			logs, err := a.Sync.History(cmd.Context(), network, limit)
			if err != nil {
				return err
			}
			if logs == nil {
				logs = []domain.SyncLog{}
			}
			return opts.print(cmd.OutOrStdout(), logs, func(w io.Writer) error {
				return printHistory(w, logs)
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "l", 0, "number of runs (default from config)")
	return cmd
}

func newServeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP trigger and operator API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Serve(cmd.Context())
		},
	}
}

func printStates(w io.Writer, states []domain.SyncRunState) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NETWORK\tSTATUS\tADVERTISERS\tOFFERS\tPRODUCTS\tERROR")
	for _, s := range states {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			s.Network, s.Status,
			formatCounter(s.Counters.Advertisers),
			formatCounter(s.Counters.Offers),
			formatCounter(s.Counters.Products),
			s.Error)
	}
	return tw.Flush()
}

func printHistory(w io.Writer, logs []domain.SyncLog) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FINISHED\tDURATION\tADVERTISERS\tOFFERS\tPRODUCTS")
	for _, l := range logs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			l.FinishedAt.Format("2006-01-02 15:04:05"), l.Duration.Round(time.Millisecond),
			formatCounter(l.Counters.Advertisers),
			formatCounter(l.Counters.Offers),
			formatCounter(l.Counters.Products))
	}
	return tw.Flush()
}

// formatCounter renders new/updated/skipped/pruned
func formatCounter(c domain.EntityCounter) string {
	return fmt.Sprintf("%d/%d/%d/%d", c.New, c.Updated, c.Skipped, c.Pruned)
}
