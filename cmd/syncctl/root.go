package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/sethvargo/go-envconfig"
	"github.com/spf13/cobra"

	"affsync/internal/app"
	"affsync/internal/domain"
	"affsync/pkg/config"
)

const (
	exitFailure = 1
	// a sync finished but some networks failed
	exitPartial = 3
)

var validFormats = []string{"text", "json"}

// RootOptions holds the global flags
type RootOptions struct {
	ConfigFile string
	Format     string
	LogLevel   string

	// lookuper replaces the process environment in tests
	lookuper envconfig.Lookuper
}

// partialError marks a run whose failed networks are already reported
type partialError struct {
	err error
}

func (e *partialError) Error() string { return e.err.Error() }
func (e *partialError) Unwrap() error { return e.err }

func exitCode(err error) int {
	var partial *partialError
	if errors.As(err, &partial) {
		return exitPartial
	}
	return exitFailure
}

// NewRootCommand creates the syncctl command tree
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{lookuper: envconfig.OsLookuper()})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "syncctl",
		Short: "Affiliate network sync engine",
		Long:  "Pull advertisers, offers and products from the affiliate networks into the record store.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(validFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, validFormats)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigFile, "config", "c", "", "YAML config file (default $"+config.ConfigFileEnv+")")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "override the configured log level")

	cmd.AddCommand(newSyncCommand(opts))
	cmd.AddCommand(newReconcileCommand(opts))
	cmd.AddCommand(newHistoryCommand(opts))
	cmd.AddCommand(newServeCommand(opts))

	return cmd
}

// open loads configuration and wires the application. Logs go to stderr
// so stdout carries only command output.
func (o *RootOptions) open(ctx context.Context, logOutput io.Writer) (*app.App, error) {
	path := o.ConfigFile
	if path == "" {
		path, _ = o.lookuper.Lookup(config.ConfigFileEnv)
	}

	cfg, err := config.LoadWith(ctx, o.lookuper, path)
	if err != nil {
		return nil, err
	}
	if o.LogLevel != "" {
		cfg.Logging.Level = o.LogLevel
	}
	return app.New(ctx, cfg, app.WithLogOutput(logOutput))
}

func (o *RootOptions) print(w io.Writer, data any, text func(io.Writer) error) error {
	if o.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	}
	return text(w)
}

func parseNetworkArg(args []string) (domain.Network, error) {
	if len(args) == 0 {
		return "", nil
	}
	return domain.ParseNetwork(args[0])
}
