// Package cli implements the syncctl maintenance commands.
package cli

import (
	"context"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"example.com/kinexsync/internal/config"
	"example.com/kinexsync/internal/persistence"
)

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Config  config.Config
	Format  string // "json" | "text"
	Verbose bool
}

// NewRootCommand creates the root command. Flag defaults come from cfg.
func NewRootCommand(cfg config.Config) *cobra.Command {
	opts := &RootOptions{Config: cfg}

	cmd := &cobra.Command{
		Use:   "syncctl",
		Short: "Inspect and repair the offline sync queue",
		Long:  "syncctl reads the durable mutation queue used by the sync agent and runs maintenance actions against it.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.StringVar(&opts.Config.QueueDriver, "driver", cfg.QueueDriver, "queue storage driver (sqlite|postgres)")
	flags.StringVar(&opts.Config.SQLitePath, "sqlite-path", cfg.SQLitePath, "path to the SQLite queue database")
	flags.StringVar(&opts.Config.PostgresURL, "postgres-url", cfg.PostgresURL, "Postgres connection string")
	flags.StringVar(&opts.Config.APIBaseURL, "api-base-url", cfg.APIBaseURL, "backend base URL used by drain")

	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewRetryFailedCommand(opts))
	cmd.AddCommand(NewClearFailedCommand(opts))
	cmd.AddCommand(NewClearAllCommand(opts))
	cmd.AddCommand(NewDrainCommand(opts))

	return cmd
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

func (o *RootOptions) openStores(ctx context.Context) (*persistence.Stores, error) {
	stores, err := persistence.Open(ctx, o.Config)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open queue store", err)
	}
	return stores, nil
}
