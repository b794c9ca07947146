package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roamkit/roam/internal/syncq"
)

// NewSyncCommand creates the manual sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Deliver pending locations to the configured endpoint",
		Long: `Run one delivery pass over the pending location queue using the url,
headers, and batch settings from the config file.

Example:
  roam sync --db ./roam.db --config ./roam.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(rootOpts, cmd)
		},
	}
	return cmd
}

func runSync(opts *RootOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if cfg.URL == "" {
		return WrapExitError(ExitCommandError, "no url configured", nil)
	}

	st, err := opts.openStore()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	before, err := st.PendingCount(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to count pending records", err)
	}

	log := opts.logger(cfg.LogLevel)
	if err := syncq.New(cfg, st, nil, log).Sync(ctx); err != nil {
		return WrapExitError(ExitFailure, "delivery failed", err)
	}

	after, err := st.PendingCount(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to count pending records", err)
	}

	f := opts.formatter(cmd)
	if f.JSON() {
		return f.Success(map[string]int{"delivered": before - after, "pending": after})
	}
	fmt.Fprintf(f.Writer, "Delivered %d location(s), %d pending\n", before-after, after)
	return nil
}
