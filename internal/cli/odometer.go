package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roamkit/roam/internal/store"
)

// NewOdometerCommand creates the odometer command group.
func NewOdometerCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "odometer",
		Short: "Read or reset the persisted odometer",
	}
	cmd.AddCommand(newOdometerGetCommand(rootOpts))
	cmd.AddCommand(newOdometerResetCommand(rootOpts))
	return cmd
}

func newOdometerGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "get",
		Short:         "Print the odometer value in meters",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(rootOpts, cmd, func(ctx context.Context, st *store.Store) error {
				meters, err := st.Odometer(ctx)
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to read odometer", err)
				}

				f := rootOpts.formatter(cmd)
				if f.JSON() {
					return f.Success(map[string]float64{"meters": meters})
				}
				fmt.Fprintf(f.Writer, "%.2f m\n", meters)
				return nil
			})
		},
	}
}

func newOdometerResetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "reset [meters]",
		Short:         "Reset the odometer, to zero or to a given value",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			value := 0.0
			if len(args) == 1 {
				v, err := strconv.ParseFloat(args[0], 64)
				if err != nil {
					return WrapExitError(ExitCommandError, fmt.Sprintf("bad odometer value %q", args[0]), err)
				}
				value = v
			}

			return withStore(rootOpts, cmd, func(ctx context.Context, st *store.Store) error {
				if err := st.SetOdometer(ctx, value); err != nil {
					return WrapExitError(ExitCommandError, "failed to reset odometer", err)
				}

				f := rootOpts.formatter(cmd)
				if f.JSON() {
					return f.Success(map[string]float64{"meters": value})
				}
				fmt.Fprintf(f.Writer, "Odometer set to %.2f m\n", value)
				return nil
			})
		},
	}
}
