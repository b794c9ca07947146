package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roamkit/roam/internal/store"
	"github.com/roamkit/roam/internal/track"
)

// NewLocationsCommand creates the locations command group.
func NewLocationsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "locations",
		Short: "Inspect and maintain the stored location queue",
	}
	cmd.AddCommand(newLocationsListCommand(rootOpts))
	cmd.AddCommand(newLocationsCountCommand(rootOpts))
	cmd.AddCommand(newLocationsDestroyCommand(rootOpts))
	cmd.AddCommand(newLocationsInsertCommand(rootOpts))
	return cmd
}

func newLocationsListCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List stored locations in creation order",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(rootOpts, cmd, func(ctx context.Context, st *store.Store) error {
				records, err := st.Locations(ctx, limit)
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to read locations", err)
				}

				f := rootOpts.formatter(cmd)
				if f.JSON() {
					return f.Success(records)
				}
				for _, r := range records {
					fmt.Fprintf(f.Writer, "%d\t%s\t%.6f,%.6f\t±%.0fm\t%s\n",
						r.Seq, r.State, r.Location.Latitude, r.Location.Longitude,
						r.Location.Accuracy, r.Location.Timestamp.Format(time.RFC3339))
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum records to list (0 for all)")
	return cmd
}

func newLocationsCountCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "count",
		Short:         "Count stored and pending locations",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(rootOpts, cmd, func(ctx context.Context, st *store.Store) error {
				total, err := st.CountLocations(ctx)
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to count locations", err)
				}
				pending, err := st.PendingCount(ctx)
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to count locations", err)
				}

				f := rootOpts.formatter(cmd)
				if f.JSON() {
					return f.Success(map[string]int{"total": total, "pending": pending})
				}
				fmt.Fprintf(f.Writer, "%d location(s), %d pending\n", total, pending)
				return nil
			})
		},
	}
}

func newLocationsDestroyCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "destroy",
		Short:         "Delete every stored location regardless of delivery state",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(rootOpts, cmd, func(ctx context.Context, st *store.Store) error {
				if err := st.DestroyLocations(ctx); err != nil {
					return WrapExitError(ExitCommandError, "failed to destroy locations", err)
				}

				f := rootOpts.formatter(cmd)
				if f.JSON() {
					return f.Success(map[string]string{"result": "destroyed"})
				}
				fmt.Fprintln(f.Writer, "All locations destroyed")
				return nil
			})
		},
	}
}

func newLocationsInsertCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		lat, lon, accuracy float64
	)

	cmd := &cobra.Command{
		Use:   "insert",
		Short: "Insert a location directly, bypassing the tracking engine",
		Long: `Insert a location into the queue for manual seeding. The record skips
the motion state machine and the odometer entirely.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(rootOpts, cmd, func(ctx context.Context, st *store.Store) error {
				loc := track.Location{
					ID:        track.NewLocationID(),
					Timestamp: time.Now().UTC(),
					Latitude:  lat,
					Longitude: lon,
					Accuracy:  accuracy,
				}
				seq, err := st.InsertLocation(ctx, loc, 0)
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to insert location", err)
				}

				f := rootOpts.formatter(cmd)
				if f.JSON() {
					return f.Success(map[string]any{"seq": seq, "id": loc.ID})
				}
				fmt.Fprintf(f.Writer, "Inserted location %s as seq %d\n", loc.ID, seq)
				return nil
			})
		},
	}

	cmd.Flags().Float64Var(&lat, "lat", 0, "latitude (required)")
	cmd.Flags().Float64Var(&lon, "lon", 0, "longitude (required)")
	cmd.Flags().Float64Var(&accuracy, "accuracy", 10, "horizontal accuracy in meters")
	_ = cmd.MarkFlagRequired("lat")
	_ = cmd.MarkFlagRequired("lon")
	return cmd
}

// withStore opens the database, runs fn, and closes it.
func withStore(opts *RootOptions, cmd *cobra.Command, fn func(context.Context, *store.Store) error) error {
	st, err := opts.openStore()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return fn(ctx, st)
}
