package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roamkit/roam/internal/store"
	"github.com/roamkit/roam/internal/track"
)

// NewGeofencesCommand creates the geofences command group.
func NewGeofencesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "geofences",
		Short: "Manage the persisted geofence set",
	}
	cmd.AddCommand(newGeofencesAddCommand(rootOpts))
	cmd.AddCommand(newGeofencesRemoveCommand(rootOpts))
	cmd.AddCommand(newGeofencesListCommand(rootOpts))
	cmd.AddCommand(newGeofencesClearCommand(rootOpts))
	return cmd
}

func newGeofencesAddCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		identifier       string
		lat, lon, radius float64
		onEntry, onExit  bool
		onDwell          bool
		loiteringDelayMS int
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add or replace a geofence",
		Long: `Add a geofence, replacing any existing geofence with the same
identifier. The running daemon picks the change up on its next
re-selection pass.

Example:
  roam geofences add --id store_12 --lat 45.5019 --lon -73.5674 --radius 200 --on-entry --on-exit`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(rootOpts, cmd, func(ctx context.Context, st *store.Store) error {
				g := track.Geofence{
					Identifier:     identifier,
					Latitude:       lat,
					Longitude:      lon,
					Radius:         radius,
					NotifyOnEntry:  onEntry,
					NotifyOnExit:   onExit,
					NotifyOnDwell:  onDwell,
					LoiteringDelay: time.Duration(loiteringDelayMS) * time.Millisecond,
				}
				if err := st.UpsertGeofence(ctx, g); err != nil {
					return WrapExitError(ExitCommandError, "failed to add geofence", err)
				}

				f := rootOpts.formatter(cmd)
				if f.JSON() {
					return f.Success(g)
				}
				fmt.Fprintf(f.Writer, "Geofence %s saved\n", identifier)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&identifier, "id", "", "geofence identifier (required)")
	cmd.Flags().Float64Var(&lat, "lat", 0, "center latitude (required)")
	cmd.Flags().Float64Var(&lon, "lon", 0, "center longitude (required)")
	cmd.Flags().Float64Var(&radius, "radius", 200, "radius in meters")
	cmd.Flags().BoolVar(&onEntry, "on-entry", false, "notify on ENTER")
	cmd.Flags().BoolVar(&onExit, "on-exit", false, "notify on EXIT")
	cmd.Flags().BoolVar(&onDwell, "on-dwell", false, "notify on DWELL")
	cmd.Flags().IntVar(&loiteringDelayMS, "loitering-delay", 0, "dwell delay in milliseconds")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("lat")
	_ = cmd.MarkFlagRequired("lon")
	return cmd
}

func newGeofencesRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "remove <identifier>",
		Short:         "Remove a geofence",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(rootOpts, cmd, func(ctx context.Context, st *store.Store) error {
				removed, err := st.DeleteGeofence(ctx, args[0])
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to remove geofence", err)
				}
				if !removed {
					return WrapExitError(ExitFailure, fmt.Sprintf("no geofence named %q", args[0]), nil)
				}

				f := rootOpts.formatter(cmd)
				if f.JSON() {
					return f.Success(map[string]string{"removed": args[0]})
				}
				fmt.Fprintf(f.Writer, "Geofence %s removed\n", args[0])
				return nil
			})
		},
	}
}

func newGeofencesListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List all persisted geofences",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(rootOpts, cmd, func(ctx context.Context, st *store.Store) error {
				geofences, err := st.Geofences(ctx)
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to read geofences", err)
				}

				f := rootOpts.formatter(cmd)
				if f.JSON() {
					return f.Success(geofences)
				}
				for _, g := range geofences {
					fmt.Fprintf(f.Writer, "%s\t%.6f,%.6f\tr=%.0fm\tentry=%t exit=%t dwell=%t\n",
						g.Identifier, g.Latitude, g.Longitude, g.Radius,
						g.NotifyOnEntry, g.NotifyOnExit, g.NotifyOnDwell)
				}
				return nil
			})
		},
	}
}

func newGeofencesClearCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "clear",
		Short:         "Remove every geofence",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(rootOpts, cmd, func(ctx context.Context, st *store.Store) error {
				if err := st.DeleteAllGeofences(ctx); err != nil {
					return WrapExitError(ExitCommandError, "failed to clear geofences", err)
				}

				f := rootOpts.formatter(cmd)
				if f.JSON() {
					return f.Success(map[string]string{"result": "cleared"})
				}
				fmt.Fprintln(f.Writer, "All geofences removed")
				return nil
			})
		},
	}
}
