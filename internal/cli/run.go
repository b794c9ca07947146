package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roamkit/roam/internal/bus"
	"github.com/roamkit/roam/internal/motion"
	"github.com/roamkit/roam/internal/odometer"
	"github.com/roamkit/roam/internal/proximity"
	"github.com/roamkit/roam/internal/scheduler"
	"github.com/roamkit/roam/internal/sensor"
	"github.com/roamkit/roam/internal/syncq"
	"github.com/roamkit/roam/internal/track"
)

// syncSafetyInterval is the daemon's periodic sweep for records
// stranded by earlier delivery failures.
const syncSafetyInterval = time.Minute

// scheduleInterval is how often the scheduler re-evaluates its windows.
const scheduleInterval = 30 * time.Second

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	BusPort int
	SimLat  float64
	SimLon  float64
	SimSeed int64
	NoTrack bool
}

// NewRunCommand creates the daemon command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the tracking daemon",
		Long: `Start the tracking daemon: motion state machine, geofence proximity
engine, sync queue, and the embedded NATS event bus.

Without a schedule in the config file, tracking starts immediately and
runs until interrupted. With a schedule, the scheduler decides when
tracking is active.

Example:
  roam run --db ./roam.db --config ./roam.yaml
  roam run --db /tmp/roam.db --bus-port 0 --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.BusPort, "bus-port", 4222, "embedded NATS port (0 disables the bus, -1 picks a random port)")
	cmd.Flags().Float64Var(&opts.SimLat, "sim-lat", 45.5019, "simulated sensor start latitude")
	cmd.Flags().Float64Var(&opts.SimLon, "sim-lon", -73.5674, "simulated sensor start longitude")
	cmd.Flags().Int64Var(&opts.SimSeed, "sim-seed", 0, "simulated sensor random seed (0 seeds from time)")
	cmd.Flags().BoolVar(&opts.NoTrack, "no-track", false, "start with tracking disabled (wait for schedule or external control)")

	return cmd
}

func runDaemon(opts *RunOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	log := opts.logger(cfg.LogLevel)

	st, err := opts.openStore()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database ready", "path", opts.Database)

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			log.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	sink := track.MultiSink{}
	if opts.BusPort != 0 {
		b, err := bus.Open(bus.Config{Host: "127.0.0.1", Port: opts.BusPort}, log)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to start event bus", err)
		}
		defer b.Close()
		sink = append(sink, b)
		fmt.Fprintf(cmd.OutOrStdout(), "Event bus listening on %s\n", b.URL())
	}

	seed := opts.SimSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	provider := sensor.NewSimulated(opts.SimLat, opts.SimLon, seed)

	odoStart, err := st.Odometer(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read odometer", err)
	}
	odo := odometer.New(odoStart, cfg.DesiredOdometerAccuracy, provider, st, log)

	prox := proximity.NewEngine(cfg, proximity.LogNative{Log: log}, st, sink, log)
	if err := prox.Load(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to load geofences", err)
	}

	syncer := syncq.New(cfg, st, nil, log)

	machine := motion.NewMachine(cfg, motion.Deps{
		Provider:  provider,
		Appender:  st,
		Odometer:  odo,
		Proximity: prox,
		Syncer:    syncer,
	}, sink, log)

	go runQuietly(ctx, log, "motion", machine.Run)
	go runQuietly(ctx, log, "proximity", prox.Run)
	go runQuietly(ctx, log, "sync", func(ctx context.Context) error {
		return syncer.Run(ctx, syncSafetyInterval)
	})

	if len(cfg.Schedule) > 0 {
		windows, err := scheduler.ParseWindows(cfg.Schedule)
		if err != nil {
			return WrapExitError(ExitCommandError, "bad schedule", err)
		}
		sched := scheduler.New(windows, machine, log)
		go runQuietly(ctx, log, "scheduler", func(ctx context.Context) error {
			return sched.Run(ctx, scheduleInterval)
		})
		log.Info("schedule active", "windows", len(windows))
	} else if !opts.NoTrack {
		if err := machine.Start(ctx); err != nil {
			return WrapExitError(ExitFailure, "failed to start tracking", err)
		}
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Tracking daemon started. Press Ctrl-C to stop.")
	<-ctx.Done()

	machine.Stop()
	log.Info("daemon stopped gracefully")
	return nil
}

// runQuietly runs a loop until ctx ends, logging any abnormal exit.
func runQuietly(ctx context.Context, log *slog.Logger, name string, run func(context.Context) error) {
	if err := run(ctx); err != nil && err != context.Canceled {
		log.Error("loop exited", "loop", name, "error", err)
	}
}
