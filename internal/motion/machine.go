// Package motion owns the tracking state machine: disabled, STATIONARY,
// MOVING, and GEOFENCES_ONLY.
//
// The machine decides which fixes are accepted (distance filter while
// moving, everything while stationary) and forwards every accepted
// non-sample fix to the location store, the odometer, and the proximity
// engine. State transitions emit MotionChange events regardless of
// whether they were automatic or forced via ChangePace.
package motion

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/roamkit/roam/internal/config"
	"github.com/roamkit/roam/internal/geo"
	"github.com/roamkit/roam/internal/sensor"
	"github.com/roamkit/roam/internal/track"
)

// State is the machine's tracking mode.
type State string

const (
	// StateDisabled means no tracking of any kind is active.
	StateDisabled State = "disabled"

	// StateStationary tracks passively, waiting for a movement trigger.
	StateStationary State = "stationary"

	// StateMoving samples continuously at the configured distance filter.
	StateMoving State = "moving"

	// StateGeofencesOnly runs only the proximity engine, fed by coarse
	// periodic fixes that are never persisted.
	StateGeofencesOnly State = "geofences_only"
)

// ErrNotStarted is returned by operations that require an active state
// machine.
var ErrNotStarted = errors.New("motion: tracking not started")

// initialFixSamples is how many fixes the initial acquisition collects
// before settling on the most accurate one.
const initialFixSamples = 3

// samplingInterval is the continuous sampling cadence while MOVING.
const samplingInterval = time.Second

// coarseAccuracy is the relaxed accuracy target for GEOFENCES_ONLY
// fixes.
const coarseAccuracy = 1000

// minActivityConfidence gates activity-recognition ticks: lower
// confidence ticks never trigger a transition.
const minActivityConfidence = 75

// Appender is the slice of the location store the machine writes to.
type Appender interface {
	InsertLocation(ctx context.Context, loc track.Location, maxRecords int) (int64, error)
}

// Accumulator is the odometer feed.
type Accumulator interface {
	Accumulate(ctx context.Context, loc track.Location) float64
}

// Proximity receives accepted fixes for geofence re-selection.
type Proximity interface {
	Update(ctx context.Context, loc track.Location)
}

// Syncer is poked after each successful append.
type Syncer interface {
	Trigger(ctx context.Context)
}

// Deps are the machine's collaborators. Provider is required; the rest
// may be nil and are then skipped.
type Deps struct {
	Provider  sensor.Provider
	Appender  Appender
	Odometer  Accumulator
	Proximity Proximity
	Syncer    Syncer
}

// Machine is the tracking state machine. Safe for concurrent use; state
// reads and transitions are serialized by an internal mutex, while
// sensor and storage I/O happen outside it.
type Machine struct {
	cfg  *config.Config
	deps Deps
	sink track.Sink
	log  *slog.Logger
	now  func() time.Time

	mu           sync.Mutex
	state        State
	lastAccepted *track.Location
	lastMovement time.Time
}

// Option configures a Machine.
type Option func(*Machine)

// WithNow overrides the wall clock. Used by tests to drive the stop
// timeout.
func WithNow(now func() time.Time) Option {
	return func(m *Machine) {
		m.now = now
	}
}

// NewMachine creates a machine in the disabled state. sink and log may
// be nil and default to no-ops.
func NewMachine(cfg *config.Config, deps Deps, sink track.Sink, log *slog.Logger, opts ...Option) *Machine {
	if sink == nil {
		sink = track.NopSink{}
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	m := &Machine{
		cfg:   cfg,
		deps:  deps,
		sink:  sink,
		log:   log,
		now:   time.Now,
		state: StateDisabled,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current tracking mode.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsMoving reports whether the machine is in the MOVING state.
func (m *Machine) IsMoving() bool {
	return m.State() == StateMoving
}

// LastLocation returns the most recently accepted fix, if any.
func (m *Machine) LastLocation() (track.Location, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastAccepted == nil {
		return track.Location{}, false
	}
	return *m.lastAccepted, true
}

// Start enters STATIONARY after acquiring an initial multi-sample fix.
// Intermediate samples are surfaced to the sink but not persisted; the
// settled fix is accepted normally. A fetch failure leaves the machine
// disabled and returns the sensor's typed error. Starting an already
// started machine is a no-op.
func (m *Machine) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateDisabled {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	fix, err := m.fetch(ctx, sensor.Request{
		DesiredAccuracy: m.cfg.DesiredAccuracy,
		Samples:         initialFixSamples,
	})
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.state = StateStationary
	m.lastMovement = m.now()
	m.mu.Unlock()

	m.log.Info("tracking started", "state", StateStationary)
	m.accept(ctx, fix)
	return nil
}

// StartGeofences enters GEOFENCES_ONLY: no continuous sampling, only the
// proximity engine driven by coarse periodic fixes. A fetch failure
// leaves the current state untouched.
func (m *Machine) StartGeofences(ctx context.Context) error {
	fix, err := m.fetch(ctx, sensor.Request{
		DesiredAccuracy: coarseAccuracy,
		Samples:         1,
	})
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.state = StateGeofencesOnly
	m.mu.Unlock()

	m.log.Info("geofences-only tracking started")
	m.accept(ctx, fix)
	return nil
}

// Stop disengages everything and returns to disabled. It does not touch
// any externally configured schedule; the scheduler calls Start again
// when the next window opens.
func (m *Machine) Stop() {
	m.mu.Lock()
	was := m.state
	m.state = StateDisabled
	m.mu.Unlock()

	if was != StateDisabled {
		m.log.Info("tracking stopped")
	}
}

// ChangePace forces MOVING or STATIONARY, bypassing automatic detection.
// Idempotent: a call targeting the current state is a no-op and emits
// nothing. The transition acquires a fresh fix to stamp the event; a
// fetch failure returns the sensor's typed error and changes nothing.
func (m *Machine) ChangePace(ctx context.Context, moving bool) error {
	m.mu.Lock()
	state := m.state
	m.mu.Unlock()

	if state == StateDisabled {
		return ErrNotStarted
	}
	target := StateStationary
	if moving {
		target = StateMoving
	}
	if state == target {
		return nil
	}

	fix, err := m.fetch(ctx, sensor.Request{
		DesiredAccuracy: m.cfg.DesiredAccuracy,
		Samples:         1,
	})
	if err != nil {
		return err
	}

	m.setPace(ctx, moving, fix)
	return nil
}

// Ingest processes one fix against the current state. Samples are
// surfaced to the sink and dropped; while MOVING, a fix closer than the
// distance filter to the previous accepted fix is rejected (and may
// trip the stop timeout); everything else is accepted and forwarded.
func (m *Machine) Ingest(ctx context.Context, loc track.Location) {
	if !track.Persistable(loc) {
		m.sink.OnLocation(loc)
		return
	}

	m.mu.Lock()
	state := m.state
	if state == StateDisabled {
		m.mu.Unlock()
		return
	}

	if state == StateMoving && m.lastAccepted != nil {
		moved := geo.Distance(m.lastAccepted.Point(), loc.Point())
		if moved < m.cfg.DistanceFilter {
			idle := m.now().Sub(m.lastMovement)
			m.mu.Unlock()
			if m.cfg.StopTimeoutMinutes > 0 && idle >= m.cfg.StopTimeout() {
				m.autoStop(loc)
			}
			return
		}
		m.lastMovement = m.now()
	}
	m.mu.Unlock()

	m.accept(ctx, loc)
}

// Tick runs the periodic checks that do not depend on a fresh fix:
// the stop timeout while MOVING, and coarse proximity sampling while
// GEOFENCES_ONLY.
func (m *Machine) Tick(ctx context.Context) {
	m.mu.Lock()
	state := m.state
	var last *track.Location
	if m.lastAccepted != nil {
		loc := *m.lastAccepted
		last = &loc
	}
	idle := m.now().Sub(m.lastMovement)
	m.mu.Unlock()

	switch state {
	case StateMoving:
		if last != nil && m.cfg.StopTimeoutMinutes > 0 && idle >= m.cfg.StopTimeout() {
			m.autoStop(*last)
		}

	case StateGeofencesOnly:
		fix, err := m.fetch(ctx, sensor.Request{
			DesiredAccuracy: coarseAccuracy,
			Samples:         1,
		})
		if err != nil {
			m.log.Debug("coarse fix failed", "error", err)
			return
		}
		m.Ingest(ctx, fix)
	}
}

// Run drives the machine's background loops until ctx is done: the
// activity-recognition watch, continuous sampling while MOVING, the
// stop-timeout and coarse-sampling ticker, and the heartbeat.
func (m *Machine) Run(ctx context.Context) error {
	var acts <-chan sensor.Activity
	if c, err := m.deps.Provider.WatchActivity(ctx); err != nil {
		m.log.Warn("activity watch unavailable", "error", err)
	} else {
		acts = c
	}

	sample := time.NewTicker(samplingInterval)
	defer sample.Stop()

	periodic := time.NewTicker(m.cfg.StationaryInterval())
	defer periodic.Stop()

	var heartbeatC <-chan time.Time
	if interval := m.cfg.HeartbeatInterval(); interval > 0 {
		hb := time.NewTicker(interval)
		defer hb.Stop()
		heartbeatC = hb.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case a, ok := <-acts:
			if !ok {
				acts = nil
				continue
			}
			m.onActivity(ctx, a)

		case <-sample.C:
			if m.State() == StateMoving {
				m.sampleOnce(ctx)
			}

		case <-periodic.C:
			m.Tick(ctx)

		case <-heartbeatC:
			m.heartbeat()
		}
	}
}

// onActivity handles one activity-recognition tick. A confident
// non-still tick while STATIONARY is the movement trigger.
func (m *Machine) onActivity(ctx context.Context, a sensor.Activity) {
	if a.Confidence < minActivityConfidence || a.Type == sensor.ActivityStill {
		return
	}
	if m.State() != StateStationary {
		return
	}

	fix, err := m.fetch(ctx, sensor.Request{
		DesiredAccuracy: m.cfg.DesiredAccuracy,
		Samples:         1,
	})
	if err != nil {
		m.log.Warn("movement trigger fix failed", "error", err)
		return
	}
	m.setPace(ctx, true, fix)
}

func (m *Machine) sampleOnce(ctx context.Context) {
	fix, err := m.fetch(ctx, sensor.Request{
		DesiredAccuracy: m.cfg.DesiredAccuracy,
		Samples:         1,
	})
	if err != nil {
		m.log.Debug("sample fetch failed", "error", err)
		return
	}
	m.Ingest(ctx, fix)
}

// setPace applies a MOVING/STATIONARY transition stamped by fix. A
// concurrent transition to the same target wins quietly.
func (m *Machine) setPace(ctx context.Context, moving bool, fix track.Location) {
	target := StateStationary
	if moving {
		target = StateMoving
	}

	m.mu.Lock()
	if m.state == target || m.state == StateDisabled {
		m.mu.Unlock()
		return
	}
	m.state = target
	m.lastMovement = m.now()
	m.mu.Unlock()

	m.log.Info("motion change", "isMoving", moving)
	m.sink.OnMotionChange(track.MotionChange{Location: fix, IsMoving: moving})
	m.accept(ctx, fix)
}

// autoStop is the stop-timeout transition MOVING→STATIONARY. loc is the
// last known position; it stamps the event but is not re-persisted.
func (m *Machine) autoStop(loc track.Location) {
	m.mu.Lock()
	if m.state != StateMoving {
		m.mu.Unlock()
		return
	}
	m.state = StateStationary
	m.mu.Unlock()

	m.log.Info("stop timeout elapsed", "timeout", m.cfg.StopTimeout())
	m.sink.OnMotionChange(track.MotionChange{Location: loc, IsMoving: false})
}

// accept forwards one accepted fix. GEOFENCES_ONLY fixes feed only the
// proximity engine; in every other active state the fix is persisted,
// accumulated, and re-selects geofences. A storage failure is logged
// and does not suppress event emission.
func (m *Machine) accept(ctx context.Context, loc track.Location) {
	m.mu.Lock()
	state := m.state
	anchor := loc
	m.lastAccepted = &anchor
	m.mu.Unlock()

	if state != StateGeofencesOnly {
		if m.deps.Appender != nil {
			if _, err := m.deps.Appender.InsertLocation(ctx, loc, m.cfg.MaxRecordsToPersist); err != nil {
				m.log.Error("location append failed", "error", err)
			} else if m.deps.Syncer != nil {
				m.deps.Syncer.Trigger(ctx)
			}
		}
		if m.deps.Odometer != nil {
			m.deps.Odometer.Accumulate(ctx, loc)
		}
	}

	if m.deps.Proximity != nil {
		m.deps.Proximity.Update(ctx, loc)
	}
	m.sink.OnLocation(loc)
}

// fetch wraps the provider: samples go to the sink, and a permission
// denial additionally surfaces as a ProviderChange event so long-lived
// listeners can react to authorization loss.
func (m *Machine) fetch(ctx context.Context, req sensor.Request) (track.Location, error) {
	fix, err := m.deps.Provider.CurrentLocation(ctx, req, func(s track.Location) {
		m.sink.OnLocation(s)
	})
	if err != nil {
		if sensor.IsPermissionDenied(err) {
			m.sink.OnProviderChange(track.ProviderChange{Available: false, PermissionDenied: true})
		}
		return track.Location{}, err
	}
	return fix, nil
}

func (m *Machine) heartbeat() {
	m.mu.Lock()
	if m.state == StateDisabled || m.lastAccepted == nil {
		m.mu.Unlock()
		return
	}
	loc := *m.lastAccepted
	m.mu.Unlock()

	m.sink.OnHeartbeat(track.Heartbeat{Location: loc})
}
