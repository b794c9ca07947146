package motion

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roamkit/roam/internal/config"
	"github.com/roamkit/roam/internal/sensor"
	"github.com/roamkit/roam/internal/testutil"
	"github.com/roamkit/roam/internal/track"
)

type appendSpy struct {
	mu   sync.Mutex
	locs []track.Location
}

func (a *appendSpy) InsertLocation(ctx context.Context, loc track.Location, maxRecords int) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.locs = append(a.locs, loc)
	return int64(len(a.locs)), nil
}

func (a *appendSpy) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.locs)
}

type proxSpy struct {
	mu      sync.Mutex
	updates []track.Location
}

func (p *proxSpy) Update(ctx context.Context, loc track.Location) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, loc)
}

func (p *proxSpy) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.updates)
}

type odoSpy struct {
	mu    sync.Mutex
	calls int
}

func (o *odoSpy) Accumulate(ctx context.Context, loc track.Location) float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	return 0
}

type syncSpy struct {
	mu       sync.Mutex
	triggers int
}

func (s *syncSpy) Trigger(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.triggers++
}

type harness struct {
	machine  *Machine
	provider *testutil.ScriptedProvider
	recorder *track.RecorderSink
	clock    *testutil.Clock
	appender *appendSpy
	prox     *proxSpy
	odo      *odoSpy
	syncer   *syncSpy
}

func newHarness(t *testing.T, mutate func(*config.Config)) *harness {
	t.Helper()

	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}

	h := &harness{
		provider: testutil.NewScriptedProvider(),
		recorder: &track.RecorderSink{},
		clock:    testutil.NewClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)),
		appender: &appendSpy{},
		prox:     &proxSpy{},
		odo:      &odoSpy{},
		syncer:   &syncSpy{},
	}
	h.machine = NewMachine(cfg, Deps{
		Provider:  h.provider,
		Appender:  h.appender,
		Odometer:  h.odo,
		Proximity: h.prox,
		Syncer:    h.syncer,
	}, h.recorder, nil, WithNow(h.clock.Now))
	return h
}

func fix(lat, lon float64) track.Location {
	return track.Location{
		ID:        track.NewLocationID(),
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Latitude:  lat,
		Longitude: lon,
		Accuracy:  5,
	}
}

// started returns a harness in STATIONARY with one fix consumed.
func started(t *testing.T, mutate func(*config.Config)) *harness {
	t.Helper()
	h := newHarness(t, mutate)
	h.provider.Queue(fix(45.0, -73.0))
	require.NoError(t, h.machine.Start(context.Background()))
	require.Equal(t, StateStationary, h.machine.State())
	return h
}

func TestStart_InitialAcquisitionSurfacesSamples(t *testing.T) {
	h := newHarness(t, nil)
	h.provider.Queue(fix(45.0, -73.0), fix(45.0001, -73.0), fix(45.0002, -73.0))

	require.NoError(t, h.machine.Start(context.Background()))
	assert.Equal(t, StateStationary, h.machine.State())

	snap := h.recorder.Snapshot()
	require.Len(t, snap.Locations, 3, "two samples plus the settled fix")
	assert.True(t, snap.Locations[0].Sample)
	assert.True(t, snap.Locations[1].Sample)
	assert.False(t, snap.Locations[2].Sample)

	// Only the settled fix reaches persistence.
	assert.Equal(t, 1, h.appender.count())
}

func TestStart_FetchFailureStaysDisabled(t *testing.T) {
	h := newHarness(t, nil)
	h.provider.QueueError(sensor.NewTimeout("no fix within 30s"))

	err := h.machine.Start(context.Background())
	require.Error(t, err)
	assert.True(t, sensor.IsTimeout(err))
	assert.Equal(t, StateDisabled, h.machine.State())
	assert.Zero(t, h.appender.count())
}

func TestStart_IsIdempotent(t *testing.T) {
	h := started(t, nil)

	// No fix queued: a second Start must not fetch at all.
	require.NoError(t, h.machine.Start(context.Background()))
	assert.Equal(t, 1, h.provider.Fetches)
}

func TestChangePace_EmitsExactlyOneEvent(t *testing.T) {
	h := started(t, nil)
	h.provider.Queue(fix(45.0, -73.0))
	ctx := context.Background()

	require.NoError(t, h.machine.ChangePace(ctx, true))
	require.NoError(t, h.machine.ChangePace(ctx, true), "repeat call is a no-op")

	assert.Equal(t, StateMoving, h.machine.State())
	snap := h.recorder.Snapshot()
	require.Len(t, snap.MotionChanges, 1)
	assert.True(t, snap.MotionChanges[0].IsMoving)
	assert.Equal(t, 0, h.provider.Remaining(), "the no-op call never fetched")
}

func TestChangePace_SensorFailureKeepsState(t *testing.T) {
	h := started(t, nil)
	h.provider.QueueError(sensor.NewUnavailable("gps cold start"))

	err := h.machine.ChangePace(context.Background(), true)
	require.Error(t, err)
	assert.Equal(t, StateStationary, h.machine.State())
	assert.Empty(t, h.recorder.Snapshot().MotionChanges)
}

func TestChangePace_RequiresStart(t *testing.T) {
	h := newHarness(t, nil)
	require.ErrorIs(t, h.machine.ChangePace(context.Background(), true), ErrNotStarted)
}

func TestChangePace_PermissionDenialSurfacesProviderChange(t *testing.T) {
	h := started(t, nil)
	h.provider.QueueError(sensor.NewPermissionDenied("location authorization revoked"))

	err := h.machine.ChangePace(context.Background(), true)
	require.Error(t, err)
	assert.True(t, sensor.IsPermissionDenied(err))

	snap := h.recorder.Snapshot()
	require.Len(t, snap.ProviderChanges, 1)
	assert.True(t, snap.ProviderChanges[0].PermissionDenied)
	assert.False(t, snap.ProviderChanges[0].Available)
}

func TestIngest_DistanceFilterWhileMoving(t *testing.T) {
	h := started(t, nil)
	h.provider.Queue(fix(45.0, -73.0))
	ctx := context.Background()
	require.NoError(t, h.machine.ChangePace(ctx, true))
	persisted := h.appender.count()

	// Roughly 4 meters of latitude: under the 10m default filter.
	h.machine.Ingest(ctx, fix(45.00004, -73.0))
	assert.Equal(t, persisted, h.appender.count(), "sub-filter fix is rejected")

	// Roughly 110 meters: accepted.
	h.machine.Ingest(ctx, fix(45.001, -73.0))
	assert.Equal(t, persisted+1, h.appender.count())
}

func TestIngest_SampleNeverPersisted(t *testing.T) {
	h := started(t, nil)

	sample := fix(45.0, -73.0)
	sample.Sample = true
	h.machine.Ingest(context.Background(), sample)

	snap := h.recorder.Snapshot()
	assert.Len(t, snap.Locations, 2, "initial fix plus the surfaced sample")
	assert.Equal(t, 1, h.appender.count(), "sample stays out of the store")
	assert.Equal(t, 1, h.odo.calls, "sample stays out of the odometer")
}

func TestIngest_ForwardsToCollaborators(t *testing.T) {
	h := started(t, nil)

	h.machine.Ingest(context.Background(), fix(45.001, -73.0))

	assert.Equal(t, 2, h.appender.count())
	assert.Equal(t, 2, h.odo.calls)
	assert.Equal(t, 2, h.prox.count())
	assert.Equal(t, 2, h.syncer.triggers, "autoSync pokes the queue after each append")
}

func TestIngest_NoopWhileDisabled(t *testing.T) {
	h := newHarness(t, nil)

	h.machine.Ingest(context.Background(), fix(45.0, -73.0))

	assert.Zero(t, h.appender.count())
	assert.Empty(t, h.recorder.Snapshot().Locations)
}

func TestStopTimeout_ViaRejectedFix(t *testing.T) {
	h := started(t, func(cfg *config.Config) {
		cfg.StopTimeoutMinutes = 5
	})
	h.provider.Queue(fix(45.0, -73.0))
	ctx := context.Background()
	require.NoError(t, h.machine.ChangePace(ctx, true))

	// Qualifying movement resets the timeout window.
	h.clock.Advance(3 * time.Minute)
	h.machine.Ingest(ctx, fix(45.001, -73.0))
	h.clock.Advance(4 * time.Minute)
	h.machine.Ingest(ctx, fix(45.00101, -73.0))
	assert.Equal(t, StateMoving, h.machine.State(), "recent movement keeps MOVING alive")

	h.clock.Advance(6 * time.Minute)
	h.machine.Ingest(ctx, fix(45.00102, -73.0))

	assert.Equal(t, StateStationary, h.machine.State())
	snap := h.recorder.Snapshot()
	require.Len(t, snap.MotionChanges, 2)
	assert.False(t, snap.MotionChanges[1].IsMoving)
}

func TestStopTimeout_ViaTick(t *testing.T) {
	h := started(t, func(cfg *config.Config) {
		cfg.StopTimeoutMinutes = 5
	})
	h.provider.Queue(fix(45.0, -73.0))
	ctx := context.Background()
	require.NoError(t, h.machine.ChangePace(ctx, true))

	h.machine.Tick(ctx)
	assert.Equal(t, StateMoving, h.machine.State(), "timeout has not elapsed yet")

	h.clock.Advance(6 * time.Minute)
	h.machine.Tick(ctx)
	assert.Equal(t, StateStationary, h.machine.State())
}

func TestStartGeofences_FeedsProximityOnly(t *testing.T) {
	h := newHarness(t, nil)
	h.provider.Queue(fix(45.0, -73.0))

	require.NoError(t, h.machine.StartGeofences(context.Background()))
	assert.Equal(t, StateGeofencesOnly, h.machine.State())

	assert.Equal(t, 1, h.prox.count())
	assert.Zero(t, h.appender.count(), "coarse fixes are never persisted")
	assert.Zero(t, h.odo.calls)
}

func TestStop_ReturnsToDisabled(t *testing.T) {
	h := started(t, nil)

	h.machine.Stop()
	assert.Equal(t, StateDisabled, h.machine.State())

	// Fixes after Stop are dropped.
	h.machine.Ingest(context.Background(), fix(45.001, -73.0))
	assert.Equal(t, 1, h.appender.count())
}

func TestLastLocation(t *testing.T) {
	h := newHarness(t, nil)

	_, ok := h.machine.LastLocation()
	assert.False(t, ok)

	h.provider.Queue(fix(45.0, -73.0))
	require.NoError(t, h.machine.Start(context.Background()))

	last, ok := h.machine.LastLocation()
	require.True(t, ok)
	assert.Equal(t, 45.0, last.Latitude)
}
