// Package proximity reconciles an unbounded geofence set against the
// platform's tiny monitoring capacity.
//
// The engine keeps every known geofence in a spatial index and, on each
// accepted location (or on a fixed cadence while stationary), re-selects
// the nearest subset to occupy the native monitoring slots. ENTER, EXIT,
// and DWELL transitions are computed for the selected subset by polled
// containment.
package proximity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/roamkit/roam/internal/config"
	"github.com/roamkit/roam/internal/track"
)

// Native is the platform geofence monitoring capability. Activate may
// fail (platform quota race); the engine falls back to the next-nearest
// candidate rather than leaving a slot unused.
type Native interface {
	Activate(ctx context.Context, g track.Geofence) error
	Deactivate(ctx context.Context, identifier string) error
}

// Storage persists the geofence set across restarts. Implemented by
// store.Store. May be nil for an in-memory engine.
type Storage interface {
	UpsertGeofences(ctx context.Context, geofences []track.Geofence) error
	DeleteGeofence(ctx context.Context, identifier string) (bool, error)
	DeleteAllGeofences(ctx context.Context) error
	Geofences(ctx context.Context) ([]track.Geofence, error)
}

// CapacityError reports that a selected geofence could not be handed to
// the native API. The engine has already fallen back to the next
// candidate; the error is surfaced for diagnostics.
type CapacityError struct {
	Identifier string
	Err        error
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("geofence %s: native activation failed: %v", e.Identifier, e.Err)
}

func (e *CapacityError) Unwrap() error {
	return e.Err
}

// IsCapacityError reports whether err is a native activation failure.
func IsCapacityError(err error) bool {
	var ce *CapacityError
	return errors.As(err, &ce)
}

// fenceState tracks the derived monitoring state for a selected
// geofence. Geofences absent from this map are INACTIVE.
type fenceState struct {
	activation  track.Activation
	inside      bool
	containedAt time.Time
	dwelled     bool
}

// Engine owns the spatial index and the activation set.
//
// Re-selection and transition detection run as one pass under a single
// mutex: passes never overlap, and a pass never blocks on sync delivery
// or sensor I/O (its only I/O is the native activate/deactivate calls
// and the storage write on add/remove).
type Engine struct {
	cfg     *config.Config
	index   *Index
	native  Native
	storage Storage
	sink    track.Sink
	log     *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	states  map[string]*fenceState
	lastFix *track.Location
}

// Option configures an Engine.
type Option func(*Engine)

// WithNow overrides the wall clock. Used by tests to drive dwell timing.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates a proximity engine. storage may be nil; sink and log
// may be nil and default to no-ops.
func NewEngine(cfg *config.Config, native Native, storage Storage, sink track.Sink, log *slog.Logger, opts ...Option) *Engine {
	if sink == nil {
		sink = track.NopSink{}
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	e := &Engine{
		cfg:     cfg,
		index:   NewIndex(),
		native:  native,
		storage: storage,
		sink:    sink,
		log:     log,
		now:     time.Now,
		states:  make(map[string]*fenceState),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Load populates the index from storage. Called once at startup.
func (e *Engine) Load(ctx context.Context) error {
	if e.storage == nil {
		return nil
	}
	geofences, err := e.storage.Geofences(ctx)
	if err != nil {
		return fmt.Errorf("load geofences: %w", err)
	}
	for _, g := range geofences {
		e.index.Upsert(g)
	}
	e.log.Info("geofences loaded", "count", len(geofences))
	return nil
}

// AddGeofence upserts a single geofence.
func (e *Engine) AddGeofence(ctx context.Context, g track.Geofence) error {
	return e.AddGeofences(ctx, []track.Geofence{g})
}

// AddGeofences upserts geofences by identifier. Adding does not itself
// activate monitoring; a re-selection pass runs immediately afterwards
// and decides activation.
func (e *Engine) AddGeofences(ctx context.Context, geofences []track.Geofence) error {
	if e.storage != nil {
		if err := e.storage.UpsertGeofences(ctx, geofences); err != nil {
			return fmt.Errorf("add geofences: %w", err)
		}
	}
	for _, g := range geofences {
		e.index.Upsert(g)
	}
	e.evaluate(ctx, nil)
	return nil
}

// RemoveGeofence deletes a geofence. If it currently occupies a native
// slot it is deactivated and the same change notification as a normal
// deactivation is emitted.
func (e *Engine) RemoveGeofence(ctx context.Context, identifier string) error {
	if e.storage != nil {
		if _, err := e.storage.DeleteGeofence(ctx, identifier); err != nil {
			return fmt.Errorf("remove geofence: %w", err)
		}
	}
	e.index.Delete(identifier)

	e.mu.Lock()
	st := e.states[identifier]
	if st != nil {
		delete(e.states, identifier)
	}
	e.mu.Unlock()

	if st != nil {
		if err := e.native.Deactivate(ctx, identifier); err != nil {
			e.log.Warn("native deactivate failed", "identifier", identifier, "error", err)
		}
		e.sink.OnGeofencesChange(track.GeofencesChange{Off: []string{identifier}})
	}

	e.evaluate(ctx, nil)
	return nil
}

// RemoveAllGeofences deletes every geofence and releases all slots.
func (e *Engine) RemoveAllGeofences(ctx context.Context) error {
	if e.storage != nil {
		if err := e.storage.DeleteAllGeofences(ctx); err != nil {
			return fmt.Errorf("remove all geofences: %w", err)
		}
	}

	e.mu.Lock()
	var off []string
	for id := range e.states {
		off = append(off, id)
	}
	e.states = make(map[string]*fenceState)
	e.mu.Unlock()

	for _, g := range e.index.All() {
		e.index.Delete(g.Identifier)
	}

	sort.Strings(off)
	for _, id := range off {
		if err := e.native.Deactivate(ctx, id); err != nil {
			e.log.Warn("native deactivate failed", "identifier", id, "error", err)
		}
	}
	if len(off) > 0 {
		e.sink.OnGeofencesChange(track.GeofencesChange{Off: off})
	}
	return nil
}

// Geofences returns all known geofences from the index.
func (e *Engine) Geofences() []track.Geofence {
	return e.index.All()
}

// ActiveCount returns the number of geofences currently occupying
// native slots (ACTIVE plus DWELLING).
func (e *Engine) ActiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.states)
}

// Activation returns the derived monitoring state of a geofence.
func (e *Engine) Activation(identifier string) track.Activation {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.states[identifier]; ok {
		return st.activation
	}
	return track.Inactive
}

// Update runs one full pass against a new location: re-select the
// activation set, then detect boundary transitions.
func (e *Engine) Update(ctx context.Context, loc track.Location) {
	e.evaluate(ctx, &loc)
}

// Tick re-runs the last pass on the stationary cadence. No-op until the
// first location arrives.
func (e *Engine) Tick(ctx context.Context) {
	e.evaluate(ctx, nil)
}

// Run ticks the engine until ctx is done. The interval is the
// stationary re-selection cadence; location-driven passes arrive
// independently via Update.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.StationaryInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.Tick(ctx)
		}
	}
}

// evaluate is the single-writer pass. loc == nil re-evaluates at the
// last known fix (periodic tick, add/remove trigger).
func (e *Engine) evaluate(ctx context.Context, loc *track.Location) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if loc != nil {
		e.lastFix = loc
	}
	if e.lastFix == nil {
		return
	}
	fix := *e.lastFix

	on, off := e.reselect(ctx, fix)
	if len(on) > 0 || len(off) > 0 {
		e.sink.OnGeofencesChange(track.GeofencesChange{On: on, Off: off})
	}

	e.detectTransitions(fix)
}

// reselect recomputes the activation set. Deactivations are applied
// before activations: the slot ceiling is hard, so slots must be freed
// first. Returns the identifiers switched on and off; both empty on a
// no-op pass. Caller holds e.mu.
func (e *Engine) reselect(ctx context.Context, loc track.Location) (on, off []string) {
	candidates := e.index.Near(loc.Point(), e.cfg.ProximityRadius)
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Distance != candidates[j].Distance {
			return candidates[i].Distance < candidates[j].Distance
		}
		// Stable tie-break at the ceiling boundary: smaller identifier.
		return candidates[i].Geofence.Identifier < candidates[j].Geofence.Identifier
	})

	ceiling := e.cfg.GeofenceSlots
	tentative := make(map[string]bool, ceiling)
	for i := 0; i < len(candidates) && i < ceiling; i++ {
		tentative[candidates[i].Geofence.Identifier] = true
	}

	// Free slots first.
	for id := range e.states {
		if !tentative[id] {
			off = append(off, id)
		}
	}
	sort.Strings(off)
	for _, id := range off {
		delete(e.states, id)
		if err := e.native.Deactivate(ctx, id); err != nil {
			e.log.Warn("native deactivate failed", "identifier", id, "error", err)
		}
	}

	// Fill remaining slots walking the candidates nearest-first. An
	// activation failure falls through to the next-nearest candidate.
	for _, c := range candidates {
		if len(e.states) >= ceiling {
			break
		}
		id := c.Geofence.Identifier
		if _, active := e.states[id]; active {
			continue
		}
		if err := e.native.Activate(ctx, c.Geofence); err != nil {
			capErr := &CapacityError{Identifier: id, Err: err}
			e.log.Warn("falling back to next candidate", "error", capErr)
			continue
		}
		e.states[id] = &fenceState{activation: track.Active}
		on = append(on, id)
	}
	sort.Strings(on)

	return on, off
}

// detectTransitions runs the polled containment test for every geofence
// occupying a slot. Caller holds e.mu.
func (e *Engine) detectTransitions(loc track.Location) {
	now := e.now()
	p := loc.Point()

	ids := make([]string, 0, len(e.states))
	for id := range e.states {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		st := e.states[id]
		g, ok := e.index.Get(id)
		if !ok {
			continue
		}
		contained := g.Contains(p)

		switch {
		case contained && !st.inside:
			st.inside = true
			st.containedAt = now
			st.dwelled = false
			if g.NotifyOnEntry {
				e.sink.OnGeofenceEvent(track.GeofenceEvent{
					Identifier: id, Action: track.ActionEnter, Location: loc,
				})
			}

		case !contained && st.inside:
			st.inside = false
			st.dwelled = false
			st.activation = track.Active
			if g.NotifyOnExit {
				e.sink.OnGeofenceEvent(track.GeofenceEvent{
					Identifier: id, Action: track.ActionExit, Location: loc,
				})
			}
		}

		// DWELL fires once per continuous containment, after the
		// loitering delay has elapsed. A geofence without a delay never
		// dwells.
		if st.inside && !st.dwelled {
			delay := g.LoiteringDelay
			if delay == 0 {
				delay = e.cfg.LoiteringDelay()
			}
			if delay > 0 && now.Sub(st.containedAt) >= delay {
				st.dwelled = true
				st.activation = track.Dwelling
				if g.NotifyOnDwell {
					e.sink.OnGeofenceEvent(track.GeofenceEvent{
						Identifier: id, Action: track.ActionDwell, Location: loc,
					})
				}
			}
		}
	}
}
