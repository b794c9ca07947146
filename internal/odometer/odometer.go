// Package odometer tracks cumulative distance across accepted locations,
// independent of how many location rows the store holds.
package odometer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/roamkit/roam/internal/geo"
	"github.com/roamkit/roam/internal/sensor"
	"github.com/roamkit/roam/internal/track"
)

// Persister stores the odometer value durably. Implemented by
// store.Store.
type Persister interface {
	SetOdometer(ctx context.Context, meters float64) error
}

// Odometer is a monotonically-increasing distance counter. It only
// decreases via an explicit Reset. Safe for concurrent use.
type Odometer struct {
	mu          sync.Mutex
	meters      float64
	last        *track.Location
	maxAccuracy float64

	provider sensor.Provider
	persist  Persister
	log      *slog.Logger
}

// New creates an odometer seeded with a previously persisted value.
// maxAccuracy is the accuracy ceiling in meters: fixes worse than this
// are silently excluded from accumulation. persist may be nil (the
// value is then in-memory only); provider may be nil if Reset is never
// asked to stamp a reset fix.
func New(initial, maxAccuracy float64, provider sensor.Provider, persist Persister, log *slog.Logger) *Odometer {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Odometer{
		meters:      initial,
		maxAccuracy: maxAccuracy,
		provider:    provider,
		persist:     persist,
		log:         log,
	}
}

// Value returns the current total in meters.
func (o *Odometer) Value() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.meters
}

// Accumulate adds the great-circle distance from the previously accepted
// location to loc. A fix whose accuracy exceeds the ceiling is skipped
// without error and without disturbing the previous anchor. Returns the
// meters added (zero when skipped or when loc is the first fix).
func (o *Odometer) Accumulate(ctx context.Context, loc track.Location) float64 {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.maxAccuracy > 0 && loc.Accuracy > o.maxAccuracy {
		o.log.Debug("odometer skipping low-accuracy fix",
			"accuracy", loc.Accuracy, "ceiling", o.maxAccuracy)
		return 0
	}

	var delta float64
	if o.last != nil {
		if o.maxAccuracy > 0 && o.last.Accuracy > o.maxAccuracy {
			delta = 0
		} else {
			delta = geo.Distance(o.last.Point(), loc.Point())
		}
	}

	anchor := loc
	o.last = &anchor
	o.meters += delta

	if delta > 0 && o.persist != nil {
		if err := o.persist.SetOdometer(ctx, o.meters); err != nil {
			o.log.Warn("odometer persist failed", "error", err)
		}
	}

	return delta
}

// Reset atomically sets the total to value and acquires a fresh fix to
// timestamp and position the reset point. The value is applied even when
// the fetch fails; the fix (when acquired) becomes the new accumulation
// anchor and is returned so callers can surface "odometer was set here".
func (o *Odometer) Reset(ctx context.Context, value float64) (track.Location, error) {
	o.mu.Lock()
	o.meters = value
	o.last = nil
	persist := o.persist
	provider := o.provider
	o.mu.Unlock()

	if persist != nil {
		if err := persist.SetOdometer(ctx, value); err != nil {
			o.log.Warn("odometer persist failed", "error", err)
		}
	}

	if provider == nil {
		return track.Location{}, nil
	}

	fix, err := provider.CurrentLocation(ctx, sensor.Request{
		Timeout: 30 * time.Second,
		Samples: 1,
	}, nil)
	if err != nil {
		return track.Location{}, err
	}

	o.mu.Lock()
	anchor := fix
	o.last = &anchor
	o.mu.Unlock()

	return fix, nil
}
