// Package sensor defines the seam to the platform location capability.
//
// The engine treats the sensor as opaque, potentially slow, and
// potentially failing: a Provider returns a fix or a typed error, and
// every fetch honors the caller's timeout. Production builds plug the
// platform implementation in here; the daemon and the tests use the
// simulated and scripted providers.
package sensor

import (
	"context"
	"time"

	"github.com/roamkit/roam/internal/track"
)

// Request describes a single position acquisition.
type Request struct {
	// DesiredAccuracy is the target horizontal accuracy in meters.
	DesiredAccuracy float64

	// Timeout bounds the acquisition. Zero means DefaultTimeout.
	Timeout time.Duration

	// Samples is how many fixes to collect before settling on the most
	// accurate one. Zero means a single fix.
	Samples int
}

// DefaultTimeout bounds a fetch when the request does not set one.
const DefaultTimeout = 30 * time.Second

// ActivityType classifies device motion as reported by the platform's
// activity-recognition capability.
type ActivityType string

const (
	ActivityStill     ActivityType = "still"
	ActivityOnFoot    ActivityType = "on_foot"
	ActivityInVehicle ActivityType = "in_vehicle"
)

// Activity is one activity-recognition tick.
type Activity struct {
	Type       ActivityType
	Confidence int // 0-100
	Time       time.Time
}

// Provider is the platform location capability.
//
// CurrentLocation blocks until a fix is acquired, the request times out,
// or ctx is canceled. When Samples > 1 the intermediate fixes are passed
// to onSample (may be nil) with the Sample flag set; the returned fix is
// the most accurate of the set and is not a sample.
//
// WatchActivity returns a stream of activity events; the channel closes
// when ctx is canceled.
type Provider interface {
	CurrentLocation(ctx context.Context, req Request, onSample func(track.Location)) (track.Location, error)
	WatchActivity(ctx context.Context) (<-chan Activity, error)
}
