// Package track defines the core domain records shared by the tracking
// engines: locations, geofences, activation states, and the events the
// engines emit. It mirrors the role internal packages usually give a
// central type package: no behavior beyond construction and predicates,
// consumed by store, motion, proximity, and syncq.
package track

import (
	"time"

	"github.com/google/uuid"

	"github.com/roamkit/roam/internal/geo"
)

// Location is an immutable recorded fix. Values are never mutated after
// creation; the store removes them only after confirmed delivery or an
// explicit purge.
type Location struct {
	// ID is a UUIDv7 string. Time-sortable, which keeps debugging traces
	// aligned with the store's sequence order.
	ID string `json:"id"`

	Timestamp time.Time `json:"timestamp"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`

	// Accuracy is the horizontal accuracy radius in meters. Lower is better.
	Accuracy float64 `json:"accuracy"`

	Speed    float64 `json:"speed"`
	Bearing  float64 `json:"bearing"`
	Altitude float64 `json:"altitude"`

	// Sample marks a diagnostic-only fix: surfaced to listeners during an
	// initial position acquisition but never persisted or synced.
	Sample bool `json:"sample,omitempty"`

	Extras map[string]any `json:"extras,omitempty"`
}

// NewLocationID generates a UUIDv7 location identifier.
func NewLocationID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Point returns the location's coordinates.
func (l Location) Point() geo.Point {
	return geo.Point{Latitude: l.Latitude, Longitude: l.Longitude}
}

// Persistable is the filtering predicate at the boundary between the
// sensor capability and the location store: sample fixes are returned to
// listeners but never written.
func Persistable(l Location) bool {
	return !l.Sample
}
