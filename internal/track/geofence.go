package track

import (
	"time"

	"github.com/roamkit/roam/internal/geo"
)

// Geofence is a circular region with an entry/exit/dwell notification
// policy. Identifiers are unique; re-adding an identifier replaces the
// prior definition. Whether a geofence is actively monitored is derived
// by the proximity engine, never stored on the record.
type Geofence struct {
	Identifier string  `json:"identifier"`
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	Radius     float64 `json:"radius"`

	NotifyOnEntry bool `json:"notifyOnEntry"`
	NotifyOnExit  bool `json:"notifyOnExit"`
	NotifyOnDwell bool `json:"notifyOnDwell"`

	// LoiteringDelay is the minimum continuous containment before a DWELL
	// fires. Zero means DWELL never fires.
	LoiteringDelay time.Duration `json:"loiteringDelay"`

	Extras map[string]any `json:"extras,omitempty"`
}

// Center returns the geofence's center point.
func (g Geofence) Center() geo.Point {
	return geo.Point{Latitude: g.Latitude, Longitude: g.Longitude}
}

// Contains reports whether p lies inside the geofence.
func (g Geofence) Contains(p geo.Point) bool {
	return geo.Contains(g.Center(), g.Radius, p)
}

// Activation is the derived monitoring state of a geofence.
type Activation int

const (
	// Inactive means the geofence is known but not handed to the native
	// monitoring API.
	Inactive Activation = iota
	// Active means the geofence occupies a native monitoring slot.
	Active
	// Dwelling means the device has remained contained for at least the
	// loitering delay. Dwelling geofences still occupy a slot.
	Dwelling
)

func (a Activation) String() string {
	switch a {
	case Inactive:
		return "INACTIVE"
	case Active:
		return "ACTIVE"
	case Dwelling:
		return "DWELLING"
	default:
		return "UNKNOWN"
	}
}

// GeofenceAction identifies a boundary transition.
type GeofenceAction string

const (
	ActionEnter GeofenceAction = "ENTER"
	ActionExit  GeofenceAction = "EXIT"
	ActionDwell GeofenceAction = "DWELL"
)
