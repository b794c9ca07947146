package track

import "sync"

// MotionChange reports a STATIONARY/MOVING transition, automatic or
// manual. The Location is the fix that triggered the transition.
type MotionChange struct {
	Location Location `json:"location"`
	IsMoving bool     `json:"isMoving"`
}

// GeofencesChange reports the diff of a proximity re-selection pass:
// identifiers newly activated (On) and newly deactivated (Off). Emitted
// only when at least one list is non-empty.
type GeofencesChange struct {
	On  []string `json:"on"`
	Off []string `json:"off"`
}

// GeofenceEvent reports an ENTER, EXIT, or DWELL transition for a single
// monitored geofence.
type GeofenceEvent struct {
	Identifier string         `json:"identifier"`
	Action     GeofenceAction `json:"action"`
	Location   Location       `json:"location"`
}

// Heartbeat carries the last known location on the heartbeat interval.
type Heartbeat struct {
	Location Location `json:"location"`
}

// ProviderChange reports a change in sensor/permission availability so
// long-lived listeners can react to authorization loss.
type ProviderChange struct {
	Available        bool `json:"available"`
	PermissionDenied bool `json:"permissionDenied"`
}

// Sink receives engine events. Implementations must be safe for
// concurrent use; the engines emit from their own loops.
type Sink interface {
	OnLocation(Location)
	OnMotionChange(MotionChange)
	OnGeofencesChange(GeofencesChange)
	OnGeofenceEvent(GeofenceEvent)
	OnHeartbeat(Heartbeat)
	OnProviderChange(ProviderChange)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) OnLocation(Location)               {}
func (NopSink) OnMotionChange(MotionChange)       {}
func (NopSink) OnGeofencesChange(GeofencesChange) {}
func (NopSink) OnGeofenceEvent(GeofenceEvent)     {}
func (NopSink) OnHeartbeat(Heartbeat)             {}
func (NopSink) OnProviderChange(ProviderChange)   {}

// MultiSink fans events out to several sinks in order.
type MultiSink []Sink

func (m MultiSink) OnLocation(l Location) {
	for _, s := range m {
		s.OnLocation(l)
	}
}

func (m MultiSink) OnMotionChange(e MotionChange) {
	for _, s := range m {
		s.OnMotionChange(e)
	}
}

func (m MultiSink) OnGeofencesChange(e GeofencesChange) {
	for _, s := range m {
		s.OnGeofencesChange(e)
	}
}

func (m MultiSink) OnGeofenceEvent(e GeofenceEvent) {
	for _, s := range m {
		s.OnGeofenceEvent(e)
	}
}

func (m MultiSink) OnHeartbeat(e Heartbeat) {
	for _, s := range m {
		s.OnHeartbeat(e)
	}
}

func (m MultiSink) OnProviderChange(e ProviderChange) {
	for _, s := range m {
		s.OnProviderChange(e)
	}
}

// RecorderSink collects events for inspection. Intended for tests and
// the CLI's follow mode.
type RecorderSink struct {
	mu               sync.Mutex
	Locations        []Location
	MotionChanges    []MotionChange
	GeofencesChanges []GeofencesChange
	GeofenceEvents   []GeofenceEvent
	Heartbeats       []Heartbeat
	ProviderChanges  []ProviderChange
}

func (r *RecorderSink) OnLocation(l Location) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Locations = append(r.Locations, l)
}

func (r *RecorderSink) OnMotionChange(e MotionChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.MotionChanges = append(r.MotionChanges, e)
}

func (r *RecorderSink) OnGeofencesChange(e GeofencesChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.GeofencesChanges = append(r.GeofencesChanges, e)
}

func (r *RecorderSink) OnGeofenceEvent(e GeofenceEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.GeofenceEvents = append(r.GeofenceEvents, e)
}

func (r *RecorderSink) OnHeartbeat(e Heartbeat) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Heartbeats = append(r.Heartbeats, e)
}

func (r *RecorderSink) OnProviderChange(e ProviderChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ProviderChanges = append(r.ProviderChanges, e)
}

// Snapshot returns copies of the collected event slices under the lock.
func (r *RecorderSink) Snapshot() RecorderSink {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RecorderSink{
		Locations:        append([]Location(nil), r.Locations...),
		MotionChanges:    append([]MotionChange(nil), r.MotionChanges...),
		GeofencesChanges: append([]GeofencesChange(nil), r.GeofencesChanges...),
		GeofenceEvents:   append([]GeofenceEvent(nil), r.GeofenceEvents...),
		Heartbeats:       append([]Heartbeat(nil), r.Heartbeats...),
		ProviderChanges:  append([]ProviderChange(nil), r.ProviderChanges...),
	}
}
