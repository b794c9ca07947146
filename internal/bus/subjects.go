package bus

import "strings"

// Subject layout for engine events. External subscribers use the
// wildcard forms; the daemon publishes on the concrete ones.
const (
	SubjectPrefix = "roam"

	SubjectLocation        = "roam.location"
	SubjectMotionChange    = "roam.motion.change"
	SubjectGeofencesChange = "roam.geofences.change"
	SubjectHeartbeat       = "roam.heartbeat"
	SubjectProviderChange  = "roam.provider.change"

	// Per-geofence transitions publish on roam.geofence.<id>.<action>;
	// subscribe to this wildcard for all of them.
	SubjectGeofenceAll = "roam.geofence.>"
)

// GeofenceSubject builds the per-geofence transition subject, e.g.
// "roam.geofence.store_12.enter".
func GeofenceSubject(identifier, action string) string {
	return SubjectPrefix + ".geofence." + sanitizeToken(identifier) + "." + sanitizeToken(action)
}

// sanitizeToken makes an arbitrary identifier safe as a single NATS
// subject token.
func sanitizeToken(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '.', '*', '>':
			return '_'
		}
		return r
	}, s)
}
