package track

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roamkit/roam/internal/geo"
)

func TestPersistable_FiltersSamples(t *testing.T) {
	fix := Location{ID: NewLocationID(), Timestamp: time.Now()}
	sample := fix
	sample.Sample = true

	assert.True(t, Persistable(fix))
	assert.False(t, Persistable(sample))
}

func TestNewLocationID_Unique(t *testing.T) {
	a := NewLocationID()
	b := NewLocationID()
	require.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}

func TestGeofence_Contains(t *testing.T) {
	g := Geofence{Identifier: "office", Latitude: 0, Longitude: 0, Radius: 100}

	assert.True(t, g.Contains(geo.Point{Latitude: 0, Longitude: 0.0005}))
	assert.False(t, g.Contains(geo.Point{Latitude: 0, Longitude: 0.01}))
}

func TestActivation_String(t *testing.T) {
	assert.Equal(t, "INACTIVE", Inactive.String())
	assert.Equal(t, "ACTIVE", Active.String())
	assert.Equal(t, "DWELLING", Dwelling.String())
}

func TestMultiSink_FansOut(t *testing.T) {
	a := &RecorderSink{}
	b := &RecorderSink{}
	sink := MultiSink{a, b}

	sink.OnMotionChange(MotionChange{IsMoving: true})
	sink.OnGeofenceEvent(GeofenceEvent{Identifier: "g1", Action: ActionEnter})

	for _, r := range []*RecorderSink{a, b} {
		snap := r.Snapshot()
		require.Len(t, snap.MotionChanges, 1)
		require.Len(t, snap.GeofenceEvents, 1)
		assert.Equal(t, ActionEnter, snap.GeofenceEvents[0].Action)
	}
}
