package store

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roamkit/roam/internal/track"
)

func TestUpsertGeofence_InsertAndReplace(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	g := track.Geofence{
		Identifier:    "office",
		Latitude:      52.52,
		Longitude:     13.405,
		Radius:        150,
		NotifyOnEntry: true,
	}
	require.NoError(t, s.UpsertGeofence(ctx, g))

	// Re-adding the identifier replaces the definition atomically.
	g.Radius = 300
	g.NotifyOnDwell = true
	g.LoiteringDelay = 30 * time.Second
	require.NoError(t, s.UpsertGeofence(ctx, g))

	got, err := s.Geofence(ctx, "office")
	require.NoError(t, err)
	assert.Equal(t, 300.0, got.Radius)
	assert.True(t, got.NotifyOnDwell)
	assert.Equal(t, 30*time.Second, got.LoiteringDelay)

	all, err := s.Geofences(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestUpsertGeofences_Bulk(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	batch := make([]track.Geofence, 100)
	for i := range batch {
		batch[i] = track.Geofence{
			Identifier: fmt.Sprintf("fence-%03d", i),
			Latitude:   float64(i) * 0.001,
			Radius:     100,
		}
	}
	require.NoError(t, s.UpsertGeofences(ctx, batch))

	all, err := s.Geofences(ctx)
	require.NoError(t, err)
	require.Len(t, all, 100)
	// Ordered by identifier.
	assert.Equal(t, "fence-000", all[0].Identifier)
	assert.Equal(t, "fence-099", all[99].Identifier)
}

func TestUpsertGeofences_ExtrasRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	g := track.Geofence{
		Identifier: "tagged",
		Radius:     50,
		Extras:     map[string]any{"zone": "loading-dock"},
	}
	require.NoError(t, s.UpsertGeofence(ctx, g))

	got, err := s.Geofence(ctx, "tagged")
	require.NoError(t, err)
	assert.Equal(t, "loading-dock", got.Extras["zone"])
}

func TestDeleteGeofence(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertGeofence(ctx, track.Geofence{Identifier: "gone", Radius: 10}))

	removed, err := s.DeleteGeofence(ctx, "gone")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = s.DeleteGeofence(ctx, "gone")
	require.NoError(t, err)
	assert.False(t, removed, "second delete should report not found")

	_, err = s.Geofence(ctx, "gone")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestDeleteAllGeofences(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.UpsertGeofence(ctx, track.Geofence{
			Identifier: fmt.Sprintf("g%d", i), Radius: 10,
		}))
	}
	require.NoError(t, s.DeleteAllGeofences(ctx))

	all, err := s.Geofences(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.NotNil(t, all)
}

func TestOdometer_PersistsValue(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	meters, err := s.Odometer(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0.0, meters)

	require.NoError(t, s.SetOdometer(ctx, 1234.56))

	meters, err = s.Odometer(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1234.56, meters)
}
