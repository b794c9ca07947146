package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roamkit/roam/internal/track"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "roam.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testLocation(lat, lon float64) track.Location {
	return track.Location{
		ID:        track.NewLocationID(),
		Timestamp: time.Now(),
		Latitude:  lat,
		Longitude: lon,
		Accuracy:  10,
	}
}

func TestInsertLocation_AssignsIncreasingSeq(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var prev int64
	for i := 0; i < 5; i++ {
		seq, err := s.InsertLocation(ctx, testLocation(0, float64(i)), 0)
		require.NoError(t, err)
		assert.Greater(t, seq, prev, "seq must increase monotonically")
		prev = seq
	}

	count, err := s.CountLocations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, count)
}

func TestInsertLocation_RoundTripsPayload(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	loc := testLocation(52.52, 13.405)
	loc.Speed = 3.5
	loc.Extras = map[string]any{"battery": 0.8}

	_, err := s.InsertLocation(ctx, loc, 0)
	require.NoError(t, err)

	records, err := s.Locations(ctx, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)

	got := records[0].Location
	assert.Equal(t, loc.ID, got.ID)
	assert.Equal(t, loc.Latitude, got.Latitude)
	assert.Equal(t, loc.Speed, got.Speed)
	assert.Equal(t, 0.8, got.Extras["battery"])
	assert.Equal(t, StatePending, records[0].State)
}

func TestClaimPending_OrderedAndExclusive(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.InsertLocation(ctx, testLocation(0, float64(i)), 0)
		require.NoError(t, err)
	}

	first, err := s.ClaimPending(ctx, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Less(t, first[0].Seq, first[1].Seq)
	assert.Equal(t, StateInflight, first[0].State)

	// A concurrent pass must not see the claimed records.
	second, err := s.ClaimPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Greater(t, second[0].Seq, first[1].Seq)
}

func TestClaimPending_EmptyQueue(t *testing.T) {
	s := openTestStore(t)

	records, err := s.ClaimPending(context.Background(), 10)
	require.NoError(t, err)
	assert.NotNil(t, records)
	assert.Empty(t, records)
}

func TestReleaseLocations_MakesEligibleAgain(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.InsertLocation(ctx, testLocation(0, 0), 0)
	require.NoError(t, err)

	claimed, err := s.ClaimPending(ctx, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	require.NoError(t, s.ReleaseLocations(ctx, claimed[0].Seq))

	again, err := s.ClaimPending(ctx, 1)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, claimed[0].Seq, again[0].Seq)
}

func TestDeleteLocations_RemovesDelivered(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	seq1, err := s.InsertLocation(ctx, testLocation(0, 0), 0)
	require.NoError(t, err)
	_, err = s.InsertLocation(ctx, testLocation(0, 1), 0)
	require.NoError(t, err)

	require.NoError(t, s.DeleteLocations(ctx, seq1))

	count, err := s.CountLocations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestDestroyLocations_PurgesEverything(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := s.InsertLocation(ctx, testLocation(0, float64(i)), 0)
		require.NoError(t, err)
	}
	_, err := s.ClaimPending(ctx, 2) // some inflight, some pending
	require.NoError(t, err)

	require.NoError(t, s.DestroyLocations(ctx))

	count, err := s.CountLocations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestInsertLocation_PrunesBeyondCap(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := s.InsertLocation(ctx, testLocation(0, float64(i)), 3)
		require.NoError(t, err)
	}

	records, err := s.Locations(ctx, 0)
	require.NoError(t, err)
	require.Len(t, records, 3)

	// The newest three survive.
	assert.Equal(t, 7.0, records[0].Location.Longitude)
	assert.Equal(t, 9.0, records[2].Location.Longitude)
}

func TestOpen_RecoversInflightToPending(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roam.db")
	ctx := context.Background()

	s1, err := Open(path)
	require.NoError(t, err)
	_, err = s1.InsertLocation(ctx, testLocation(0, 0), 0)
	require.NoError(t, err)
	claimed, err := s1.ClaimPending(ctx, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	s1.Close() // simulated crash with a record inflight

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	pending, err := s2.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pending)
}
