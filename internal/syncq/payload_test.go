package syncq

import (
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"

	"github.com/roamkit/roam/internal/store"
	"github.com/roamkit/roam/internal/track"
)

func fixedLocation(id string, ts time.Time, lon float64) track.Location {
	return track.Location{
		ID:        id,
		Timestamp: ts,
		Latitude:  45.519,
		Longitude: lon,
		Accuracy:  5,
		Speed:     1.5,
		Bearing:   90,
		Altitude:  30,
	}
}

func TestEncodeOne_Golden(t *testing.T) {
	ts := time.Unix(1700000000, 0).UTC()
	loc := fixedLocation("0192d7a0-5bb0-7aa0-8000-000000000001", ts, -73.6168)

	data, err := encodeOne(loc, map[string]any{
		"device": map[string]any{"model": "simulator"},
	})
	require.NoError(t, err)

	g := goldie.New(t)
	g.Assert(t, "single_location", data)
}

func TestEncodeBatch_Golden(t *testing.T) {
	ts := time.Unix(1700000000, 0).UTC()
	second := fixedLocation("0192d7a0-5bb0-7aa0-8000-000000000002", ts.Add(10*time.Second), -73.6169)
	second.Extras = map[string]any{"battery": 0.85}

	records := []store.Record{
		{Seq: 1, Location: fixedLocation("0192d7a0-5bb0-7aa0-8000-000000000001", ts, -73.6168)},
		{Seq: 2, Location: second},
	}

	data, err := encodeBatch(records, nil)
	require.NoError(t, err)

	g := goldie.New(t)
	g.Assert(t, "batch_locations", data)
}

func TestEncodeOne_ParamsCannotClobberLocation(t *testing.T) {
	ts := time.Unix(1700000000, 0).UTC()
	loc := fixedLocation("0192d7a0-5bb0-7aa0-8000-000000000001", ts, -73.6168)

	data, err := encodeOne(loc, map[string]any{"location": "injected"})
	require.NoError(t, err)
	require.NotContains(t, string(data), "injected")
}
