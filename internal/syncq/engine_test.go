package syncq

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roamkit/roam/internal/config"
	"github.com/roamkit/roam/internal/store"
	"github.com/roamkit/roam/internal/track"
)

// deliverySpy records delivered payloads and can fail a prefix of
// requests.
type deliverySpy struct {
	mu       sync.Mutex
	bodies   []string
	failNext int
	status   int
}

func (d *deliverySpy) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		d.mu.Lock()
		defer d.mu.Unlock()
		if d.failNext > 0 {
			d.failNext--
			status := d.status
			if status == 0 {
				status = http.StatusInternalServerError
			}
			http.Error(w, "simulated failure", status)
			return
		}
		d.bodies = append(d.bodies, string(body))
		w.WriteHeader(http.StatusOK)
	}
}

func (d *deliverySpy) delivered() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.bodies...)
}

func newSyncTest(t *testing.T, url string, batch bool) (*Engine, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "roam.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	cfg := config.Default()
	cfg.URL = url
	cfg.BatchSync = batch

	return New(cfg, s, nil, nil), s
}

func insertFixes(t *testing.T, s *store.Store, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := s.InsertLocation(context.Background(), track.Location{
			ID:        track.NewLocationID(),
			Timestamp: time.Now(),
			Latitude:  45,
			Longitude: float64(i),
			Accuracy:  5,
		}, 0)
		require.NoError(t, err)
	}
}

func TestSync_RESTDeliversOldestFirst(t *testing.T) {
	spy := &deliverySpy{}
	server := httptest.NewServer(spy.handler())
	defer server.Close()

	eng, s := newSyncTest(t, server.URL, false)
	insertFixes(t, s, 3)

	require.NoError(t, eng.Sync(context.Background()))

	bodies := spy.delivered()
	require.Len(t, bodies, 3, "one request per record")
	for i, body := range bodies {
		var payload struct {
			Location track.Location `json:"location"`
		}
		require.NoError(t, json.Unmarshal([]byte(body), &payload))
		assert.Equal(t, float64(i), payload.Location.Longitude, "delivery must follow creation order")
	}

	count, err := s.CountLocations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, count, "delivered records are deleted")
}

func TestSync_RESTHeadOfLineFailure(t *testing.T) {
	spy := &deliverySpy{failNext: 1}
	server := httptest.NewServer(spy.handler())
	defer server.Close()

	eng, s := newSyncTest(t, server.URL, false)
	insertFixes(t, s, 3)

	err := eng.Sync(context.Background())
	require.Error(t, err)
	assert.True(t, IsRemoteError(err))

	// Record #1 failed: #2 and #3 were never attempted and all three
	// remain pending for the next pass.
	assert.Empty(t, spy.delivered())
	pending, perr := s.PendingCount(context.Background())
	require.NoError(t, perr)
	assert.Equal(t, 3, pending)

	// The next pass picks up where the failed one left off.
	require.NoError(t, eng.Sync(context.Background()))
	assert.Len(t, spy.delivered(), 3)
}

func TestSync_RemoteErrorCarriesStatusAndBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		io.WriteString(w, "subscription expired")
	}))
	defer server.Close()

	eng, s := newSyncTest(t, server.URL, false)
	insertFixes(t, s, 1)

	err := eng.Sync(context.Background())
	var re *RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusPaymentRequired, re.Status)
	assert.Contains(t, re.Body, "subscription expired")
}

func TestSync_BatchAllOrNothing(t *testing.T) {
	spy := &deliverySpy{failNext: 1}
	server := httptest.NewServer(spy.handler())
	defer server.Close()

	eng, s := newSyncTest(t, server.URL, true)
	insertFixes(t, s, 3)
	ctx := context.Background()

	// First pass fails: nothing committed, everything back to pending.
	require.Error(t, eng.Sync(ctx))
	pending, err := s.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, pending)

	// Second pass retries the whole batch in one request.
	require.NoError(t, eng.Sync(ctx))
	bodies := spy.delivered()
	require.Len(t, bodies, 1)

	var payload struct {
		Location []track.Location `json:"location"`
	}
	require.NoError(t, json.Unmarshal([]byte(bodies[0]), &payload))
	assert.Len(t, payload.Location, 3)

	count, err := s.CountLocations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestSync_BatchHonorsCeiling(t *testing.T) {
	spy := &deliverySpy{}
	server := httptest.NewServer(spy.handler())
	defer server.Close()

	eng, s := newSyncTest(t, server.URL, true)
	eng.cfg.MaxBatchSize = 2
	insertFixes(t, s, 5)
	ctx := context.Background()

	require.NoError(t, eng.Sync(ctx))
	require.Len(t, spy.delivered(), 1)

	pending, err := s.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, pending, "one batch of MaxBatchSize per pass")
}

func TestSync_NetworkUnreachableLeavesRecordsPending(t *testing.T) {
	// A closed server makes every request fail at the transport level.
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	eng, s := newSyncTest(t, url, false)
	insertFixes(t, s, 2)

	err := eng.Sync(context.Background())
	require.Error(t, err)
	assert.False(t, IsRemoteError(err), "transport failure is not a remote rejection")

	pending, perr := s.PendingCount(context.Background())
	require.NoError(t, perr)
	assert.Equal(t, 2, pending)
}

func TestSync_NoEndpointConfigured(t *testing.T) {
	eng, s := newSyncTest(t, "", false)
	insertFixes(t, s, 1)

	require.NoError(t, eng.Sync(context.Background()))

	count, err := s.CountLocations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count, "nothing is drained without a configured URL")
}

func TestSync_ConcurrentPassesCoalesce(t *testing.T) {
	release := make(chan struct{})
	arrived := make(chan struct{})
	var once sync.Once

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() { close(arrived) })
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	eng, s := newSyncTest(t, server.URL, false)
	insertFixes(t, s, 1)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- eng.Sync(ctx) }()
	<-arrived

	// Second trigger while the first pass is mid-flight: coalesced.
	require.NoError(t, eng.Sync(ctx))

	close(release)
	require.NoError(t, <-done)

	count, err := s.CountLocations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestTrigger_RespectsAutoSyncFlag(t *testing.T) {
	spy := &deliverySpy{}
	server := httptest.NewServer(spy.handler())
	defer server.Close()

	eng, s := newSyncTest(t, server.URL, false)
	eng.cfg.AutoSync = false
	insertFixes(t, s, 1)

	eng.Trigger(context.Background())
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, spy.delivered(), "Trigger is a no-op when autoSync is off")

	eng.cfg.AutoSync = true
	eng.Trigger(context.Background())
	assert.Eventually(t, func() bool {
		return len(spy.delivered()) == 1
	}, 2*time.Second, 10*time.Millisecond)
}
