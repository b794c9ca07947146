package proximity

import (
	"math"
	"sync"

	"github.com/roamkit/roam/internal/geo"
	"github.com/roamkit/roam/internal/track"
)

// defaultCellDegrees sizes the grid cells. ~2km at the equator keeps a
// proximity query over a few-kilometer radius touching a handful of
// cells even with tens of thousands of geofences loaded.
const defaultCellDegrees = 0.02

type cellKey struct {
	x, y int32
}

// Index is a grid-bucketed spatial index over the full geofence set.
// Queries collect the cells of the query circle's bounding box and then
// filter by true great-circle distance, so correctness never depends on
// the cell size. Safe for concurrent use.
type Index struct {
	mu       sync.RWMutex
	cellDeg  float64
	cells    map[cellKey]map[string]track.Geofence
	location map[string]cellKey // identifier -> owning cell
}

// Candidate is a geofence paired with its center distance from a query
// point.
type Candidate struct {
	Geofence track.Geofence
	Distance float64
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{
		cellDeg:  defaultCellDegrees,
		cells:    make(map[cellKey]map[string]track.Geofence),
		location: make(map[string]cellKey),
	}
}

func (ix *Index) key(p geo.Point) cellKey {
	return cellKey{
		x: int32(math.Floor(p.Longitude / ix.cellDeg)),
		y: int32(math.Floor(p.Latitude / ix.cellDeg)),
	}
}

// Upsert inserts a geofence, replacing any prior definition with the
// same identifier (delete-then-insert).
func (ix *Index) Upsert(g track.Geofence) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.deleteLocked(g.Identifier)

	k := ix.key(g.Center())
	cell := ix.cells[k]
	if cell == nil {
		cell = make(map[string]track.Geofence)
		ix.cells[k] = cell
	}
	cell[g.Identifier] = g
	ix.location[g.Identifier] = k
}

// Delete removes a geofence by identifier. Returns false if absent.
func (ix *Index) Delete(identifier string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.deleteLocked(identifier)
}

func (ix *Index) deleteLocked(identifier string) bool {
	k, ok := ix.location[identifier]
	if !ok {
		return false
	}
	delete(ix.cells[k], identifier)
	if len(ix.cells[k]) == 0 {
		delete(ix.cells, k)
	}
	delete(ix.location, identifier)
	return true
}

// Get returns a geofence by identifier.
func (ix *Index) Get(identifier string) (track.Geofence, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	k, ok := ix.location[identifier]
	if !ok {
		return track.Geofence{}, false
	}
	g, ok := ix.cells[k][identifier]
	return g, ok
}

// Len returns the number of indexed geofences.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.location)
}

// All returns every indexed geofence in unspecified order.
func (ix *Index) All() []track.Geofence {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	out := make([]track.Geofence, 0, len(ix.location))
	for _, cell := range ix.cells {
		for _, g := range cell {
			out = append(out, g)
		}
	}
	return out
}

// Near returns every geofence whose center lies within radius meters of
// p, in unspecified order. Callers sort.
func (ix *Index) Near(p geo.Point, radius float64) []Candidate {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	dLat, dLon := geo.BoundingBox(p, radius)
	minKey := ix.key(geo.Point{Latitude: p.Latitude - dLat, Longitude: p.Longitude - dLon})
	maxKey := ix.key(geo.Point{Latitude: p.Latitude + dLat, Longitude: p.Longitude + dLon})

	var out []Candidate
	for y := minKey.y; y <= maxKey.y; y++ {
		for x := minKey.x; x <= maxKey.x; x++ {
			for _, g := range ix.cells[cellKey{x: x, y: y}] {
				d := geo.Distance(p, g.Center())
				if d <= radius {
					out = append(out, Candidate{Geofence: g, Distance: d})
				}
			}
		}
	}
	return out
}
