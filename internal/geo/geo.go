// Package geo provides great-circle math over WGS84 coordinates.
//
// Distances are computed with the haversine formula, which is accurate to
// well under a meter at the scales a tracking engine cares about (meters
// to tens of kilometers). All distances are in meters.
package geo

import "math"

// EarthRadiusMeters is the mean earth radius used for haversine distance.
const EarthRadiusMeters = 6371000.0

// metersPerDegreeLat is the approximate north-south span of one degree
// of latitude. Used only for bounding-box estimation, never for distance.
const metersPerDegreeLat = 111320.0

// Point is a WGS84 coordinate pair in decimal degrees.
type Point struct {
	Latitude  float64
	Longitude float64
}

// Distance returns the great-circle distance between a and b in meters.
func Distance(a, b Point) float64 {
	lat1 := radians(a.Latitude)
	lat2 := radians(b.Latitude)
	dLat := radians(b.Latitude - a.Latitude)
	dLon := radians(b.Longitude - a.Longitude)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)

	return 2 * EarthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Contains reports whether p lies within radius meters of center.
// Points exactly on the boundary are contained.
func Contains(center Point, radius float64, p Point) bool {
	return Distance(center, p) <= radius
}

// BoundingBox returns the degree deltas (dLat, dLon) of a box that fully
// encloses a circle of the given radius around p. The longitude delta
// widens toward the poles; near the poles it degrades to the full circle,
// which is safe (callers filter by true distance afterwards).
func BoundingBox(p Point, radius float64) (dLat, dLon float64) {
	dLat = radius / metersPerDegreeLat
	cos := math.Cos(radians(p.Latitude))
	if cos < 1e-6 {
		return dLat, 180
	}
	dLon = radius / (metersPerDegreeLat * cos)
	if dLon > 180 {
		dLon = 180
	}
	return dLat, dLon
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
