package sensor

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/roamkit/roam/internal/track"
)

// Simulated is a Provider that walks a device around a starting point.
// Used by the daemon when no platform sensor is wired in, and by manual
// testing. Deterministic when constructed with a fixed seed.
type Simulated struct {
	mu      sync.Mutex
	lat     float64
	lon     float64
	bearing float64
	speed   float64 // meters/second
	rng     *rand.Rand

	// FixDelay simulates acquisition latency per fix.
	FixDelay time.Duration
}

// NewSimulated creates a simulated sensor at the given position.
func NewSimulated(lat, lon float64, seed int64) *Simulated {
	return &Simulated{
		lat:      lat,
		lon:      lon,
		speed:    1.4, // walking pace
		rng:      rand.New(rand.NewSource(seed)),
		FixDelay: 50 * time.Millisecond,
	}
}

// CurrentLocation advances the simulated walk and returns the new fix.
func (s *Simulated) CurrentLocation(ctx context.Context, req Request, onSample func(track.Location)) (track.Location, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	deadline := time.Now().Add(timeout)

	samples := req.Samples
	if samples < 1 {
		samples = 1
	}

	var best track.Location
	bestSet := false
	for i := 0; i < samples; i++ {
		if time.Now().After(deadline) {
			if bestSet {
				break
			}
			return track.Location{}, NewTimeout("simulated fix deadline elapsed")
		}
		select {
		case <-ctx.Done():
			return track.Location{}, NewTimeout(ctx.Err().Error())
		case <-time.After(s.FixDelay):
		}

		fix := s.step()
		if !bestSet || fix.Accuracy < best.Accuracy {
			best = fix
			bestSet = true
		}
		if onSample != nil && i < samples-1 {
			sample := fix
			sample.Sample = true
			onSample(sample)
		}
	}

	return best, nil
}

// WatchActivity emits a still/on_foot tick every few seconds.
func (s *Simulated) WatchActivity(ctx context.Context) (<-chan Activity, error) {
	out := make(chan Activity)
	go func() {
		defer close(out)
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				s.mu.Lock()
				kind := ActivityOnFoot
				if s.speed < 0.5 {
					kind = ActivityStill
				}
				s.mu.Unlock()
				select {
				case out <- Activity{Type: kind, Confidence: 85, Time: now}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *Simulated) step() track.Location {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Random-walk heading, step one second of travel.
	s.bearing += (s.rng.Float64() - 0.5) * 30
	distance := s.speed
	dLat := distance * math.Cos(s.bearing*math.Pi/180) / 111320.0
	dLon := distance * math.Sin(s.bearing*math.Pi/180) / (111320.0 * math.Cos(s.lat*math.Pi/180))
	s.lat += dLat
	s.lon += dLon

	return track.Location{
		ID:        track.NewLocationID(),
		Timestamp: time.Now(),
		Latitude:  s.lat,
		Longitude: s.lon,
		Accuracy:  5 + s.rng.Float64()*10,
		Speed:     s.speed,
		Bearing:   s.bearing,
	}
}
