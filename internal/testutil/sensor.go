package testutil

import (
	"context"
	"sync"

	"github.com/roamkit/roam/internal/sensor"
	"github.com/roamkit/roam/internal/track"
)

// scripted step: either a fix or an error.
type step struct {
	fix track.Location
	err error
}

// ScriptedProvider returns predetermined fixes (or errors) in order.
//
// This is the deterministic counterpart to the production sensor,
// mirroring the fixed-versus-generated pairing used for token
// generators. Tests script the exact sequence of fixes a scenario
// needs; fetches beyond the script fail with LOCATION_UNAVAILABLE.
//
// Thread-safety: safe for concurrent use via internal mutex.
type ScriptedProvider struct {
	mu       sync.Mutex
	steps    []step
	idx      int
	activity chan sensor.Activity

	// Fetches counts CurrentLocation calls, for asserting retry behavior.
	Fetches int
}

// NewScriptedProvider creates a provider with no scripted steps.
// Add fixes with Queue and errors with QueueError.
func NewScriptedProvider() *ScriptedProvider {
	return &ScriptedProvider{activity: make(chan sensor.Activity, 16)}
}

// Queue appends fixes to the script.
func (p *ScriptedProvider) Queue(fixes ...track.Location) *ScriptedProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, f := range fixes {
		p.steps = append(p.steps, step{fix: f})
	}
	return p
}

// QueueError appends a failing fetch to the script.
func (p *ScriptedProvider) QueueError(err error) *ScriptedProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.steps = append(p.steps, step{err: err})
	return p
}

// CurrentLocation returns the next scripted step. An exhausted script
// returns LOCATION_UNAVAILABLE: background sampling loops treat fetch
// errors as retryable, so tests wind down instead of crashing.
func (p *ScriptedProvider) CurrentLocation(ctx context.Context, req sensor.Request, onSample func(track.Location)) (track.Location, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Fetches++
	if p.idx >= len(p.steps) {
		return track.Location{}, sensor.NewUnavailable("script exhausted")
	}
	s := p.steps[p.idx]
	p.idx++

	if s.err != nil {
		return track.Location{}, s.err
	}

	// Multi-sample requests surface the preceding scripted fixes as
	// samples, settling on the last one, so tests can script an initial
	// acquisition the way the platform delivers one.
	if req.Samples > 1 && onSample != nil {
		for req.Samples > 1 && p.idx < len(p.steps) && p.steps[p.idx].err == nil {
			sample := s.fix
			sample.Sample = true
			onSample(sample)
			s = p.steps[p.idx]
			p.idx++
			p.Fetches++
			req.Samples--
		}
	}

	return s.fix, nil
}

// WatchActivity returns the feedable activity channel.
func (p *ScriptedProvider) WatchActivity(ctx context.Context) (<-chan sensor.Activity, error) {
	return p.activity, nil
}

// EmitActivity pushes an activity tick to watchers.
func (p *ScriptedProvider) EmitActivity(a sensor.Activity) {
	p.activity <- a
}

// Remaining returns how many scripted steps are unconsumed.
func (p *ScriptedProvider) Remaining() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.steps) - p.idx
}
