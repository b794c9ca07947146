// Package scheduler turns configured time-of-day windows into Start and
// Stop calls on the tracking engine.
//
// A window is written "1-5 09:00-17:00": an ISO weekday set (1=Monday,
// 7=Sunday; ranges and comma lists allowed) followed by a local-time
// span. An optional trailing "geofence" token makes the window run
// geofences-only tracking instead of full tracking.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Window is one parsed schedule entry. End is exclusive; a window whose
// end precedes its start spans midnight into the following day.
type Window struct {
	// Days is indexed by ISO weekday, 1 through 7.
	Days [8]bool

	// Start and End are minutes from local midnight.
	Start int
	End   int

	// GeofencesOnly selects geofences-only tracking for this window.
	GeofencesOnly bool
}

// ParseWindow parses a single schedule entry.
func ParseWindow(s string) (Window, error) {
	fields := strings.Fields(s)
	if len(fields) < 2 || len(fields) > 3 {
		return Window{}, fmt.Errorf("schedule: parse %q: want \"DAYS HH:MM-HH:MM [geofence]\"", s)
	}

	var w Window
	if err := parseDays(fields[0], &w.Days); err != nil {
		return Window{}, fmt.Errorf("schedule: parse %q: %w", s, err)
	}

	span := strings.SplitN(fields[1], "-", 2)
	if len(span) != 2 {
		return Window{}, fmt.Errorf("schedule: parse %q: bad time span %q", s, fields[1])
	}
	var err error
	if w.Start, err = parseClock(span[0]); err != nil {
		return Window{}, fmt.Errorf("schedule: parse %q: %w", s, err)
	}
	if w.End, err = parseClock(span[1]); err != nil {
		return Window{}, fmt.Errorf("schedule: parse %q: %w", s, err)
	}

	if len(fields) == 3 {
		if fields[2] != "geofence" {
			return Window{}, fmt.Errorf("schedule: parse %q: unknown mode %q", s, fields[2])
		}
		w.GeofencesOnly = true
	}
	return w, nil
}

// ParseWindows parses every entry; any bad entry fails the whole set.
func ParseWindows(entries []string) ([]Window, error) {
	windows := make([]Window, 0, len(entries))
	for _, e := range entries {
		w, err := ParseWindow(e)
		if err != nil {
			return nil, err
		}
		windows = append(windows, w)
	}
	return windows, nil
}

// parseDays fills the weekday set from "1-5", "6,7", "1-3,5", or "4".
func parseDays(s string, days *[8]bool) error {
	for _, part := range strings.Split(s, ",") {
		lo, hi, ok := strings.Cut(part, "-")
		from, err := parseDay(lo)
		if err != nil {
			return err
		}
		to := from
		if ok {
			if to, err = parseDay(hi); err != nil {
				return err
			}
		}
		if to < from {
			return fmt.Errorf("bad day range %q", part)
		}
		for d := from; d <= to; d++ {
			days[d] = true
		}
	}
	return nil
}

func parseDay(s string) (int, error) {
	d, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || d < 1 || d > 7 {
		return 0, fmt.Errorf("bad weekday %q", s)
	}
	return d, nil
}

func parseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return 0, fmt.Errorf("bad time %q", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("bad time %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("bad time %q", s)
	}
	return h*60 + m, nil
}

// Contains reports whether t falls inside the window. Overnight windows
// match the late hours of a scheduled day and the early hours of the
// day after it.
func (w Window) Contains(t time.Time) bool {
	iso := isoWeekday(t)
	mod := t.Hour()*60 + t.Minute()

	if w.Start <= w.End {
		return w.Days[iso] && mod >= w.Start && mod < w.End
	}
	if w.Days[iso] && mod >= w.Start {
		return true
	}
	prev := iso - 1
	if prev == 0 {
		prev = 7
	}
	return w.Days[prev] && mod < w.End
}

func isoWeekday(t time.Time) int {
	if wd := int(t.Weekday()); wd != 0 {
		return wd
	}
	return 7
}

// Controller is the slice of the motion state machine the scheduler
// drives.
type Controller interface {
	Start(ctx context.Context) error
	StartGeofences(ctx context.Context) error
	Stop()
}

type mode int

const (
	modeOff mode = iota
	modeLocation
	modeGeofence
)

// Scheduler applies the configured windows on a fixed cadence. When
// windows overlap, full tracking wins over geofences-only.
type Scheduler struct {
	windows []Window
	ctrl    Controller
	log     *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	primed  bool
	applied mode
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithNow overrides the wall clock for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// New creates a scheduler over parsed windows. log may be nil.
func New(windows []Window, ctrl Controller, log *slog.Logger, opts ...Option) *Scheduler {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	s := &Scheduler{windows: windows, ctrl: ctrl, log: log, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Evaluate applies the mode the current instant calls for. Repeated
// calls inside the same window are no-ops; a failed Start stays
// unapplied so the next evaluation retries it.
func (s *Scheduler) Evaluate(ctx context.Context) error {
	want := modeOff
	for _, w := range s.windows {
		if !w.Contains(s.now()) {
			continue
		}
		if w.GeofencesOnly {
			want = modeGeofence
			continue
		}
		want = modeLocation
		break
	}

	s.mu.Lock()
	primed, applied := s.primed, s.applied
	s.mu.Unlock()
	if primed && want == applied {
		return nil
	}

	// Switching between tracking modes goes through a stop so the engine
	// re-enters cleanly.
	if primed && applied != modeOff && want != modeOff {
		s.ctrl.Stop()
	}

	var err error
	switch want {
	case modeLocation:
		err = s.ctrl.Start(ctx)
	case modeGeofence:
		err = s.ctrl.StartGeofences(ctx)
	default:
		s.ctrl.Stop()
	}
	if err != nil {
		return fmt.Errorf("schedule: apply window: %w", err)
	}

	s.mu.Lock()
	s.primed = true
	s.applied = want
	s.mu.Unlock()
	return nil
}

// Run evaluates the schedule on the given cadence until ctx is done.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) error {
	if err := s.Evaluate(ctx); err != nil {
		s.log.Warn("schedule evaluation failed", "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Evaluate(ctx); err != nil {
				s.log.Warn("schedule evaluation failed", "error", err)
			}
		}
	}
}
