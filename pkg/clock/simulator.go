// Package clock provides the per-workspace virtual clock.
//
// Each workspace reads "now" as the wall clock plus its own offset. The
// offset can also drift: with a scale factor other than 1 the virtual clock
// runs faster or slower than the wall clock from the moment the scale was
// set. A workspace with a zero offset and a scale of 1 is in Realtime; any
// other setting puts it in Simulated until it is changed again. Offsets
// never decay on their own and never rewrite timestamps that were already
// recorded.
package clock

import (
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/getmockd/vbackend/pkg/logging"
)

// State is the clock state of a workspace.
type State string

const (
	StateRealtime  State = "realtime"
	StateSimulated State = "simulated"
)

var (
	// ErrOffsetRange is returned when a change would move the offset past
	// what a time.Duration can hold.
	ErrOffsetRange = errors.New("clock offset out of range")
	// ErrInvalidScale is returned for scale factors that are not positive
	// finite numbers.
	ErrInvalidScale = errors.New("scale factor must be a positive finite number")
)

// Status describes the clock of one workspace at a point in time.
type Status struct {
	Workspace     string        `json:"workspace"`
	State         State         `json:"state"`
	Offset        time.Duration `json:"offsetNs"`
	OffsetSeconds float64       `json:"offsetSeconds"`
	Scale         float64       `json:"scale"`
	Now           time.Time     `json:"now"`
	RealTime      time.Time     `json:"realTime"`
}

// setting is the clock of one simulated workspace. At wall time w the
// virtual time is w + offset + (w - baseline) * (scale - 1).
type setting struct {
	offset   time.Duration
	scale    float64
	baseline time.Time
}

func (c setting) at(wall time.Time) time.Duration {
	if c.scale == 1 {
		return c.offset
	}
	drift := float64(wall.Sub(c.baseline)) * (c.scale - 1)
	total := float64(c.offset) + drift
	switch {
	case total >= math.MaxInt64:
		return math.MaxInt64
	case total <= math.MinInt64:
		return math.MinInt64
	}
	return time.Duration(total)
}

// Simulator holds the clocks of every workspace. The zero value is not
// usable; call NewSimulator.
type Simulator struct {
	mu       sync.RWMutex
	settings map[string]setting
	wall     Source
	log      *slog.Logger
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithWallClock replaces the system wall clock.
func WithWallClock(src Source) Option {
	return func(s *Simulator) { s.wall = src }
}

// WithLogger sets the logger used to record clock changes.
func WithLogger(log *slog.Logger) Option {
	return func(s *Simulator) { s.log = log }
}

// NewSimulator creates a simulator with every workspace in Realtime.
func NewSimulator(opts ...Option) *Simulator {
	s := &Simulator{
		settings: make(map[string]setting),
		wall:     Real(),
		log:      logging.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now returns the virtual time of workspace.
func (s *Simulator) Now(workspace string) time.Time {
	wall := s.wall.Now()
	return wall.Add(s.offsetAt(workspace, wall))
}

// Offset returns how far the clock of workspace is ahead of the wall clock
// right now. Negative offsets are behind.
func (s *Simulator) Offset(workspace string) time.Duration {
	return s.offsetAt(workspace, s.wall.Now())
}

func (s *Simulator) offsetAt(workspace string, wall time.Time) time.Duration {
	s.mu.RLock()
	c, ok := s.settings[workspace]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	return c.at(wall)
}

// Scale returns the scale factor of workspace. Realtime workspaces run at 1.
func (s *Simulator) Scale(workspace string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.settings[workspace]; ok {
		return c.scale
	}
	return 1
}

// SetOffset sets the offset of workspace. The scale is kept and drifts from
// the new offset. A zero delta at scale 1 returns the workspace to Realtime.
func (s *Simulator) SetOffset(workspace string, delta time.Duration) {
	s.mu.Lock()
	wall := s.wall.Now()
	prev := s.current(workspace, wall)
	s.store(workspace, prev.rebase(delta, wall))
	s.mu.Unlock()

	if off := prev.at(wall); off != delta {
		s.log.Info("virtual clock offset changed", "workspace", workspace, "from", off, "to", delta)
	}
}

// Advance moves the clock of workspace forward by d (backwards when d is
// negative) and returns the new offset. It fails with ErrOffsetRange
// instead of wrapping around.
func (s *Simulator) Advance(workspace string, d time.Duration) (time.Duration, error) {
	s.mu.Lock()
	wall := s.wall.Now()
	c := s.current(workspace, wall)
	cur := c.at(wall)
	if (d > 0 && cur > math.MaxInt64-d) || (d < 0 && cur < math.MinInt64-d) {
		s.mu.Unlock()
		return cur, ErrOffsetRange
	}
	off := cur + d
	s.store(workspace, c.rebase(off, wall))
	s.mu.Unlock()

	s.log.Info("virtual clock advanced", "workspace", workspace, "by", d, "offset", off)
	return off, nil
}

// SetTime sets the offset so that Now(workspace) reads t at this instant,
// and returns that offset.
func (s *Simulator) SetTime(workspace string, t time.Time) time.Duration {
	off := t.Sub(s.wall.Now())
	s.SetOffset(workspace, off)
	return off
}

// SetScale makes the clock of workspace run factor times as fast as the
// wall clock from now on. The virtual time at this instant is unchanged.
func (s *Simulator) SetScale(workspace string, factor float64) error {
	if factor <= 0 || math.IsNaN(factor) || math.IsInf(factor, 0) {
		return ErrInvalidScale
	}
	s.mu.Lock()
	wall := s.wall.Now()
	c := s.current(workspace, wall)
	prev := c.scale
	c = c.rebase(c.at(wall), wall)
	c.scale = factor
	s.store(workspace, c)
	s.mu.Unlock()

	if prev != factor {
		s.log.Info("virtual clock scale changed", "workspace", workspace, "from", prev, "to", factor)
	}
	return nil
}

// Reset returns workspace to Realtime: no offset and a scale of 1.
func (s *Simulator) Reset(workspace string) {
	s.mu.Lock()
	_, had := s.settings[workspace]
	delete(s.settings, workspace)
	s.mu.Unlock()

	if had {
		s.log.Info("virtual clock reset", "workspace", workspace)
	}
}

// State reports whether workspace is in Realtime or Simulated.
func (s *Simulator) State(workspace string) State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.settings[workspace]; ok {
		return StateSimulated
	}
	return StateRealtime
}

// Status returns a consistent view of the clock of workspace.
func (s *Simulator) Status(workspace string) Status {
	s.mu.RLock()
	c, simulated := s.settings[workspace]
	s.mu.RUnlock()

	wall := s.wall.Now()
	st := Status{Workspace: workspace, State: StateRealtime, Scale: 1, RealTime: wall, Now: wall}
	if simulated {
		off := c.at(wall)
		st.State = StateSimulated
		st.Offset = off
		st.OffsetSeconds = off.Seconds()
		st.Scale = c.scale
		st.Now = wall.Add(off)
	}
	return st
}

// Offsets returns the current offsets of all workspaces in Simulated.
func (s *Simulator) Offsets() map[string]time.Duration {
	wall := s.wall.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]time.Duration, len(s.settings))
	for ws, c := range s.settings {
		out[ws] = c.at(wall)
	}
	return out
}

// For returns a Source bound to workspace. Entity stores use it to stamp
// records.
func (s *Simulator) For(workspace string) Source {
	return Func(func() time.Time { return s.Now(workspace) })
}

// current returns the setting of workspace, or the Realtime one. mu must be
// held.
func (s *Simulator) current(workspace string, wall time.Time) setting {
	if c, ok := s.settings[workspace]; ok {
		return c
	}
	return setting{scale: 1, baseline: wall}
}

// rebase returns c with offset off at wall, drifting from there.
func (c setting) rebase(off time.Duration, wall time.Time) setting {
	return setting{offset: off, scale: c.scale, baseline: wall}
}

// store must be called with mu held.
func (s *Simulator) store(workspace string, c setting) {
	if c.offset == 0 && c.scale == 1 {
		delete(s.settings, workspace)
		return
	}
	s.settings[workspace] = c
}
