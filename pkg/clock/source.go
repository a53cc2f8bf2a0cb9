package clock

import (
	"sync"
	"time"
)

// Source is anything that can tell the current time.
type Source interface {
	Now() time.Time
}

// Func adapts a plain function to Source.
type Func func() time.Time

// Now calls f.
func (f Func) Now() time.Time { return f() }

type realSource struct{}

func (realSource) Now() time.Time { return time.Now() }

// Real returns a Source backed by the system wall clock.
func Real() Source { return realSource{} }

// Manual is a Source that only moves when told to. Tests use it to pin the
// wall clock.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual returns a manual source starting at t.
func NewManual(t time.Time) *Manual {
	return &Manual{now: t}
}

// Now returns the current manual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Set moves the manual time to t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}

// Advance moves the manual time forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}
