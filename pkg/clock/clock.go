// Package clock provides time sources for the mastery engine.
// Its main job is assigning strictly-increasing server timestamps to
// incoming attempts, so event ordering never depends on client clocks.
// No external dependencies - uses only standard library.
package clock

import (
	"sync"
	"time"
)

// Clock is a minimal time source, swappable in tests.
type Clock interface {
	// Now returns the current time in UTC.
	Now() time.Time
}

// System is a Clock backed by the wall clock.
type System struct{}

// Now implements Clock.
func (System) Now() time.Time {
	return time.Now().UTC()
}

// Monotonic assigns strictly-increasing timestamps. If two calls land
// within the same wall-clock nanosecond (or the wall clock steps
// backwards), the returned timestamp is bumped by one nanosecond past
// the previous one, so no two attempts ever share an ingestion time.
type Monotonic struct {
	mu    sync.Mutex
	inner Clock
	last  time.Time
}

// NewMonotonic creates a Monotonic source on top of the given clock.
// A nil inner clock defaults to the system clock.
func NewMonotonic(inner Clock) *Monotonic {
	if inner == nil {
		inner = System{}
	}
	return &Monotonic{inner: inner}
}

// Now returns a timestamp strictly after every previously returned one.
func (m *Monotonic) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.inner.Now()
	if !now.After(m.last) {
		now = m.last.Add(time.Nanosecond)
	}
	m.last = now
	return now
}

// Fixed is a Clock that always returns the same instant. Useful in tests.
type Fixed struct {
	T time.Time
}

// Now implements Clock.
func (f Fixed) Now() time.Time {
	return f.T
}

// Stepping is a test Clock that advances by a fixed step on every call.
type Stepping struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
}

// NewStepping creates a Stepping clock starting at start.
func NewStepping(start time.Time, step time.Duration) *Stepping {
	return &Stepping{t: start, step: step}
}

// Now returns the current instant and advances the clock.
func (s *Stepping) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.t
	s.t = s.t.Add(s.step)
	return t
}
