// Package clock abstracts time so the store's authoritative timestamps and
// the lifecycle deadlines can be driven from tests.
package clock

import (
	"sync"
	"time"
)

// Clock is the source of "now" for the store and the engines.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the system time.
type RealClock struct{}

// Now returns the current system time in UTC.
func (RealClock) Now() time.Time {
	return time.Now().UTC()
}

// New returns the production clock.
func New() Clock {
	return RealClock{}
}

// MockClock is a controllable Clock for tests. Safe for concurrent use.
type MockClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewMock creates a MockClock starting at t. A zero t starts at the current time.
func NewMock(t time.Time) *MockClock {
	if t.IsZero() {
		t = time.Now().UTC()
	}
	return &MockClock{now: t}
}

func (m *MockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by d.
func (m *MockClock) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

// Set moves the clock to t.
func (m *MockClock) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}
