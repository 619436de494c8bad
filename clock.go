package tether

import "time"

// Clock provides the time source used for context creation timestamps and
// event timestamps. Injecting a custom clock makes time-dependent behavior
// (history expiry, event ordering assertions) deterministic in tests.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
}

// SystemClock is the standard Clock using the system time.
type SystemClock struct{}

// NewSystemClock creates a new SystemClock.
func NewSystemClock() *SystemClock {
	return &SystemClock{}
}

// Now returns the current system time.
func (c *SystemClock) Now() time.Time {
	return time.Now()
}

// MockClock is a Clock that returns a fixed, manually advanced time.
// Useful for testing expiry and timestamp behavior.
type MockClock struct {
	fixedTime time.Time
}

// NewMockClock creates a MockClock with the given fixed time.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{fixedTime: t}
}

// SetTime updates the fixed time returned by Now().
func (m *MockClock) SetTime(t time.Time) {
	m.fixedTime = t
}

// Advance moves the fixed time forward by d.
func (m *MockClock) Advance(d time.Duration) {
	m.fixedTime = m.fixedTime.Add(d)
}

// Now returns the fixed time.
func (m *MockClock) Now() time.Time {
	return m.fixedTime
}

// Compile-time check that MockClock implements Clock.
var _ Clock = (*MockClock)(nil)
