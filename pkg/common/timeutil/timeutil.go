// Package timeutil provides time-related utilities and abstractions.
// It lets load and training paths measure durations against a clock that
// tests can control.
package timeutil

import (
	"sync"
	"time"
)

// Provider defines an interface for time operations,
// allowing for easier testing by providing a way to mock time.
type Provider interface {
	// Now returns the current time.
	Now() time.Time

	// Since returns the time elapsed since t.
	Since(t time.Time) time.Duration
}

// RealProvider is the default implementation of Provider that
// provides access to the actual system time.
type RealProvider struct{}

// Now returns the current time in UTC.
func (RealProvider) Now() time.Time { return time.Now().UTC() }

// Since returns the wall-clock time elapsed since t.
func (RealProvider) Since(t time.Time) time.Duration { return time.Since(t) }

// Mock is an implementation of Provider used for testing,
// allowing tests to control what time is returned. It is safe for
// concurrent use.
type Mock struct {
	mu      sync.Mutex
	current time.Time
}

// NewMock creates a new mock time provider with the specified time.
func NewMock(t time.Time) *Mock { return &Mock{current: t} }

// Now returns the preset time.
func (m *Mock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Since returns the mock time elapsed since t.
func (m *Mock) Since(t time.Time) time.Duration { return m.Now().Sub(t) }

// SetNow directly sets the current time to the provided time.
func (m *Mock) SetNow(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = t
}

// Advance moves the mock time forward by the specified duration.
func (m *Mock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = m.current.Add(d)
}

// Default returns a Provider implementation that uses the real system time.
func Default() Provider { return RealProvider{} }
