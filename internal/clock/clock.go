// Package clock abstracts time so that expiry and refresh behavior can be
// tested deterministically.
package clock

import (
	"sync"
	"time"
)

// Clock provides the current time and tickers
type Clock interface {
	// Now returns the current time
	Now() time.Time

	// NewTicker returns a ticker that fires every d
	NewTicker(d time.Duration) Ticker
}

// Ticker delivers ticks on a channel until stopped
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// SystemClock is a Clock backed by the time package
type SystemClock struct{}

// NewSystemClock returns the real wall clock
func NewSystemClock() *SystemClock {
	return &SystemClock{}
}

func (SystemClock) Now() time.Time {
	return time.Now()
}

func (SystemClock) NewTicker(d time.Duration) Ticker {
	return &systemTicker{t: time.NewTicker(d)}
}

type systemTicker struct {
	t *time.Ticker
}

func (s *systemTicker) C() <-chan time.Time { return s.t.C }
func (s *systemTicker) Stop()               { s.t.Stop() }

// FixtureClock is a manually advanced Clock for tests
type FixtureClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fixtureTicker
}

// NewFixtureClock creates a clock frozen at start
func NewFixtureClock(start time.Time) *FixtureClock {
	return &FixtureClock{now: start}
}

func (c *FixtureClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t
func (c *FixtureClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Advance moves the clock forward by d, firing any ticker whose interval elapsed
func (c *FixtureClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	tickers := append([]*fixtureTicker(nil), c.tickers...)
	c.mu.Unlock()

	for _, t := range tickers {
		t.maybeFire(now)
	}
}

func (c *FixtureClock) NewTicker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fixtureTicker{
		ch:       make(chan time.Time, 1),
		interval: d,
		next:     c.now.Add(d),
	}
	c.tickers = append(c.tickers, t)
	return t
}

type fixtureTicker struct {
	mu       sync.Mutex
	ch       chan time.Time
	interval time.Duration
	next     time.Time
	stopped  bool
}

func (t *fixtureTicker) C() <-chan time.Time { return t.ch }

func (t *fixtureTicker) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

func (t *fixtureTicker) maybeFire(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || now.Before(t.next) {
		return
	}
	for !now.Before(t.next) {
		t.next = t.next.Add(t.interval)
	}
	// Drop the tick if the receiver is behind, like time.Ticker
	select {
	case t.ch <- now:
	default:
	}
}
