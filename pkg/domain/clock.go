package domain

import (
	"sync"
	"time"
)

// Clock supplies commit timestamps. Implementations must never go backwards.
type Clock interface {
	Now() time.Time
}

// MonotonicClock wraps a time source and guarantees strictly increasing UTC
// readings, nudging forward by a nanosecond when the source stalls or rewinds.
type MonotonicClock struct {
	mu     sync.Mutex
	source func() time.Time
	last   time.Time
}

// NewMonotonicClock returns a clock over source; nil means time.Now.
func NewMonotonicClock(source func() time.Time) *MonotonicClock {
	if source == nil {
		source = time.Now
	}
	return &MonotonicClock{source: source}
}

// Now returns the next timestamp.
func (c *MonotonicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.source().UTC()
	if !now.After(c.last) {
		now = c.last.Add(time.Nanosecond)
	}
	c.last = now
	return now
}

// AdvanceTo guarantees the next reading is after t.
func (c *MonotonicClock) AdvanceTo(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t = t.UTC(); t.After(c.last) {
		c.last = t
	}
}
