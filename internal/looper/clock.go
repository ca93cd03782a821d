package looper

import (
	"sync"
	"time"
)

// Clock provides the current time. Loopers only compare instants obtained from the same Clock.
type Clock interface {
	Now() time.Time
}

// RealClock reads the system's monotonic clock.
type RealClock struct{}

func (RealClock) Now() time.Time {
	return time.Now()
}

// FakeClock only moves when told to. A Looper built on a FakeClock is driven by DispatchAll and
// MoveTimeForward instead of Start.
type FakeClock struct {
	lock sync.Mutex
	now  time.Time
}

func NewFakeClock() *FakeClock {
	return &FakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *FakeClock) Now() time.Time {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.now
}

func (c *FakeClock) set(t time.Time) {
	c.lock.Lock()
	if t.After(c.now) {
		c.now = t
	}
	c.lock.Unlock()
}

// Advance moves the clock forward without running any tasks.
func (c *FakeClock) Advance(d time.Duration) {
	c.lock.Lock()
	c.now = c.now.Add(d)
	c.lock.Unlock()
}
