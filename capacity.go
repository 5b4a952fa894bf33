package flowrun

import "sync/atomic"

// Capacity is the bounded gauge of simultaneously running executions.
// The scheduler and engine share one instance: acquire on dispatch, release
// on terminal transition. It is always passed explicitly, never ambient.
type Capacity struct {
	limit   int64
	running atomic.Int64
}

// NewCapacity creates a gauge with the given cap. A non-positive limit
// means unbounded.
func NewCapacity(limit int) *Capacity {
	return &Capacity{limit: int64(limit)}
}

// TryAcquire reserves one slot. Returns false when the cap is saturated;
// the reservation must be released exactly once on terminal transition.
func (c *Capacity) TryAcquire() bool {
	for {
		current := c.running.Load()
		if c.limit > 0 && current >= c.limit {
			return false
		}
		if c.running.CompareAndSwap(current, current+1) {
			return true
		}
	}
}

// Release returns one slot
func (c *Capacity) Release() {
	if c.running.Add(-1) < 0 {
		// Unbalanced release; clamp rather than corrupt the gauge
		c.running.Store(0)
	}
}

// InUse returns the number of currently reserved slots
func (c *Capacity) InUse() int {
	return int(c.running.Load())
}

// Limit returns the configured cap, 0 when unbounded
func (c *Capacity) Limit() int {
	return int(c.limit)
}

// Load returns in-use over limit as a fraction, 0 when unbounded
func (c *Capacity) Load() float64 {
	if c.limit <= 0 {
		return 0
	}
	return float64(c.running.Load()) / float64(c.limit)
}
