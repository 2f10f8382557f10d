// Package progress tracks (current, total) counters shared by concurrent workers.
package progress

import (
	"sync"
	"time"
)

// Mode distinguishes known-size progress from unknown-size progress.
type Mode int

const (
	Indeterminate Mode = iota
	Determinate
)

func (m Mode) String() string {
	if m == Determinate {
		return "determinate"
	}
	return "indeterminate"
}

// Snapshot is a consistent read of a counter.
type Snapshot struct {
	Current int64
	Total   int64
	Mode    Mode
}

// Percent returns completion in [0, 100], or 0 when the size is unknown.
func (s Snapshot) Percent() float64 {
	if s.Mode != Determinate || s.Total <= 0 {
		return 0
	}
	return float64(s.Current) / float64(s.Total) * 100
}

// Counter is a mutex-guarded (current, total) pair. A total of zero means the
// size is unknown; in that mode Add is ignored.
type Counter struct {
	mu      sync.Mutex
	current int64
	total   int64
	started bool
}

// NewCounter returns a counter that has not started yet.
func NewCounter() *Counter {
	return &Counter{}
}

// Reset starts the counter over with the given total.
func (c *Counter) Reset(total int64) {
	if total < 0 {
		total = 0
	}
	c.mu.Lock()
	c.current = 0
	c.total = total
	c.started = true
	c.mu.Unlock()
}

// Add advances current by n, never past total.
func (c *Counter) Add(n int64) {
	if n <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.total == 0 {
		return
	}
	c.current += n
	if c.current > c.total {
		c.current = c.total
	}
}

// Snapshot returns the current state.
func (c *Counter) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Started reports whether Reset has been called.
func (c *Counter) Started() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

func (c *Counter) snapshotLocked() Snapshot {
	s := Snapshot{Current: c.current, Total: c.total}
	if c.total > 0 {
		s.Mode = Determinate
	}
	return s
}

// Aggregate sums the counters that have started. The result is determinate
// only when every started counter is determinate.
func Aggregate(counters []*Counter) Snapshot {
	var (
		out     Snapshot
		started int
		unknown bool
	)
	for _, c := range counters {
		if c == nil {
			continue
		}
		c.mu.Lock()
		if c.started {
			started++
			s := c.snapshotLocked()
			out.Current += s.Current
			out.Total += s.Total
			if s.Mode == Indeterminate {
				unknown = true
			}
		}
		c.mu.Unlock()
	}
	if started == 0 || unknown {
		out.Total = 0
		out.Mode = Indeterminate
		return out
	}
	out.Mode = Determinate
	return out
}

// EstimateRemaining returns elapsed * (total - current) / current. The second
// return value is false while the estimate is not meaningful.
func EstimateRemaining(elapsed time.Duration, s Snapshot) (time.Duration, bool) {
	if s.Mode != Determinate || s.Current <= 0 || s.Total <= 0 {
		return 0, false
	}
	remaining := s.Total - s.Current
	if remaining <= 0 {
		return 0, true
	}
	return time.Duration(float64(elapsed) * float64(remaining) / float64(s.Current)), true
}
