package timing

import (
	"sync"
	"time"
)

// Ticks is a free-running microsecond counter value. It wraps at 2^32 (about
// 71.6 minutes), like a microcontroller micros() timer, so it must only be
// used to compute elapsed time between two readings, never as an absolute time.
type Ticks uint32

// Delta returns the elapsed ticks from prev to now. Unsigned subtraction makes
// the result correct across a single wraparound of the counter.
func Delta(prev, now Ticks) Ticks {
	return now - prev
}

// Duration converts a tick count to a time.Duration.
func (t Ticks) Duration() time.Duration {
	return time.Duration(t) * time.Microsecond
}

// FromDuration truncates a monotonic offset (for example a kernel event
// timestamp) to the wrapping microsecond counter.
func FromDuration(d time.Duration) Ticks {
	return Ticks(uint64(d.Microseconds()))
}

// Clock reads the current counter value.
type Clock interface {
	Now() Ticks
}

// MonotonicClock derives Ticks from the Go monotonic clock.
type MonotonicClock struct {
	once  sync.Once
	epoch time.Time
}

// NewMonotonicClock returns a clock whose counter starts at zero now.
func NewMonotonicClock() *MonotonicClock {
	c := &MonotonicClock{}
	c.once.Do(func() { c.epoch = time.Now() })
	return c
}

func (c *MonotonicClock) Now() Ticks {
	c.once.Do(func() { c.epoch = time.Now() })
	return FromDuration(time.Since(c.epoch))
}

// Stats accumulates inter-frame deltas for a session summary.
type Stats struct {
	Count int
	Min   Ticks
	Max   Ticks
	Sum   uint64
}

// Add records one delta.
func (s *Stats) Add(d Ticks) {
	if s.Count == 0 || d < s.Min {
		s.Min = d
	}
	if d > s.Max {
		s.Max = d
	}
	s.Count++
	s.Sum += uint64(d)
}

// Mean returns the average delta, or 0 when nothing was recorded.
func (s Stats) Mean() Ticks {
	if s.Count == 0 {
		return 0
	}
	return Ticks(s.Sum / uint64(s.Count))
}
