package metrics

import (
	"sync"
	"time"
)

// GetOrRegisterTimer returns an existing Timer or constructs and registers a
// new one.
func GetOrRegisterTimer(name string, r Registry) *Timer {
	return getOrRegister(name, NewTimer, r)
}

// NewTimer constructs a new Timer.
func NewTimer() *Timer {
	return &Timer{min: time.Duration(1<<63 - 1)}
}

// NewRegisteredTimer constructs and registers a new Timer.
func NewRegisteredTimer(name string, r Registry) *Timer {
	t := NewTimer()
	if r == nil {
		r = DefaultRegistry
	}
	r.Register(name, t)
	return t
}

// Timer captures the duration of events.
type Timer struct {
	mu    sync.Mutex
	count int64
	total time.Duration
	min   time.Duration
	max   time.Duration
}

// Update records the duration of an event.
func (t *Timer) Update(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count++
	t.total += d
	if d < t.min {
		t.min = d
	}
	if d > t.max {
		t.max = d
	}
}

// UpdateSince records the duration of an event that started at ts.
func (t *Timer) UpdateSince(ts time.Time) {
	t.Update(time.Since(ts))
}

// Time records the duration of the execution of the given function.
func (t *Timer) Time(f func()) {
	ts := time.Now()
	f()
	t.UpdateSince(ts)
}

// Snapshot returns a read-only copy of the timer.
func (t *Timer) Snapshot() *TimerSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap := &TimerSnapshot{count: t.count, total: t.total, max: t.max}
	if t.count > 0 {
		snap.min = t.min
		snap.mean = t.total / time.Duration(t.count)
	}
	return snap
}

// TimerSnapshot is a read-only copy of a Timer.
type TimerSnapshot struct {
	count int64
	total time.Duration
	min   time.Duration
	max   time.Duration
	mean  time.Duration
}

// Count returns the number of events recorded at the time the snapshot was
// taken.
func (s *TimerSnapshot) Count() int64 { return s.count }

// Total returns the accumulated duration of all recorded events.
func (s *TimerSnapshot) Total() time.Duration { return s.total }

// Min returns the shortest recorded duration.
func (s *TimerSnapshot) Min() time.Duration { return s.min }

// Max returns the longest recorded duration.
func (s *TimerSnapshot) Max() time.Duration { return s.max }

// Mean returns the mean recorded duration.
func (s *TimerSnapshot) Mean() time.Duration { return s.mean }
