package metrics

import (
	"sync/atomic"
	"time"
)

// GetOrRegisterMeter returns an existing Meter or constructs and registers a
// new one.
func GetOrRegisterMeter(name string, r Registry) *Meter {
	return getOrRegister(name, NewMeter, r)
}

// NewMeter constructs a new Meter.
func NewMeter() *Meter {
	return &Meter{startTime: time.Now()}
}

// NewRegisteredMeter constructs and registers a new Meter.
func NewRegisteredMeter(name string, r Registry) *Meter {
	m := NewMeter()
	if r == nil {
		r = DefaultRegistry
	}
	r.Register(name, m)
	return m
}

// Meter counts events to produce a mean throughput rate.
type Meter struct {
	count     atomic.Int64
	startTime time.Time
}

// Mark records the occurrence of n events.
func (m *Meter) Mark(n int64) {
	m.count.Add(n)
}

// Snapshot returns a read-only copy of the meter.
func (m *Meter) Snapshot() *MeterSnapshot {
	count := m.count.Load()
	return &MeterSnapshot{
		count:    count,
		rateMean: float64(count) / time.Since(m.startTime).Seconds(),
	}
}

// MeterSnapshot is a read-only copy of a Meter.
type MeterSnapshot struct {
	count    int64
	rateMean float64
}

// Count returns the count of events at the time the snapshot was taken.
func (s *MeterSnapshot) Count() int64 { return s.count }

// RateMean returns the meter's mean rate of events per second since it was
// constructed.
func (s *MeterSnapshot) RateMean() float64 { return s.rateMean }
