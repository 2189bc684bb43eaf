package metrics

import (
	"maps"
	"sync"
)

// LabelValue is the set of key/value pairs a Label currently holds.
type LabelValue map[string]any

// GetOrRegisterLabel returns an existing Label or constructs and registers a
// new one.
func GetOrRegisterLabel(name string, r Registry) *Label {
	return getOrRegister(name, NewLabel, r)
}

// NewLabel constructs a new Label.
func NewLabel() *Label {
	return &Label{value: make(LabelValue)}
}

// NewRegisteredLabel constructs and registers a new Label.
func NewRegisteredLabel(name string, r Registry) *Label {
	l := NewLabel()
	if r == nil {
		r = DefaultRegistry
	}
	r.Register(name, l)
	return l
}

// Label carries free-form key/value pairs describing a run, so reporting
// surfaces can show configuration context next to the numeric metrics.
type Label struct {
	mutex sync.Mutex
	value LabelValue
}

// Mark merges the given pairs into the label, overwriting existing keys.
func (l *Label) Mark(value LabelValue) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	maps.Copy(l.value, value)
}

// Snapshot returns a read-only copy of the label.
func (l *Label) Snapshot() LabelSnapshot {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return LabelSnapshot(maps.Clone(l.value))
}

// LabelSnapshot is a read-only copy of a Label.
type LabelSnapshot LabelValue

// Value returns the pairs at the time the snapshot was taken.
func (l LabelSnapshot) Value() LabelValue {
	return LabelValue(l)
}
