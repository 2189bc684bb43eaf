package metrics

import (
	"reflect"
	"sync"
)

// A Registry holds references to a set of metrics by name.
type Registry interface {
	// Each calls the given function for each registered metric.
	Each(func(string, interface{}))

	// Get the metric by the given name or nil if none is registered.
	Get(name string) interface{}

	// GetOrRegister gets an existing metric or registers the given one.
	// The interface can be the metric to register if not found in registry,
	// or a function returning the metric for lazy instantiation.
	GetOrRegister(name string, i interface{}) interface{}

	// Register the given metric under the given name. Returns a
	// duplicateMetric if a metric by the given name is already registered.
	Register(name string, i interface{}) error

	// Unregister the metric with the given name.
	Unregister(name string)
}

// DefaultRegistry is where metrics land when no explicit registry is given.
var DefaultRegistry = NewRegistry()

// NewRegistry constructs a new StandardRegistry.
func NewRegistry() Registry {
	return new(StandardRegistry)
}

// StandardRegistry is the standard implementation of a Registry.
type StandardRegistry struct {
	metrics sync.Map
}

func (r *StandardRegistry) Each(f func(string, interface{})) {
	r.metrics.Range(func(k, v any) bool {
		f(k.(string), v)
		return true
	})
}

func (r *StandardRegistry) Get(name string) interface{} {
	item, _ := r.metrics.Load(name)
	return item
}

func (r *StandardRegistry) GetOrRegister(name string, i interface{}) interface{} {
	// fast path
	cached, ok := r.metrics.Load(name)
	if ok {
		return cached
	}
	if v := reflect.ValueOf(i); v.Kind() == reflect.Func {
		i = v.Call(nil)[0].Interface()
	}
	item, _ := r.metrics.LoadOrStore(name, i)
	return item
}

func (r *StandardRegistry) Register(name string, i interface{}) error {
	if v := reflect.ValueOf(i); v.Kind() == reflect.Func {
		i = v.Call(nil)[0].Interface()
	}
	_, loaded := r.metrics.LoadOrStore(name, i)
	if loaded {
		return duplicateMetric(name)
	}
	return nil
}

func (r *StandardRegistry) Unregister(name string) {
	r.metrics.Delete(name)
}

type duplicateMetric string

func (d duplicateMetric) Error() string {
	return "duplicate metric: " + string(d)
}

func getOrRegister[T any](name string, constructor func() T, r Registry) T {
	if r == nil {
		r = DefaultRegistry
	}
	return r.GetOrRegister(name, constructor).(T)
}
