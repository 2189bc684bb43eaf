// Package exp serves the contents of a metrics registry over HTTP as a flat
// JSON document, mounted next to the pprof handlers.
package exp

import (
	"encoding/json"
	"net/http"

	"github.com/brilang/go-bril/metrics"
)

// Exp registers an HTTP handler for the registry on the default mux under
// /debug/metrics.
func Exp(r metrics.Registry) {
	http.Handle("/debug/metrics", ExpHandler(r))
}

// ExpHandler returns an HTTP handler serving a snapshot of the registry.
func ExpHandler(r metrics.Registry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		snapshot := make(map[string]any)
		r.Each(func(name string, i any) {
			switch m := i.(type) {
			case *metrics.Counter:
				snapshot[name] = m.Snapshot().Count()
			case *metrics.Gauge:
				snapshot[name] = m.Snapshot().Value()
			case *metrics.Meter:
				s := m.Snapshot()
				snapshot[name] = map[string]any{
					"count": s.Count(),
					"rate":  s.RateMean(),
				}
			case *metrics.Timer:
				s := m.Snapshot()
				snapshot[name] = map[string]any{
					"count": s.Count(),
					"total": s.Total().String(),
					"min":   s.Min().String(),
					"max":   s.Max().String(),
					"mean":  s.Mean().String(),
				}
			case *metrics.Label:
				snapshot[name] = m.Snapshot().Value()
			}
		})
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.Encode(snapshot)
	})
}
