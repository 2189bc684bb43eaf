// Package metrics holds the process-wide measurement registry: counters,
// gauges, meters and timers registered by name and reported through the
// stats surfaces.
package metrics

import (
	"os"
	"strconv"
	"strings"

	"github.com/brilang/go-bril/log"
)

// Enabled is checked by call sites that consider their measurement too
// expensive for the hot path when nobody is collecting. Registering and
// holding a metric is always cheap.
var Enabled = false

// enablerFlags is the CLI flag names to use to enable metrics collection.
var enablerFlags = []string{"metrics"}

// enablerEnvVars is the env var names to use to enable metrics collection.
var enablerEnvVars = []string{"BRIL_METRICS"}

// init enables or disables the metrics system. Because we need this to run
// before any other code gets a chance to measure anything, we'll actually do
// an ugly hack and peek into the command line args for the metrics flag.
func init() {
	for _, arg := range os.Args {
		flag := strings.TrimLeft(arg, "-")
		for _, enabler := range enablerFlags {
			if !Enabled && flag == enabler {
				log.Info("Enabling metrics collection")
				Enabled = true
			}
		}
	}
	for _, enabler := range enablerEnvVars {
		if v, _ := strconv.ParseBool(os.Getenv(enabler)); v && !Enabled {
			log.Info("Enabling metrics collection")
			Enabled = true
		}
	}
}
