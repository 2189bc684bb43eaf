package brildb

import "github.com/brilang/go-bril/metrics"

var (
	GetTimer        = metrics.NewRegisteredTimer("brildb/get/time", nil)
	PutTimer        = metrics.NewRegisteredTimer("brildb/put/time", nil)
	DeleteTimer     = metrics.NewRegisteredTimer("brildb/delete/time", nil)
	BatchWriteTimer = metrics.NewRegisteredTimer("brildb/batch/write/time", nil)
)
