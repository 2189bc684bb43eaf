package log

import (
	"sync/atomic"

	"golang.org/x/exp/slog"
)

// LoggerFilter gates a log call: the message is written only when check
// returns true. Filters keep high-frequency call sites at a useful level
// without flooding batch runs.
type LoggerFilter interface {
	check() bool
}

// EveryN passes one call in every N and drops the rest. The zero value
// passes everything. Safe for concurrent use.
type EveryN struct {
	N       uint32
	counter atomic.Uint32
}

var _ LoggerFilter = &EveryN{}

func (e *EveryN) check() bool {
	if e == nil || e.N == 0 {
		return true
	}
	return e.counter.Add(1)%e.N == 0
}

func TraceBy(filter LoggerFilter, msg string, ctx ...interface{}) {
	if filter == nil || filter.check() {
		Root().Write(LevelTrace, msg, ctx...)
	}
}

func DebugBy(filter LoggerFilter, msg string, ctx ...interface{}) {
	if filter == nil || filter.check() {
		Root().Write(slog.LevelDebug, msg, ctx...)
	}
}

func InfoBy(filter LoggerFilter, msg string, ctx ...interface{}) {
	if filter == nil || filter.check() {
		Root().Write(slog.LevelInfo, msg, ctx...)
	}
}

func WarnBy(filter LoggerFilter, msg string, ctx ...interface{}) {
	if filter == nil || filter.check() {
		Root().Write(slog.LevelWarn, msg, ctx...)
	}
}

func ErrorBy(filter LoggerFilter, msg string, ctx ...interface{}) {
	if filter == nil || filter.check() {
		Root().Write(slog.LevelError, msg, ctx...)
	}
}
