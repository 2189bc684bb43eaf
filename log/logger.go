package log

import (
	"context"
	"math"
	"os"
	"runtime"
	"time"

	"golang.org/x/exp/slog"
)

const errorKey = "LOG_ERROR"

// Verbosity values accepted by the --verbosity flag, most severe first.
const (
	legacyLevelCrit = iota
	legacyLevelError
	legacyLevelWarn
	legacyLevelInfo
	legacyLevelDebug
	legacyLevelTrace
)

const (
	levelMaxVerbosity slog.Level = math.MinInt

	LevelTrace slog.Level = -8
	LevelDebug            = slog.LevelDebug
	LevelInfo             = slog.LevelInfo
	LevelWarn             = slog.LevelWarn
	LevelError            = slog.LevelError
	LevelCrit  slog.Level = 12

	// Aliases kept for source compatibility with older call sites.
	LvlTrace = LevelTrace
	LvlDebug = LevelDebug
	LvlInfo  = LevelInfo
)

// FromLegacyLevel converts a 0..5 verbosity value to a slog level.
func FromLegacyLevel(lvl int) slog.Level {
	switch {
	case lvl <= legacyLevelCrit:
		return LevelCrit
	case lvl == legacyLevelError:
		return LevelError
	case lvl == legacyLevelWarn:
		return LevelWarn
	case lvl == legacyLevelInfo:
		return LevelInfo
	case lvl == legacyLevelDebug:
		return LevelDebug
	case lvl == legacyLevelTrace:
		return LevelTrace
	default:
		return levelMaxVerbosity
	}
}

// LevelAlignedString returns a 5-character string containing the name of lvl.
func LevelAlignedString(l slog.Level) string {
	switch l {
	case LevelTrace:
		return "TRACE"
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO "
	case LevelWarn:
		return "WARN "
	case LevelError:
		return "ERROR"
	case LevelCrit:
		return "CRIT "
	default:
		return "unknown level"
	}
}

// LevelString returns the lower-case name of lvl.
func LevelString(l slog.Level) string {
	switch l {
	case LevelTrace:
		return "trace"
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	case LevelCrit:
		return "crit"
	default:
		return "unknown"
	}
}

// A Logger writes key/value pairs to a Handler.
type Logger interface {
	// With returns a new Logger that has this logger's attributes plus ctx.
	With(ctx ...interface{}) Logger

	// New is identical to With.
	New(ctx ...interface{}) Logger

	// Log logs a message at the specified level with context key/value pairs.
	Log(level slog.Level, msg string, ctx ...interface{})

	Trace(msg string, ctx ...interface{})
	Debug(msg string, ctx ...interface{})
	Info(msg string, ctx ...interface{})
	Warn(msg string, ctx ...interface{})
	Error(msg string, ctx ...interface{})

	// Crit logs a message at the crit level and exits the process.
	Crit(msg string, ctx ...interface{})

	// Write logs a message at the specified level.
	Write(level slog.Level, msg string, attrs ...interface{})

	// Enabled reports whether the logger emits records at the given level.
	Enabled(ctx context.Context, level slog.Level) bool

	// Handler returns the handler records are written to.
	Handler() slog.Handler
}

type logger struct {
	inner *slog.Logger
}

// NewLogger returns a logger with the specified handler set.
func NewLogger(h slog.Handler) Logger {
	return &logger{slog.New(h)}
}

func (l *logger) Handler() slog.Handler {
	return l.inner.Handler()
}

func (l *logger) Write(level slog.Level, msg string, attrs ...interface{}) {
	if !l.inner.Enabled(context.Background(), level) {
		return
	}
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:])

	if len(attrs)%2 != 0 {
		attrs = append(attrs, nil, errorKey, "Normalized odd number of arguments by adding nil")
	}
	r := slog.NewRecord(time.Now(), level, msg, pcs[0])
	r.Add(attrs...)
	l.inner.Handler().Handle(context.Background(), r)
}

func (l *logger) Log(level slog.Level, msg string, attrs ...interface{}) {
	l.Write(level, msg, attrs...)
}

func (l *logger) With(ctx ...interface{}) Logger {
	return &logger{l.inner.With(ctx...)}
}

func (l *logger) New(ctx ...interface{}) Logger {
	return l.With(ctx...)
}

func (l *logger) Enabled(ctx context.Context, level slog.Level) bool {
	return l.inner.Enabled(ctx, level)
}

func (l *logger) Trace(msg string, ctx ...interface{}) {
	l.Write(LevelTrace, msg, ctx...)
}

func (l *logger) Debug(msg string, ctx ...interface{}) {
	l.Write(LevelDebug, msg, ctx...)
}

func (l *logger) Info(msg string, ctx ...interface{}) {
	l.Write(LevelInfo, msg, ctx...)
}

func (l *logger) Warn(msg string, ctx ...interface{}) {
	l.Write(LevelWarn, msg, ctx...)
}

func (l *logger) Error(msg string, ctx ...interface{}) {
	l.Write(LevelError, msg, ctx...)
}

func (l *logger) Crit(msg string, ctx ...interface{}) {
	l.Write(LevelCrit, msg, ctx...)
	os.Exit(1)
}
