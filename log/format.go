package log

import (
	"bytes"
	"fmt"
	"reflect"
	"strconv"
	"unicode/utf8"

	"golang.org/x/exp/slog"
)

const (
	timeFormat        = "2006-01-02T15:04:05-0700"
	termTimeFormat    = "01-02|15:04:05.000"
	termMsgJust       = 40
	termCtxMaxPadding = 40
)

// TerminalStringer is an analogous interface to the stdlib stringer, allowing
// an alternate terminal-oriented format when printed to a TerminalHandler.
type TerminalStringer interface {
	TerminalString() string
}

var spaces = []byte("                                        ")

func (h *TerminalHandler) format(buf []byte, r slog.Record) []byte {
	b := bytes.NewBuffer(buf)

	color := ""
	if h.useColor {
		switch r.Level {
		case LevelCrit:
			color = "\x1b[35m"
		case LevelError:
			color = "\x1b[31m"
		case LevelWarn:
			color = "\x1b[33m"
		case LevelInfo:
			color = "\x1b[32m"
		case LevelDebug:
			color = "\x1b[36m"
		case LevelTrace:
			color = "\x1b[34m"
		}
	}
	if color != "" {
		b.WriteString(color)
		b.WriteString(LevelAlignedString(r.Level))
		b.WriteString("\x1b[0m")
	} else {
		b.WriteString(LevelAlignedString(r.Level))
	}
	b.WriteByte('[')
	b.WriteString(r.Time.Format(termTimeFormat))
	b.WriteString("] ")

	msg := escapeMessage(r.Message)
	b.WriteString(msg)

	// Justify the attribute column for short messages.
	if length := utf8.RuneCountInString(msg); (r.NumAttrs()+len(h.attrs)) > 0 && length < termMsgJust {
		b.Write(spaces[:termMsgJust-length])
	}
	for _, attr := range h.attrs {
		h.appendAttr(b, attr, color)
	}
	r.Attrs(func(attr slog.Attr) bool {
		h.appendAttr(b, attr, color)
		return true
	})
	b.WriteByte('\n')
	return b.Bytes()
}

func (h *TerminalHandler) appendAttr(b *bytes.Buffer, attr slog.Attr, color string) {
	if attr.Equal(slog.Attr{}) {
		return
	}
	key := escapeString(attr.Key)
	val := escapeString(FormatSlogValue(attr.Value))

	// Remember the widest value per key so columns of consecutive records
	// line up. Oversized values opt out instead of blowing up the padding.
	length := utf8.RuneCountInString(val)
	padding := h.fieldPadding[key]
	if padding < length && length <= termCtxMaxPadding {
		padding = length
		h.fieldPadding[key] = padding
	}

	b.WriteByte(' ')
	if color != "" {
		b.WriteString(color)
		b.WriteString(key)
		b.WriteString("\x1b[0m=")
	} else {
		b.WriteString(key)
		b.WriteByte('=')
	}
	b.WriteString(val)
	if padding > length {
		b.Write(spaces[:padding-length])
	}
}

// FormatSlogValue formats a slog.Value for serialization to the terminal.
func FormatSlogValue(v slog.Value) (result string) {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindInt64:
		return strconv.FormatInt(v.Int64(), 10)
	case slog.KindUint64:
		return strconv.FormatUint(v.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', 3, 64)
	case slog.KindBool:
		return strconv.FormatBool(v.Bool())
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().Format(timeFormat)
	}

	value := v.Any()
	if value == nil {
		return "<nil>"
	}
	defer func() {
		// A nil pointer under a Stringer panics in its String method.
		if err := recover(); err != nil {
			if v := reflect.ValueOf(value); v.Kind() == reflect.Pointer && v.IsNil() {
				result = "<nil>"
			} else {
				panic(err)
			}
		}
	}()
	switch v := value.(type) {
	case error:
		return v.Error()
	case TerminalStringer:
		return v.TerminalString()
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%+v", value)
	}
}

// escapeString quotes s when it carries characters logfmt parsers would trip
// over.
func escapeString(s string) string {
	needsQuoting := false
	for _, r := range s {
		if r <= '"' || r == '=' || r > '~' {
			needsQuoting = true
			break
		}
	}
	if !needsQuoting {
		return s
	}
	return strconv.Quote(s)
}

// escapeMessage is a more lenient escapeString: spaces, tabs and linebreaks
// pass through so multi-line messages stay readable.
func escapeMessage(s string) string {
	needsQuoting := false
	for _, r := range s {
		if r == '\r' || r == '\n' || r == '\t' {
			continue
		}
		if r < ' ' || r > '~' || r == '=' {
			needsQuoting = true
			break
		}
	}
	if !needsQuoting {
		return s
	}
	return strconv.Quote(s)
}
