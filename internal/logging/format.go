package logging

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

const (
	consoleTimestampLayout = "2006-01-02 15:04:05"
	jsonTimestampLayout    = "2006-01-02T15:04:05.000Z07:00"
	blockIndent            = "    "
)

func formatTimestamp(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.In(time.Local).Format(consoleTimestampLayout)
}

// plainString renders v without quoting; used for the component prefix.
func plainString(v slog.Value) string {
	v = v.Resolve()
	if v.Kind() == slog.KindAny {
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
		return fmt.Sprint(v.Any())
	}
	if v.Kind() == slog.KindTime {
		return formatTimestamp(v.Time())
	}
	return v.String()
}

// multiline reports whether v is text spanning several lines. Worker output
// tails are rendered as an indented block under the record instead of being
// escaped onto one line.
func multiline(v slog.Value) (string, bool) {
	v = v.Resolve()
	if v.Kind() != slog.KindString {
		return "", false
	}
	s := strings.TrimRight(v.String(), "\n")
	return s, strings.Contains(s, "\n")
}

func formatValue(v slog.Value) string {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindBool:
		return strconv.FormatBool(v.Bool())
	case slog.KindInt64:
		return strconv.FormatInt(v.Int64(), 10)
	case slog.KindUint64:
		return strconv.FormatUint(v.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	case slog.KindDuration:
		return v.Duration().String()
	}
	return quoteIfNeeded(plainString(v))
}

func quoteIfNeeded(s string) string {
	if s == "" {
		return `""`
	}
	for _, r := range s {
		if r <= ' ' || r == '=' || r == '"' {
			return strconv.Quote(s)
		}
	}
	return s
}

func writeBlock(b *strings.Builder, key, text string) {
	for _, line := range strings.Split(text, "\n") {
		b.WriteString(blockIndent)
		b.WriteString(key)
		b.WriteString(" | ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
}
