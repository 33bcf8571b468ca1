// File path: internal/common/log.go

// Package common holds the process-wide logger. The handler tees every
// emitted record into a bounded in-memory tail that diagnostics serve.
package common

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// tailCapacity bounds the in-memory record tail.
const tailCapacity = 500

var (
	logger     *slog.Logger
	loggerOnce sync.Once
	tail       = newLogTail(tailCapacity)
)

// LogEntry is one captured log record.
type LogEntry struct {
	Time       time.Time              `json:"time"`
	Level      string                 `json:"level"`
	Message    string                 `json:"message"`
	Component  string                 `json:"component,omitempty"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// Logger returns the singleton slog logger. LOG_LEVEL selects the minimum
// level (debug, info, warn, error); unset or unrecognized means info.
func Logger() *slog.Logger {
	loggerOnce.Do(func() {
		var level slog.Level
		if err := level.UnmarshalText([]byte(os.Getenv("LOG_LEVEL"))); err != nil {
			level = slog.LevelInfo
		}
		text := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
		logger = slog.New(&teeHandler{next: text, tail: tail})
	})
	return logger
}

// LogEntries returns a copy of the captured tail, oldest first.
func LogEntries() []LogEntry {
	return tail.entries()
}

// teeHandler mirrors every record it handles into the tail before
// delegating to the real handler.
type teeHandler struct {
	next slog.Handler
	tail *logTail
}

func (h *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *teeHandler) Handle(ctx context.Context, record slog.Record) error {
	h.tail.add(entryFromRecord(record))
	return h.next.Handle(ctx, record)
}

func (h *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &teeHandler{next: h.next.WithAttrs(attrs), tail: h.tail}
}

func (h *teeHandler) WithGroup(name string) slog.Handler {
	return &teeHandler{next: h.next.WithGroup(name), tail: h.tail}
}

// logTail is a fixed ring of the most recent entries.
type logTail struct {
	mu    sync.Mutex
	buf   []LogEntry
	next  int
	count int
}

func newLogTail(capacity int) *logTail {
	if capacity <= 0 {
		capacity = tailCapacity
	}
	return &logTail{buf: make([]LogEntry, capacity)}
}

func (t *logTail) add(entry LogEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf[t.next] = entry
	t.next = (t.next + 1) % len(t.buf)
	if t.count < len(t.buf) {
		t.count++
	}
}

func (t *logTail) entries() []LogEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.count == 0 {
		return nil
	}
	start := t.next - t.count
	if start < 0 {
		start += len(t.buf)
	}
	out := make([]LogEntry, 0, t.count)
	for i := 0; i < t.count; i++ {
		out = append(out, t.buf[(start+i)%len(t.buf)])
	}
	return out
}

// entryFromRecord flattens a record for JSON delivery. The component comes
// from a "component" attribute when present, otherwise from the message's
// "component: detail" prefix convention.
func entryFromRecord(record slog.Record) LogEntry {
	entry := LogEntry{
		Time:    record.Time.UTC(),
		Level:   strings.ToLower(record.Level.String()),
		Message: record.Message,
	}
	if record.Time.IsZero() {
		entry.Time = time.Now().UTC()
	}
	record.Attrs(func(a slog.Attr) bool {
		value := attrValue(a.Value)
		if a.Key == "component" {
			if value != nil {
				entry.Component = strings.TrimSpace(fmt.Sprint(value))
			}
			return true
		}
		if entry.Attributes == nil {
			entry.Attributes = make(map[string]interface{})
		}
		entry.Attributes[a.Key] = value
		return true
	})
	if entry.Component == "" {
		if idx := strings.Index(entry.Message, ":"); idx > 0 {
			entry.Component = strings.TrimSpace(entry.Message[:idx])
		}
	}
	return entry
}

func attrValue(v slog.Value) interface{} {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindBool:
		return v.Bool()
	case slog.KindInt64:
		return v.Int64()
	case slog.KindUint64:
		return v.Uint64()
	case slog.KindFloat64:
		return v.Float64()
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().In(time.UTC)
	case slog.KindAny:
		return v.Any()
	default:
		return v.String()
	}
}
