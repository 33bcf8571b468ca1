// File path: internal/common/log_test.go
package common

import (
	"log/slog"
	"testing"
	"time"
)

func TestLogTailDropsOldestAtCapacity(t *testing.T) {
	tail := newLogTail(3)
	for i := 0; i < 5; i++ {
		tail.add(LogEntry{Message: string(rune('a' + i))})
	}
	entries := tail.entries()
	if len(entries) != 3 {
		t.Fatalf("tail should cap at capacity, got %d", len(entries))
	}
	if entries[0].Message != "c" || entries[2].Message != "e" {
		t.Fatalf("tail should be oldest first, got %+v", entries)
	}
}

func TestLogTailEmptyIsNil(t *testing.T) {
	if entries := newLogTail(3).entries(); entries != nil {
		t.Fatalf("empty tail: got %+v", entries)
	}
}

func TestEntryFromRecord(t *testing.T) {
	when := time.Date(2024, 6, 1, 12, 0, 0, 0, time.FixedZone("cet", 3600))
	record := slog.NewRecord(when, slog.LevelWarn, "engine: execution failed", 0)
	record.AddAttrs(slog.String("workspace", "ws-1"), slog.Int("rows", 4))

	entry := entryFromRecord(record)
	if entry.Level != "warn" {
		t.Fatalf("level: got %q", entry.Level)
	}
	if entry.Component != "engine" {
		t.Fatalf("component should come from the message prefix, got %q", entry.Component)
	}
	if entry.Time.Location() != time.UTC {
		t.Fatalf("time should be normalized to UTC, got %v", entry.Time)
	}
	if entry.Attributes["workspace"] != "ws-1" || entry.Attributes["rows"] != int64(4) {
		t.Fatalf("attributes: got %+v", entry.Attributes)
	}
}

func TestEntryFromRecordComponentAttribute(t *testing.T) {
	record := slog.NewRecord(time.Now(), slog.LevelInfo, "ready", 0)
	record.AddAttrs(slog.String("component", "api"))

	entry := entryFromRecord(record)
	if entry.Component != "api" {
		t.Fatalf("component attribute should win, got %q", entry.Component)
	}
	if _, leaked := entry.Attributes["component"]; leaked {
		t.Fatalf("component should not double as an attribute: %+v", entry.Attributes)
	}
}
