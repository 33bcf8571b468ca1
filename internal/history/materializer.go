// File path: internal/history/materializer.go

// Package history replays an entity's ordered change events into per-field,
// non-overlapping validity segments and answers history-qualified
// predicates (WAS, CHANGED, CHANGED BY) by scanning those segments
// directly.
package history

import (
	"sort"
	"time"

	"github.com/meridianhq/opql/internal/entity"
)

// Segment is one contiguous interval during which a field held one value.
// Segments for a field are gapless: each End equals the next Start, and the
// final segment is open (End nil). A nil Start marks the value held since
// creation.
type Segment struct {
	Field     string      `json:"field"`
	Value     interface{} `json:"value"`
	Start     *time.Time  `json:"start,omitempty"`
	End       *time.Time  `json:"end,omitempty"`
	Actor     string      `json:"actor,omitempty"`
	ChangedAt *time.Time  `json:"changedAt,omitempty"`
}

// Materialize converts a history log into per-field segment lists. Events
// are replayed in ascending At order (stable for equal timestamps). A field
// present in the initial snapshot seeds an open segment with a nil Start; a
// field first seen in an event starts at that event instead.
func Materialize(log *entity.HistoryLog) map[string][]Segment {
	if log == nil {
		return nil
	}
	events := make([]entity.HistoryEvent, len(log.Events))
	copy(events, log.Events)
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].At.Before(events[j].At)
	})

	segments := make(map[string][]Segment)
	for field, value := range log.Initial {
		segments[field] = []Segment{{Field: field, Value: value}}
	}
	for _, event := range events {
		at := event.At
		for _, change := range event.Changes {
			field := change.Field
			open := segments[field]
			if len(open) > 0 {
				end := at
				open[len(open)-1].End = &end
			}
			start := at
			changed := at
			segments[field] = append(open, Segment{
				Field:     field,
				Value:     change.Value,
				Start:     &start,
				Actor:     event.Actor,
				ChangedAt: &changed,
			})
		}
	}
	return segments
}
