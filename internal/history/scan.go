// File path: internal/history/scan.go
package history

import (
	"strings"
	"time"

	"github.com/meridianhq/opql/internal/engine/eval"
	"github.com/meridianhq/opql/internal/entity"
	"github.com/meridianhq/opql/internal/opql"
)

// Trace records one history scan for explain output.
type Trace struct {
	EntityID   string                 `json:"entityId"`
	Field      string                 `json:"field"`
	Verb       string                 `json:"verb"`
	Qualifiers map[string]interface{} `json:"qualifiers,omitempty"`
	Matched    bool                   `json:"matched"`
	Segments   int                    `json:"segments"`
}

// Scan answers a history-qualified predicate against one row by walking its
// materialized segments. A row without history never matches. The returned
// trace is recorded only when explain mode is on.
func Scan(row entity.RepositoryRow, pred *opql.HistoryPredicate) (bool, Trace) {
	trace := Trace{
		EntityID: row.EntityID,
		Field:    pred.Field,
		Verb:     string(pred.Verb),
	}
	if pred.Actor != "" || pred.Since != nil || pred.Until != nil {
		trace.Qualifiers = make(map[string]interface{})
		if pred.Actor != "" {
			trace.Qualifiers["actor"] = pred.Actor
		}
		if pred.Since != nil {
			trace.Qualifiers["since"] = pred.Since.UTC()
		}
		if pred.Until != nil {
			trace.Qualifiers["until"] = pred.Until.UTC()
		}
	}

	segments := Materialize(row.History)[pred.Field]
	trace.Segments = len(segments)
	if len(segments) == 0 {
		return false, trace
	}

	var want interface{}
	if lit, ok := pred.Value.(*opql.Literal); ok {
		want = lit.Value
	}

	for _, segment := range segments {
		if !overlaps(segment, pred.Since, pred.Until) {
			continue
		}
		switch pred.Verb {
		case opql.VerbWas:
			if eval.CompareValues(segment.Value, want) == 0 {
				trace.Matched = true
			}
		case opql.VerbChanged:
			if changedWithin(segment, pred.Since, pred.Until) {
				trace.Matched = true
			}
		case opql.VerbChangedBy:
			if changedWithin(segment, pred.Since, pred.Until) && strings.EqualFold(segment.Actor, pred.Actor) {
				trace.Matched = true
			}
		}
		if trace.Matched {
			break
		}
	}
	return trace.Matched, trace
}

// overlaps reports whether the segment's validity interval intersects the
// [since, until] window. Nil bounds are unbounded.
func overlaps(segment Segment, since, until *time.Time) bool {
	if since != nil && segment.End != nil && !segment.End.After(*since) {
		return false
	}
	if until != nil && segment.Start != nil && segment.Start.After(*until) {
		return false
	}
	return true
}

// changedWithin reports whether the segment was opened by an event inside
// the window. Segments seeded from the initial snapshot have no ChangedAt
// and never count as changes.
func changedWithin(segment Segment, since, until *time.Time) bool {
	if segment.ChangedAt == nil {
		return false
	}
	if since != nil && segment.ChangedAt.Before(*since) {
		return false
	}
	if until != nil && segment.ChangedAt.After(*until) {
		return false
	}
	return true
}
