// File path: internal/engine/eval/row.go

// Package eval implements the expression interpreter: a pure evaluation
// function over the closed OPQL expression variant set, applied to a
// transient per-query row context, plus the total value ordering shared by
// comparisons, BETWEEN, IN and ORDER BY.
package eval

import (
	"strings"

	"github.com/meridianhq/opql/internal/entity"
)

// Row is the transient per-query evaluation context: the primary entity,
// alias-attached related entities, and computed aggregate/window values
// keyed by canonical expression text. Rows are never persisted.
type Row struct {
	Base       *entity.MaterializedRow
	RootAlias  string
	AliasOrder []string
	Aliases    map[string]*entity.MaterializedRow
	Computed   map[string]interface{}

	// MaskedFields is the union of masks contributed by the base row and
	// every attached alias.
	MaskedFields []string
}

// NewRow wraps a materialized base entity.
func NewRow(base *entity.MaterializedRow) *Row {
	row := &Row{Base: base, Computed: make(map[string]interface{})}
	if base != nil {
		row.MaskedFields = append(row.MaskedFields, base.MaskedFields...)
	}
	return row
}

// Attach binds a related entity (possibly nil for an unmatched join) under
// an alias, preserving declaration order for unqualified field resolution.
func (r *Row) Attach(alias string, related *entity.MaterializedRow) {
	if r.Aliases == nil {
		r.Aliases = make(map[string]*entity.MaterializedRow)
	}
	key := strings.ToLower(alias)
	if _, seen := r.Aliases[key]; !seen {
		r.AliasOrder = append(r.AliasOrder, key)
	}
	r.Aliases[key] = related
	if related != nil {
		r.MaskedFields = append(r.MaskedFields, related.MaskedFields...)
	}
}

// SetComputed records a computed value under its canonical key.
func (r *Row) SetComputed(key string, value interface{}) {
	if r.Computed == nil {
		r.Computed = make(map[string]interface{})
	}
	r.Computed[strings.ToLower(key)] = value
}

// computedValue looks a key up in the computed set, case-insensitively.
func (r *Row) computedValue(key string) (interface{}, bool) {
	if r.Computed == nil {
		return nil, false
	}
	if v, ok := r.Computed[key]; ok {
		return v, true
	}
	v, ok := r.Computed[strings.ToLower(key)]
	return v, ok
}

// aliasRow resolves an alias name case-insensitively. The root alias (and
// the empty name) falls back to the base row.
func (r *Row) aliasRow(alias string) (*entity.MaterializedRow, bool) {
	key := strings.ToLower(alias)
	if key == "" || key == strings.ToLower(r.RootAlias) {
		return r.Base, true
	}
	if r.Aliases != nil {
		if related, ok := r.Aliases[key]; ok {
			return related, true
		}
	}
	return nil, false
}
