// File path: internal/entity/types.go

// Package entity defines the repository adapter contract and the row model
// the engine executes against: raw repository rows with per-row and
// per-field permissions plus a change history, and materialized rows whose
// masked values have been replaced for the requesting principal.
package entity

import (
	"strings"
	"time"
)

// Principal is the caller identity plus granted capabilities.
type Principal struct {
	PrincipalID string   `json:"principalId"`
	WorkspaceID string   `json:"workspaceId"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	AllowAll    bool     `json:"allowAll,omitempty"`
}

// Can reports whether the principal holds the named capability.
func (p Principal) Can(capability string) bool {
	if p.AllowAll {
		return true
	}
	for _, granted := range p.Permissions {
		if strings.EqualFold(granted, capability) {
			return true
		}
	}
	return false
}

// FieldMask gates one field behind a capability and supplies the literal
// that replaces the value for callers lacking it.
type FieldMask struct {
	Required string      `json:"required"`
	Mask     interface{} `json:"mask"`
}

// RowPermissions gates row visibility and individual fields.
type RowPermissions struct {
	Required   []string             `json:"required,omitempty"`
	FieldMasks map[string]FieldMask `json:"fieldMasks,omitempty"`
}

// HistoryChange is one field mutation inside an event.
type HistoryChange struct {
	Field string      `json:"field"`
	Value interface{} `json:"value"`
}

// HistoryEvent is one ordered change applied to an entity.
type HistoryEvent struct {
	At      time.Time       `json:"at"`
	Actor   string          `json:"actor,omitempty"`
	Changes []HistoryChange `json:"changes"`
}

// HistoryLog is an entity's initial snapshot plus its ordered change events.
type HistoryLog struct {
	Initial map[string]interface{} `json:"initial,omitempty"`
	Events  []HistoryEvent         `json:"events,omitempty"`
}

// RepositoryRow is an entity row as supplied by the repository adapter.
type RepositoryRow struct {
	EntityID    string                 `json:"entityId"`
	EntityType  string                 `json:"entityType"`
	WorkspaceID string                 `json:"workspaceId"`
	Score       float64                `json:"score"`
	Values      map[string]interface{} `json:"values"`
	Permissions *RowPermissions        `json:"permissions,omitempty"`
	History     *HistoryLog            `json:"history,omitempty"`
}

// MaterializedRow is a repository row after permission masking. Masking only
// obscures values; a masked row keeps its identity and every field key.
type MaterializedRow struct {
	EntityID     string                 `json:"entityId"`
	EntityType   string                 `json:"entityType"`
	Score        float64                `json:"score"`
	Values       map[string]interface{} `json:"values"`
	MaskedFields []string               `json:"maskedFields,omitempty"`
}

// Materialize applies the row's permissions for the principal. The second
// return is false when the principal lacks a row-level capability and the
// row must be dropped entirely.
func Materialize(row RepositoryRow, principal Principal) (*MaterializedRow, bool) {
	if row.Permissions != nil {
		for _, required := range row.Permissions.Required {
			if !principal.Can(required) {
				return nil, false
			}
		}
	}
	out := &MaterializedRow{
		EntityID:   row.EntityID,
		EntityType: row.EntityType,
		Score:      row.Score,
		Values:     make(map[string]interface{}, len(row.Values)),
	}
	for key, value := range row.Values {
		out.Values[key] = value
	}
	if row.Permissions != nil {
		for field, mask := range row.Permissions.FieldMasks {
			if principal.Can(mask.Required) {
				continue
			}
			if _, present := out.Values[field]; present {
				out.Values[field] = mask.Mask
				out.MaskedFields = append(out.MaskedFields, field)
			}
		}
	}
	return out, true
}

// OrderField is one component of an entity's default ordering.
type OrderField struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc,omitempty"`
}

// FieldDefinition describes one schema field.
type FieldDefinition struct {
	Key   string `json:"key"`
	Type  string `json:"type,omitempty"`
	Label string `json:"label,omitempty"`
}

// EntityDefinition is the schema and default ordering for one entity type.
type EntityDefinition struct {
	Type         string            `json:"type"`
	Fields       []FieldDefinition `json:"fields,omitempty"`
	DefaultOrder []OrderField      `json:"defaultOrder,omitempty"`
}
