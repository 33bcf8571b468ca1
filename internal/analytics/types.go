// File path: internal/analytics/types.go

// Package analytics compiles structured report definitions into OPQL and
// executes dashboard tiles through the search router, so every report run
// passes the same permission and rate-limit gates as interactive queries.
package analytics

import "time"

// ReportMetric is one aggregation column of a report.
type ReportMetric struct {
	ID          string `json:"id" yaml:"id"`
	Column      string `json:"column,omitempty" yaml:"column,omitempty"`
	Aggregation string `json:"aggregation" yaml:"aggregation"`
}

// ReportFilter is one structured predicate. Operator is one of equals,
// not_equals, gt, gte, lt, lte, contains, in, not_in.
type ReportFilter struct {
	Field    string        `json:"field" yaml:"field"`
	Operator string        `json:"operator" yaml:"operator"`
	Value    interface{}   `json:"value,omitempty" yaml:"value,omitempty"`
	Values   []interface{} `json:"values,omitempty" yaml:"values,omitempty"`
}

// ReportOrder is one ORDER BY term.
type ReportOrder struct {
	Field string `json:"field" yaml:"field"`
	Desc  bool   `json:"desc,omitempty" yaml:"desc,omitempty"`
}

// ReportQuery is a structured report definition compiled to OPQL.
type ReportQuery struct {
	Source     string         `json:"source" yaml:"source"`
	Dimensions []string       `json:"dimensions,omitempty" yaml:"dimensions,omitempty"`
	Metrics    []ReportMetric `json:"metrics" yaml:"metrics"`
	Filters    []ReportFilter `json:"filters,omitempty" yaml:"filters,omitempty"`
	OrderBy    []ReportOrder  `json:"orderBy,omitempty" yaml:"orderBy,omitempty"`
	Limit      int            `json:"limit,omitempty" yaml:"limit,omitempty"`
}

// ReportColumn describes one output column of an executed report.
type ReportColumn struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Type  string `json:"type,omitempty"`
}

// ReportExecutionResult is a compiled and executed report.
type ReportExecutionResult struct {
	Columns []ReportColumn           `json:"columns"`
	Rows    []map[string]interface{} `json:"rows"`
	Meta    ReportMeta               `json:"meta"`
}

// ReportMeta carries execution provenance.
type ReportMeta struct {
	OPQL    string  `json:"opql"`
	TotalMS float64 `json:"totalMs"`
	Rows    int     `json:"rows"`
}

// ReportDefinition is a stored, named report.
type ReportDefinition struct {
	ID          string      `json:"id" yaml:"id"`
	WorkspaceID string      `json:"workspaceId" yaml:"workspaceId"`
	Name        string      `json:"name" yaml:"name"`
	Query       ReportQuery `json:"query" yaml:"query"`
	CreatedAt   time.Time   `json:"createdAt" yaml:"createdAt,omitempty"`
	UpdatedAt   time.Time   `json:"updatedAt" yaml:"updatedAt,omitempty"`
}

// ScheduledReport binds a report to a delivery cadence. Delivery itself is
// an external collaborator; this layer only persists the schedule.
type ScheduledReport struct {
	ID          string      `json:"id" yaml:"id"`
	WorkspaceID string      `json:"workspaceId" yaml:"workspaceId"`
	Name        string      `json:"name" yaml:"name"`
	Query       ReportQuery `json:"query" yaml:"query"`
	Cron        string      `json:"cron,omitempty" yaml:"cron,omitempty"`
	Recipients  []string    `json:"recipients,omitempty" yaml:"recipients,omitempty"`
	Enabled     bool        `json:"enabled" yaml:"enabled"`
	CreatedAt   time.Time   `json:"createdAt" yaml:"createdAt,omitempty"`
	UpdatedAt   time.Time   `json:"updatedAt" yaml:"updatedAt,omitempty"`
}

// TileQueryRef points a tile at exactly one query source.
type TileQueryRef struct {
	ReportID      string `json:"reportId,omitempty" yaml:"reportId,omitempty"`
	SavedSearchID string `json:"savedSearchId,omitempty" yaml:"savedSearchId,omitempty"`
	OPQL          string `json:"opql,omitempty" yaml:"opql,omitempty"`
}

// Tile is one visual unit of a dashboard.
type Tile struct {
	ID    string       `json:"id" yaml:"id"`
	Title string       `json:"title,omitempty" yaml:"title,omitempty"`
	Kind  string       `json:"kind,omitempty" yaml:"kind,omitempty"`
	Query TileQueryRef `json:"query" yaml:"query"`
}

// DashboardDefinition is a named set of tiles plus the cross-filters active
// across all of them.
type DashboardDefinition struct {
	ID           string    `json:"id" yaml:"id"`
	WorkspaceID  string    `json:"workspaceId" yaml:"workspaceId"`
	Name         string    `json:"name" yaml:"name"`
	Tiles        []Tile    `json:"tiles" yaml:"tiles"`
	CrossFilters []string  `json:"crossFilters,omitempty" yaml:"crossFilters,omitempty"`
	CreatedAt    time.Time `json:"createdAt" yaml:"createdAt,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt" yaml:"updatedAt,omitempty"`
}

// TileResult is one executed tile, or its error.
type TileResult struct {
	TileID string                 `json:"tileId"`
	OPQL   string                 `json:"opql,omitempty"`
	Result *ReportExecutionResult `json:"result,omitempty"`
	Error  string                 `json:"error,omitempty"`
}
