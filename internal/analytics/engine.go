// File path: internal/analytics/engine.go
package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/meridianhq/opql/internal/common"
	"github.com/meridianhq/opql/internal/entity"
	"github.com/meridianhq/opql/internal/router"
	"github.com/meridianhq/opql/internal/store"
)

// Store collections for analytics configuration.
const (
	collectionReports    = "reports"
	collectionDashboards = "dashboards"
)

const defaultTileWorkers = 4

// Engine executes reports and dashboards. Every query runs through the
// search router so analytics inherits its permission and rate-limit gates.
type Engine struct {
	search    *router.Router
	items     store.Store
	schedules *ScheduleStore
	pool      *ants.Pool
}

// New builds an analytics engine. workers bounds concurrent tile
// execution; zero picks a small default.
func New(search *router.Router, items store.Store, schedules *ScheduleStore, workers int) (*Engine, error) {
	if workers <= 0 {
		workers = defaultTileWorkers
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("analytics: build tile pool: %w", err)
	}
	return &Engine{search: search, items: items, schedules: schedules, pool: pool}, nil
}

// Close releases the tile worker pool.
func (e *Engine) Close() {
	if e.pool != nil {
		e.pool.Release()
	}
}

// RunQuery compiles and executes one structured report query.
func (e *Engine) RunQuery(ctx context.Context, workspaceID string, principal entity.Principal, query ReportQuery) (*ReportExecutionResult, error) {
	compiled, err := BuildAggregateOpql(query)
	if err != nil {
		return nil, err
	}
	return e.runOpql(ctx, workspaceID, principal, compiled, &query)
}

// RunReport loads a stored report and executes it.
func (e *Engine) RunReport(ctx context.Context, workspaceID, reportID string, principal entity.Principal) (*ReportExecutionResult, error) {
	report, err := e.GetReport(ctx, workspaceID, reportID)
	if err != nil {
		return nil, err
	}
	return e.RunQuery(ctx, workspaceID, principal, report.Query)
}

func (e *Engine) runOpql(ctx context.Context, workspaceID string, principal entity.Principal, opqlText string, query *ReportQuery) (*ReportExecutionResult, error) {
	response, err := e.search.Search(ctx, router.SearchRequest{
		WorkspaceID: workspaceID,
		Principal:   principal,
		OPQL:        opqlText,
	})
	if err != nil {
		return nil, err
	}

	result := &ReportExecutionResult{
		Rows: make([]map[string]interface{}, 0, len(response.Result.Rows)),
		Meta: ReportMeta{
			OPQL:    opqlText,
			TotalMS: response.Result.Metrics.TotalMS,
			Rows:    len(response.Result.Rows),
		},
	}
	for _, row := range response.Result.Rows {
		result.Rows = append(result.Rows, row.Values)
	}
	result.Columns = reportColumns(query, result.Rows)
	return result, nil
}

// reportColumns derives output columns from the structured query when one
// is available, else from the union of row keys.
func reportColumns(query *ReportQuery, rows []map[string]interface{}) []ReportColumn {
	if query != nil {
		columns := make([]ReportColumn, 0, len(query.Dimensions)+len(query.Metrics))
		for _, dimension := range query.Dimensions {
			columns = append(columns, ReportColumn{Key: dimension, Label: dimension, Type: "dimension"})
		}
		for _, metric := range query.Metrics {
			key := metric.ID
			if key == "" {
				key = strings.ToLower(metric.Aggregation)
			}
			columns = append(columns, ReportColumn{Key: key, Label: key, Type: "metric"})
		}
		return columns
	}
	seen := make(map[string]bool)
	var keys []string
	for _, row := range rows {
		for key := range row {
			if !seen[key] {
				seen[key] = true
				keys = append(keys, key)
			}
		}
	}
	sort.Strings(keys)
	columns := make([]ReportColumn, 0, len(keys))
	for _, key := range keys {
		columns = append(columns, ReportColumn{Key: key, Label: key})
	}
	return columns
}

// GetReport loads one stored report definition.
func (e *Engine) GetReport(ctx context.Context, workspaceID, reportID string) (*ReportDefinition, error) {
	doc, err := e.items.Get(ctx, workspaceID, collectionReports, reportID)
	if err != nil {
		return nil, err
	}
	var report ReportDefinition
	if err := json.Unmarshal(doc, &report); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", reportID, err)
	}
	return &report, nil
}

// PutReport stores or replaces a report definition.
func (e *Engine) PutReport(ctx context.Context, report ReportDefinition) error {
	if strings.TrimSpace(report.ID) == "" {
		return errors.New("analytics: report id required")
	}
	now := time.Now().UTC()
	if report.CreatedAt.IsZero() {
		report.CreatedAt = now
	}
	report.UpdatedAt = now
	encoded, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return e.items.Put(ctx, report.WorkspaceID, collectionReports, report.ID, encoded)
}

// GetDashboard loads one stored dashboard.
func (e *Engine) GetDashboard(ctx context.Context, workspaceID, dashboardID string) (*DashboardDefinition, error) {
	doc, err := e.items.Get(ctx, workspaceID, collectionDashboards, dashboardID)
	if err != nil {
		return nil, err
	}
	var dashboard DashboardDefinition
	if err := json.Unmarshal(doc, &dashboard); err != nil {
		return nil, fmt.Errorf("decode dashboard %s: %w", dashboardID, err)
	}
	return &dashboard, nil
}

// PutDashboard stores or replaces a dashboard.
func (e *Engine) PutDashboard(ctx context.Context, dashboard DashboardDefinition) error {
	if strings.TrimSpace(dashboard.ID) == "" {
		return errors.New("analytics: dashboard id required")
	}
	now := time.Now().UTC()
	if dashboard.CreatedAt.IsZero() {
		dashboard.CreatedAt = now
	}
	dashboard.UpdatedAt = now
	encoded, err := json.Marshal(dashboard)
	if err != nil {
		return fmt.Errorf("encode dashboard: %w", err)
	}
	return e.items.Put(ctx, dashboard.WorkspaceID, collectionDashboards, dashboard.ID, encoded)
}

// RunDashboard executes every tile of a dashboard on the bounded worker
// pool. Tile failures land in their TileResult instead of aborting the
// dashboard.
func (e *Engine) RunDashboard(ctx context.Context, workspaceID, dashboardID string, principal entity.Principal) ([]TileResult, error) {
	dashboard, err := e.GetDashboard(ctx, workspaceID, dashboardID)
	if err != nil {
		return nil, err
	}

	results := make([]TileResult, len(dashboard.Tiles))
	var wg sync.WaitGroup
	for i := range dashboard.Tiles {
		i := i
		tile := dashboard.Tiles[i]
		wg.Add(1)
		submit := e.pool.Submit(func() {
			defer wg.Done()
			results[i] = e.runTile(ctx, workspaceID, principal, tile, dashboard.CrossFilters)
		})
		if submit != nil {
			results[i] = TileResult{TileID: tile.ID, Error: submit.Error()}
			wg.Done()
		}
	}
	wg.Wait()
	return results, nil
}

// RunTile executes one tile with the dashboard's active cross-filters.
func (e *Engine) RunTile(ctx context.Context, workspaceID, dashboardID, tileID string, principal entity.Principal) (*TileResult, error) {
	dashboard, err := e.GetDashboard(ctx, workspaceID, dashboardID)
	if err != nil {
		return nil, err
	}
	for _, tile := range dashboard.Tiles {
		if tile.ID == tileID {
			result := e.runTile(ctx, workspaceID, principal, tile, dashboard.CrossFilters)
			return &result, nil
		}
	}
	return nil, fmt.Errorf("analytics: dashboard %s has no tile %s", dashboardID, tileID)
}

func (e *Engine) runTile(ctx context.Context, workspaceID string, principal entity.Principal, tile Tile, crossFilters []string) TileResult {
	logger := common.Logger()
	opqlText, query, err := e.resolveTileQuery(ctx, workspaceID, principal, tile)
	if err != nil {
		logger.Warn("analytics: tile query resolution failed", "tile", tile.ID, "error", err)
		return TileResult{TileID: tile.ID, Error: err.Error()}
	}
	opqlText = SpliceCrossFilters(opqlText, crossFilters)

	result, err := e.runOpql(ctx, workspaceID, principal, opqlText, query)
	if err != nil {
		logger.Warn("analytics: tile execution failed", "tile", tile.ID, "error", err)
		return TileResult{TileID: tile.ID, OPQL: opqlText, Error: err.Error()}
	}
	return TileResult{TileID: tile.ID, OPQL: opqlText, Result: result}
}

// resolveTileQuery turns a tile reference into OPQL text: stored report
// first, then saved search, then inline OPQL.
func (e *Engine) resolveTileQuery(ctx context.Context, workspaceID string, principal entity.Principal, tile Tile) (string, *ReportQuery, error) {
	switch {
	case tile.Query.ReportID != "":
		report, err := e.GetReport(ctx, workspaceID, tile.Query.ReportID)
		if err != nil {
			return "", nil, err
		}
		compiled, err := BuildAggregateOpql(report.Query)
		if err != nil {
			return "", nil, err
		}
		return compiled, &report.Query, nil
	case tile.Query.SavedSearchID != "":
		saved, err := e.search.GetSavedSearch(ctx, workspaceID, tile.Query.SavedSearchID, principal)
		if err != nil {
			return "", nil, err
		}
		return saved.Query, nil, nil
	case strings.TrimSpace(tile.Query.OPQL) != "":
		return strings.TrimSpace(tile.Query.OPQL), nil, nil
	default:
		return "", nil, fmt.Errorf("analytics: tile %s references no query", tile.ID)
	}
}

// SpliceCrossFilters appends active filter fragments to OPQL text. An
// existing WHERE gains an AND-joined clause; otherwise a new WHERE is
// inserted before ORDER BY or LIMIT; a statement with neither is simply
// extended.
func SpliceCrossFilters(opqlText string, fragments []string) string {
	clauses := make([]string, 0, len(fragments))
	for _, fragment := range fragments {
		if trimmed := strings.TrimSpace(fragment); trimmed != "" {
			clauses = append(clauses, "("+trimmed+")")
		}
	}
	if len(clauses) == 0 {
		return opqlText
	}
	addition := strings.Join(clauses, " AND ")
	upper := strings.ToUpper(opqlText)

	if whereIdx := strings.Index(upper, " WHERE "); whereIdx >= 0 {
		insertAt := len(opqlText)
		for _, marker := range []string{" GROUP BY ", " ORDER BY ", " LIMIT "} {
			if idx := strings.Index(upper[whereIdx:], marker); idx >= 0 && whereIdx+idx < insertAt {
				insertAt = whereIdx + idx
			}
		}
		return opqlText[:insertAt] + " AND " + addition + opqlText[insertAt:]
	}

	insertAt := len(opqlText)
	for _, marker := range []string{" GROUP BY ", " ORDER BY ", " LIMIT "} {
		if idx := strings.Index(upper, marker); idx >= 0 && idx < insertAt {
			insertAt = idx
		}
	}
	return opqlText[:insertAt] + " WHERE " + addition + opqlText[insertAt:]
}
