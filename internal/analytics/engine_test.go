// File path: internal/analytics/engine_test.go
package analytics

import (
	"context"
	"strings"
	"testing"

	"github.com/meridianhq/opql/internal/engine"
	"github.com/meridianhq/opql/internal/entity"
	"github.com/meridianhq/opql/internal/router"
	"github.com/meridianhq/opql/internal/store"
)

const testWorkspace = "ws-1"

func analyst() entity.Principal {
	return entity.Principal{PrincipalID: "analyst", WorkspaceID: testWorkspace, AllowAll: true}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	repo := entity.NewMemoryRepository()
	repo.Seed(
		entity.RepositoryRow{
			EntityID: "task-a", EntityType: "task", WorkspaceID: testWorkspace,
			Values: map[string]interface{}{"status": "open", "priority": 3.0},
		},
		entity.RepositoryRow{
			EntityID: "task-b", EntityType: "task", WorkspaceID: testWorkspace,
			Values: map[string]interface{}{"status": "open", "priority": 1.0},
		},
		entity.RepositoryRow{
			EntityID: "task-c", EntityType: "task", WorkspaceID: testWorkspace,
			Values: map[string]interface{}{"status": "done", "priority": 2.0},
		},
	)
	items := store.NewMemory()
	search := router.New(engine.New(repo, nil), repo, items, router.Config{})
	analytics, err := New(search, items, NewScheduleStore(), 2)
	if err != nil {
		t.Fatalf("build analytics engine: %v", err)
	}
	t.Cleanup(analytics.Close)
	return analytics
}

func TestRunQueryCountsByStatus(t *testing.T) {
	e := newTestEngine(t)
	result, err := e.RunQuery(context.Background(), testWorkspace, analyst(), ReportQuery{
		Source:     "tasks",
		Dimensions: []string{"status"},
		Metrics:    []ReportMetric{{ID: "total", Column: "*", Aggregation: "count"}},
		OrderBy:    []ReportOrder{{Field: "total", Desc: true}},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(result.Meta.OPQL, "AGGREGATE COUNT(*) AS total FROM ITEMS") {
		t.Fatalf("meta opql: got %q", result.Meta.OPQL)
	}
	if len(result.Rows) != 2 {
		t.Fatalf("expected one row per status, got %d", len(result.Rows))
	}
	if result.Rows[0]["status"] != "open" || result.Rows[0]["total"] != float64(2) {
		t.Fatalf("first row: got %v", result.Rows[0])
	}
	if result.Rows[1]["status"] != "done" || result.Rows[1]["total"] != float64(1) {
		t.Fatalf("second row: got %v", result.Rows[1])
	}
	if len(result.Columns) != 2 {
		t.Fatalf("columns: got %+v", result.Columns)
	}
	if result.Columns[0].Key != "status" || result.Columns[0].Type != "dimension" {
		t.Fatalf("dimension column: got %+v", result.Columns[0])
	}
	if result.Columns[1].Key != "total" || result.Columns[1].Type != "metric" {
		t.Fatalf("metric column: got %+v", result.Columns[1])
	}
}

func TestRunQueryInheritsRouterGates(t *testing.T) {
	e := newTestEngine(t)
	restricted := entity.Principal{PrincipalID: "viewer", WorkspaceID: testWorkspace}
	_, err := e.RunQuery(context.Background(), testWorkspace, restricted, ReportQuery{
		Source:  "tasks",
		Metrics: []ReportMetric{{ID: "n", Aggregation: "count"}},
	})
	if !router.IsPermissionError(err) {
		t.Fatalf("report execution should pass the search gate, got %v", err)
	}
}

func TestRunStoredReport(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	if err := e.PutReport(ctx, ReportDefinition{
		ID:          "rep-1",
		WorkspaceID: testWorkspace,
		Name:        "tasks by status",
		Query: ReportQuery{
			Source:     "tasks",
			Dimensions: []string{"status"},
			Metrics:    []ReportMetric{{ID: "total", Aggregation: "count"}},
		},
	}); err != nil {
		t.Fatalf("put report: %v", err)
	}
	result, err := e.RunReport(ctx, testWorkspace, "rep-1", analyst())
	if err != nil {
		t.Fatalf("run report: %v", err)
	}
	if result.Meta.Rows != 2 {
		t.Fatalf("meta rows: got %d", result.Meta.Rows)
	}
}

func TestRunDashboardExecutesEveryTile(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	if err := e.PutReport(ctx, ReportDefinition{
		ID: "rep-1", WorkspaceID: testWorkspace,
		Query: ReportQuery{
			Source:     "tasks",
			Dimensions: []string{"status"},
			Metrics:    []ReportMetric{{ID: "total", Aggregation: "count"}},
		},
	}); err != nil {
		t.Fatalf("put report: %v", err)
	}
	if err := e.PutDashboard(ctx, DashboardDefinition{
		ID: "dash-1", WorkspaceID: testWorkspace, Name: "ops",
		Tiles: []Tile{
			{ID: "tile-report", Query: TileQueryRef{ReportID: "rep-1"}},
			{ID: "tile-inline", Query: TileQueryRef{OPQL: "COUNT tasks"}},
			{ID: "tile-empty"},
		},
	}); err != nil {
		t.Fatalf("put dashboard: %v", err)
	}

	results, err := e.RunDashboard(ctx, testWorkspace, "dash-1", analyst())
	if err != nil {
		t.Fatalf("run dashboard: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("results: got %d", len(results))
	}
	if results[0].TileID != "tile-report" || results[0].Error != "" || results[0].Result == nil {
		t.Fatalf("report tile: %+v", results[0])
	}
	if results[1].Error != "" || len(results[1].Result.Rows) != 1 {
		t.Fatalf("inline tile: %+v", results[1])
	}
	if results[1].Result.Rows[0]["count"] != float64(3) {
		t.Fatalf("inline count: got %v", results[1].Result.Rows[0])
	}
	if results[2].TileID != "tile-empty" || results[2].Error == "" {
		t.Fatalf("query-less tile should fail in place: %+v", results[2])
	}
}

func TestRunTileAppliesCrossFilters(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	if err := e.PutDashboard(ctx, DashboardDefinition{
		ID: "dash-1", WorkspaceID: testWorkspace,
		Tiles:        []Tile{{ID: "tile-1", Query: TileQueryRef{OPQL: "COUNT tasks"}}},
		CrossFilters: []string{`status = "open"`},
	}); err != nil {
		t.Fatalf("put dashboard: %v", err)
	}

	result, err := e.RunTile(ctx, testWorkspace, "dash-1", "tile-1", analyst())
	if err != nil {
		t.Fatalf("run tile: %v", err)
	}
	if result.Error != "" {
		t.Fatalf("tile error: %s", result.Error)
	}
	if !strings.Contains(result.OPQL, `WHERE (status = "open")`) {
		t.Fatalf("cross-filter missing from %q", result.OPQL)
	}
	if result.Result.Rows[0]["count"] != float64(2) {
		t.Fatalf("filtered count: got %v", result.Result.Rows[0])
	}

	if _, err := e.RunTile(ctx, testWorkspace, "dash-1", "tile-missing", analyst()); err == nil {
		t.Fatalf("unknown tile id should error")
	}
}

func TestRunTileFromSavedSearch(t *testing.T) {
	repo := entity.NewMemoryRepository()
	repo.Seed(entity.RepositoryRow{
		EntityID: "task-a", EntityType: "task", WorkspaceID: testWorkspace,
		Values: map[string]interface{}{"status": "open"},
	})
	items := store.NewMemory()
	search := router.New(engine.New(repo, nil), repo, items, router.Config{})
	e, err := New(search, items, NewScheduleStore(), 2)
	if err != nil {
		t.Fatalf("build analytics engine: %v", err)
	}
	defer e.Close()
	ctx := context.Background()

	saved, err := search.UpsertSavedSearch(ctx, testWorkspace, analyst(), router.SavedSearchRecord{
		Name: "open tasks", Query: `FIND tasks WHERE status = "open"`,
	})
	if err != nil {
		t.Fatalf("save search: %v", err)
	}
	if err := e.PutDashboard(ctx, DashboardDefinition{
		ID: "dash-1", WorkspaceID: testWorkspace,
		Tiles: []Tile{{ID: "tile-1", Query: TileQueryRef{SavedSearchID: saved.ID}}},
	}); err != nil {
		t.Fatalf("put dashboard: %v", err)
	}

	result, err := e.RunTile(ctx, testWorkspace, "dash-1", "tile-1", analyst())
	if err != nil {
		t.Fatalf("run tile: %v", err)
	}
	if result.Error != "" || len(result.Result.Rows) != 1 {
		t.Fatalf("saved-search tile: %+v", result)
	}
}

func TestScheduleStoreRoundTrip(t *testing.T) {
	schedules := NewScheduleStore()
	ctx := context.Background()

	created, err := schedules.Put(ctx, ScheduledReport{
		WorkspaceID: testWorkspace,
		Name:        "weekly status",
		Query: ReportQuery{
			Source:  "tasks",
			Metrics: []ReportMetric{{ID: "n", Aggregation: "count"}},
		},
		Cron:       "0 9 * * MON",
		Recipients: []string{"ops@example.com"},
		Enabled:    true,
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if created.ID == "" || created.CreatedAt.IsZero() {
		t.Fatalf("schedule should be stamped: %+v", created)
	}

	loaded, err := schedules.Get(ctx, testWorkspace, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.Name != "weekly status" || loaded.Cron != "0 9 * * MON" {
		t.Fatalf("round trip: %+v", loaded)
	}

	listed, err := schedules.List(ctx, testWorkspace)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("list: got %d", len(listed))
	}

	if err := schedules.Delete(ctx, testWorkspace, created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := schedules.Delete(ctx, testWorkspace, created.ID); err != nil {
		t.Fatalf("idempotent delete: %v", err)
	}
	if _, err := schedules.Get(ctx, testWorkspace, created.ID); err == nil {
		t.Fatalf("deleted schedule should be gone")
	}
}

func TestSchedulePutRequiresWorkspace(t *testing.T) {
	schedules := NewScheduleStore()
	if _, err := schedules.Put(context.Background(), ScheduledReport{Name: "x"}); err == nil {
		t.Fatalf("missing workspace should be rejected")
	}
}
