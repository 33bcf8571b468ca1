// File path: internal/router/diagnostics_test.go
package router

import (
	"context"
	"testing"
	"time"

	"github.com/meridianhq/opql/internal/engine"
	"github.com/meridianhq/opql/internal/entity"
	"github.com/meridianhq/opql/internal/store"
)

func TestDiagnoseRequiresCapability(t *testing.T) {
	r := newTestRouter(Config{})
	_, err := r.Diagnose(context.Background(), testWorkspace, searcher(CapSearchExecute))
	if !IsPermissionError(err) {
		t.Fatalf("diagnostics capability required, got %v", err)
	}
}

func TestDiagnoseSnapshot(t *testing.T) {
	repo := entity.NewMemoryRepository()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	repo.Seed(
		entity.RepositoryRow{
			EntityID: "task-a", EntityType: "task", WorkspaceID: testWorkspace,
			Values: map[string]interface{}{"status": "open", "updated_at": now.Add(-10 * time.Minute).Format(time.RFC3339)},
		},
		entity.RepositoryRow{
			EntityID: "task-b", EntityType: "task", WorkspaceID: testWorkspace,
			Values: map[string]interface{}{"status": "done", "updated_at": now.Add(-30 * time.Minute).Format(time.RFC3339)},
		},
		entity.RepositoryRow{
			EntityID: "person-1", EntityType: "person", WorkspaceID: testWorkspace,
			Values: map[string]interface{}{"name": "Riley"},
		},
	)
	r := New(engine.New(repo, nil), repo, store.NewMemory(), Config{})
	r.now = func() time.Time { return now }
	ctx := context.Background()

	// Two searches of the same query and one distinct one feed the
	// hot-query ranking.
	req := SearchRequest{WorkspaceID: testWorkspace, Principal: searcher(CapSearchExecute), OPQL: "FIND tasks"}
	r.Search(ctx, req)
	r.Search(ctx, req)
	other := req
	other.OPQL = "FIND people"
	r.Search(ctx, other)

	diag, err := r.Diagnose(ctx, testWorkspace, searcher(CapSearchDiagnostics))
	if err != nil {
		t.Fatalf("diagnose: %v", err)
	}
	if diag.RowCount != 3 {
		t.Fatalf("row count: got %d", diag.RowCount)
	}
	if diag.IndexFreshnessMinutes < 9.9 || diag.IndexFreshnessMinutes > 10.1 {
		t.Fatalf("freshness should track the newest row, got %v", diag.IndexFreshnessMinutes)
	}
	if diag.IngestionLagMinutes < 19.9 || diag.IngestionLagMinutes > 20.1 {
		t.Fatalf("lag should be the mean row age, got %v", diag.IngestionLagMinutes)
	}
	if len(diag.HottestQueries) != 2 {
		t.Fatalf("hottest queries: got %+v", diag.HottestQueries)
	}
	if diag.HottestQueries[0].Count != 2 {
		t.Fatalf("repeated query should rank first, got %+v", diag.HottestQueries)
	}
	if len(diag.RecentAudit) == 0 {
		t.Fatalf("audit trail should record the searches")
	}
}

func TestDiagnoseNoTimestampsReportsUnknown(t *testing.T) {
	r := newTestRouter(Config{})
	diag, err := r.Diagnose(context.Background(), testWorkspace, searcher(CapSearchDiagnostics))
	if err != nil {
		t.Fatalf("diagnose: %v", err)
	}
	if diag.IndexFreshnessMinutes != -1 || diag.IngestionLagMinutes != -1 {
		t.Fatalf("rows without timestamps should report -1, got %v / %v",
			diag.IndexFreshnessMinutes, diag.IngestionLagMinutes)
	}
	if diag.RowCount != 3 {
		t.Fatalf("row count: got %d", diag.RowCount)
	}
}

func TestDiagnoseBypassesRateLimiter(t *testing.T) {
	r := newTestRouter(Config{Window: time.Minute, MaxRequests: 1})
	ctx := context.Background()
	operator := searcher(CapSearchExecute, CapSearchDiagnostics)

	r.Search(ctx, SearchRequest{WorkspaceID: testWorkspace, Principal: operator, OPQL: "FIND tasks"})
	if _, err := r.Search(ctx, SearchRequest{WorkspaceID: testWorkspace, Principal: operator, OPQL: "FIND tasks"}); !IsRateLimitError(err) {
		t.Fatalf("second search should be throttled, got %v", err)
	}
	if _, err := r.Diagnose(ctx, testWorkspace, operator); err != nil {
		t.Fatalf("diagnostics should bypass the limiter: %v", err)
	}
}

func TestAuditTrailRing(t *testing.T) {
	trail := newAuditTrail(3)
	for i := 0; i < 5; i++ {
		trail.record(auditEntry{Action: "search", Detail: string(rune('a' + i))})
	}
	entries := trail.tail(10)
	if len(entries) != 3 {
		t.Fatalf("ring should cap at capacity, got %d", len(entries))
	}
	if entries[0].Detail != "e" || entries[2].Detail != "c" {
		t.Fatalf("tail should be newest first, got %+v", entries)
	}
}
