// File path: internal/router/router_test.go
package router

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/meridianhq/opql/internal/engine"
	"github.com/meridianhq/opql/internal/entity"
	"github.com/meridianhq/opql/internal/store"
)

const testWorkspace = "ws-1"

func testRepo() *entity.MemoryRepository {
	repo := entity.NewMemoryRepository()
	repo.Seed(
		entity.RepositoryRow{
			EntityID: "task-a", EntityType: "task", WorkspaceID: testWorkspace, Score: 0.86,
			Values: map[string]interface{}{"status": "open", "title": "Fix login flow"},
		},
		entity.RepositoryRow{
			EntityID: "task-b", EntityType: "task", WorkspaceID: testWorkspace, Score: 0.80,
			Values: map[string]interface{}{"status": "done", "title": "Update login docs"},
		},
		entity.RepositoryRow{
			EntityID: "doc-1", EntityType: "doc", WorkspaceID: testWorkspace, Score: 0.75,
			Values:      map[string]interface{}{"title": "Login runbook"},
			Permissions: &entity.RowPermissions{Required: []string{"docs.view"}},
		},
	)
	return repo
}

func newTestRouter(cfg Config) *Router {
	repo := testRepo()
	return New(engine.New(repo, nil), repo, store.NewMemory(), cfg)
}

func searcher(perms ...string) entity.Principal {
	return entity.Principal{PrincipalID: "user-1", WorkspaceID: testWorkspace, Permissions: perms}
}

func TestSearchRequiresCapability(t *testing.T) {
	r := newTestRouter(Config{})
	_, err := r.Search(context.Background(), SearchRequest{
		WorkspaceID: testWorkspace,
		Principal:   searcher(),
		OPQL:        "FIND tasks",
	})
	if !IsPermissionError(err) {
		t.Fatalf("missing capability should be a permission error, got %v", err)
	}
	var permErr *PermissionError
	if !errors.As(err, &permErr) || permErr.Capability != CapSearchExecute {
		t.Fatalf("error should name the capability, got %v", err)
	}
}

func TestSearchRateLimited(t *testing.T) {
	r := newTestRouter(Config{Window: time.Minute, MaxRequests: 2})
	ctx := context.Background()
	req := SearchRequest{WorkspaceID: testWorkspace, Principal: searcher(CapSearchExecute), OPQL: "FIND tasks"}

	for i := 0; i < 2; i++ {
		if _, err := r.Search(ctx, req); err != nil {
			t.Fatalf("call %d: %v", i+1, err)
		}
	}
	_, err := r.Search(ctx, req)
	var rateErr *RateLimitError
	if !errors.As(err, &rateErr) {
		t.Fatalf("third call should be throttled, got %v", err)
	}
	if rateErr.RetryAfter < 1 || rateErr.RetryAfter > 60 {
		t.Fatalf("retryAfter out of window: %d", rateErr.RetryAfter)
	}
}

func TestRouteQuery(t *testing.T) {
	r := newTestRouter(Config{})
	cases := []struct {
		req       SearchRequest
		wantText  string
		wantRoute string
	}{
		{SearchRequest{OPQL: "FIND tasks"}, "FIND tasks", "opql"},
		{SearchRequest{Query: "count docs"}, "count docs", "opql"},
		{SearchRequest{Query: "login errors last week"}, "login errors last week", "freetext"},
		{SearchRequest{}, "", "scan"},
		{SearchRequest{Query: "   "}, "", "scan"},
	}
	for _, tc := range cases {
		text, route := r.routeQuery(tc.req)
		if text != tc.wantText || route != tc.wantRoute {
			t.Fatalf("routeQuery(%+v): got (%q, %q), want (%q, %q)", tc.req, text, route, tc.wantText, tc.wantRoute)
		}
	}
}

func TestSearchOpqlRoute(t *testing.T) {
	r := newTestRouter(Config{})
	resp, err := r.Search(context.Background(), SearchRequest{
		WorkspaceID: testWorkspace,
		Principal:   searcher(CapSearchExecute),
		OPQL:        `FIND tasks WHERE status = "open"`,
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if resp.Route != "opql" {
		t.Fatalf("route: got %s", resp.Route)
	}
	if len(resp.Result.Rows) != 1 || resp.Result.Rows[0].EntityID != "task-a" {
		t.Fatalf("rows: got %+v", resp.Result.Rows)
	}
}

func TestSearchFreeTextRoute(t *testing.T) {
	r := newTestRouter(Config{})
	resp, err := r.Search(context.Background(), SearchRequest{
		WorkspaceID: testWorkspace,
		Principal:   searcher(CapSearchExecute),
		Query:       "login",
		Types:       []string{"task"},
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if resp.Route != "freetext" {
		t.Fatalf("route: got %s", resp.Route)
	}
	if len(resp.Result.Rows) != 2 {
		t.Fatalf("both tasks mention login, got %d rows", len(resp.Result.Rows))
	}
	// Equal overlap, so the intrinsic score breaks the tie.
	if resp.Result.Rows[0].EntityID != "task-a" {
		t.Fatalf("higher-scored row should rank first, got %s", resp.Result.Rows[0].EntityID)
	}
}

func TestSearchFreeTextSkipsInvisibleRows(t *testing.T) {
	r := newTestRouter(Config{})
	resp, err := r.Search(context.Background(), SearchRequest{
		WorkspaceID: testWorkspace,
		Principal:   searcher(CapSearchExecute),
		Query:       "runbook",
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(resp.Result.Rows) != 0 {
		t.Fatalf("doc requires docs.view; got %+v", resp.Result.Rows)
	}
}

func TestSearchScanRoute(t *testing.T) {
	r := newTestRouter(Config{})
	resp, err := r.Search(context.Background(), SearchRequest{
		WorkspaceID: testWorkspace,
		Principal:   searcher(CapSearchExecute),
		Types:       []string{"task"},
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if resp.Route != "scan" {
		t.Fatalf("route: got %s", resp.Route)
	}
	if len(resp.Result.Rows) != 2 {
		t.Fatalf("scan should return every visible task, got %d", len(resp.Result.Rows))
	}
}

func TestStreamSearchChunks(t *testing.T) {
	repo := entity.NewMemoryRepository()
	for i := 0; i < 12; i++ {
		repo.Seed(entity.RepositoryRow{
			EntityID:    fmt.Sprintf("task-%02d", i),
			EntityType:  "task",
			WorkspaceID: testWorkspace,
			Score:       float64(i),
			Values:      map[string]interface{}{"status": "open"},
		})
	}
	r := New(engine.New(repo, nil), repo, store.NewMemory(), Config{})

	events, err := r.StreamSearch(context.Background(), SearchRequest{
		WorkspaceID: testWorkspace,
		Principal:   searcher(CapSearchExecute),
		OPQL:        "FIND tasks",
		Limit:       12,
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}

	var chunks []*Chunk
	for event := range events {
		if event.Err != nil {
			t.Fatalf("stream event error: %v", event.Err)
		}
		chunks = append(chunks, event.Chunk)
	}
	if len(chunks) != 2 {
		t.Fatalf("12 rows at chunk 10 should stream as 2 chunks, got %d", len(chunks))
	}
	if len(chunks[0].Items) != 10 || !chunks[0].Partial {
		t.Fatalf("first chunk: %d items partial=%t", len(chunks[0].Items), chunks[0].Partial)
	}
	last := chunks[1]
	if len(last.Items) != 2 {
		t.Fatalf("last chunk: got %d items", len(last.Items))
	}
	if last.Partial || last.NextCursor != "" {
		t.Fatalf("set is exhausted; last chunk should be final, partial=%t cursor=%q", last.Partial, last.NextCursor)
	}
}

func TestStreamSearchLastChunkCarriesNextCursor(t *testing.T) {
	repo := entity.NewMemoryRepository()
	for i := 0; i < 12; i++ {
		repo.Seed(entity.RepositoryRow{
			EntityID:    fmt.Sprintf("task-%02d", i),
			EntityType:  "task",
			WorkspaceID: testWorkspace,
			Score:       float64(i),
			Values:      map[string]interface{}{"status": "open"},
		})
	}
	r := New(engine.New(repo, nil), repo, store.NewMemory(), Config{})

	events, err := r.StreamSearch(context.Background(), SearchRequest{
		WorkspaceID: testWorkspace,
		Principal:   searcher(CapSearchExecute),
		OPQL:        "FIND tasks",
		Limit:       5,
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	var last *Chunk
	for event := range events {
		if event.Err != nil {
			t.Fatalf("stream event error: %v", event.Err)
		}
		last = event.Chunk
	}
	if last == nil || len(last.Items) != 5 {
		t.Fatalf("page of 5 should arrive as one chunk, got %+v", last)
	}
	if !last.Partial || last.NextCursor == "" {
		t.Fatalf("more rows remain; chunk should be partial with a cursor")
	}
}

func TestStreamSearchRejectsBeforeStreaming(t *testing.T) {
	r := newTestRouter(Config{})
	_, err := r.StreamSearch(context.Background(), SearchRequest{
		WorkspaceID: testWorkspace,
		Principal:   searcher(),
		OPQL:        "FIND tasks",
	})
	if !IsPermissionError(err) {
		t.Fatalf("gate should reject synchronously, got %v", err)
	}
}

func TestChunkSizePrecedence(t *testing.T) {
	r := newTestRouter(Config{ChunkSize: 7})
	if got := r.chunkSize(SearchRequest{ChunkSize: 3}); got != 3 {
		t.Fatalf("request override: got %d", got)
	}
	if got := r.chunkSize(SearchRequest{}); got != 7 {
		t.Fatalf("config chunk: got %d", got)
	}
	bare := newTestRouter(Config{})
	if got := bare.chunkSize(SearchRequest{Limit: 4}); got != 4 {
		t.Fatalf("small limit should cap the chunk, got %d", got)
	}
	if got := bare.chunkSize(SearchRequest{Limit: 40}); got != defaultStreamChunk {
		t.Fatalf("default chunk: got %d", got)
	}
}

func TestUnblockThroughRouter(t *testing.T) {
	r := newTestRouter(Config{Window: time.Minute, MaxRequests: 1, BlockMultiplier: 1})
	ctx := context.Background()
	req := SearchRequest{WorkspaceID: testWorkspace, Principal: searcher(CapSearchExecute), OPQL: "FIND tasks"}

	r.Search(ctx, req)
	for i := 0; i < 3; i++ {
		r.Search(ctx, req)
	}
	_, err := r.Search(ctx, req)
	var rateErr *RateLimitError
	if !errors.As(err, &rateErr) || !rateErr.Blocked {
		t.Fatalf("principal should be blocked, got %v", err)
	}
	if !r.Unblock("user-1", testWorkspace) {
		t.Fatalf("unblock should succeed")
	}
}

func TestValidatePassesThrough(t *testing.T) {
	r := newTestRouter(Config{})
	if result := r.Validate("FIND tasks"); !result.Valid {
		t.Fatalf("valid query rejected: %+v", result)
	}
	if result := r.Validate("hello"); result.Valid {
		t.Fatalf("free text is not valid OPQL")
	}
}
