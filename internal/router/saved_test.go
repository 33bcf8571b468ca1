// File path: internal/router/saved_test.go
package router

import (
	"context"
	"testing"
)

func TestUpsertSavedSearchCreates(t *testing.T) {
	r := newTestRouter(Config{})
	ctx := context.Background()
	principal := searcher(CapSavedWrite, CapSavedRead)

	created, err := r.UpsertSavedSearch(ctx, testWorkspace, principal, SavedSearchRecord{
		Name:  "Open tasks",
		Query: `FIND tasks WHERE status = "open"`,
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if created.ID == "" {
		t.Fatalf("id should be minted")
	}
	if created.Visibility != VisibilityPrivate {
		t.Fatalf("default visibility: got %s", created.Visibility)
	}
	if created.CreatedBy != "user-1" || created.CreatedAt.IsZero() {
		t.Fatalf("creation audit fields missing: %+v", created)
	}
	if created.WorkspaceID != testWorkspace {
		t.Fatalf("workspace should be stamped from the route, got %s", created.WorkspaceID)
	}
}

func TestUpsertSavedSearchUpdatePreservesCreation(t *testing.T) {
	r := newTestRouter(Config{})
	ctx := context.Background()
	creator := searcher(CapSavedWrite, CapSavedRead)

	created, err := r.UpsertSavedSearch(ctx, testWorkspace, creator, SavedSearchRecord{
		Name:  "Open tasks",
		Query: "FIND tasks",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	editor := searcher(CapSavedWrite)
	editor.PrincipalID = "user-2"
	updated, err := r.UpsertSavedSearch(ctx, testWorkspace, editor, SavedSearchRecord{
		ID:    created.ID,
		Name:  "All open tasks",
		Query: `FIND tasks WHERE status = "open"`,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.CreatedBy != "user-1" || !updated.CreatedAt.Equal(created.CreatedAt) {
		t.Fatalf("update should preserve creation fields: %+v", updated)
	}
	if updated.UpdatedBy != "user-2" {
		t.Fatalf("updatedBy: got %s", updated.UpdatedBy)
	}
	if updated.Name != "All open tasks" {
		t.Fatalf("name: got %s", updated.Name)
	}
}

func TestUpsertSavedSearchValidation(t *testing.T) {
	r := newTestRouter(Config{})
	ctx := context.Background()
	principal := searcher(CapSavedWrite)

	if _, err := r.UpsertSavedSearch(ctx, testWorkspace, principal, SavedSearchRecord{Name: "empty"}); err == nil {
		t.Fatalf("empty query should be rejected")
	}
	if _, err := r.UpsertSavedSearch(ctx, testWorkspace, principal, SavedSearchRecord{
		Query: "FIND tasks", Visibility: "everyone",
	}); err == nil {
		t.Fatalf("unknown visibility should be rejected")
	}
	if _, err := r.UpsertSavedSearch(ctx, testWorkspace, searcher(CapSavedRead), SavedSearchRecord{
		Query: "FIND tasks",
	}); !IsPermissionError(err) {
		t.Fatalf("write capability required, got %v", err)
	}
}

func TestListSavedSearchesFiltersPrivate(t *testing.T) {
	r := newTestRouter(Config{})
	ctx := context.Background()
	owner := searcher(CapSavedWrite, CapSavedRead)

	if _, err := r.UpsertSavedSearch(ctx, testWorkspace, owner, SavedSearchRecord{
		Name: "mine", Query: "FIND tasks", Visibility: VisibilityPrivate,
	}); err != nil {
		t.Fatalf("private upsert: %v", err)
	}
	if _, err := r.UpsertSavedSearch(ctx, testWorkspace, owner, SavedSearchRecord{
		Name: "shared", Query: "FIND docs", Visibility: VisibilityWorkspace,
	}); err != nil {
		t.Fatalf("shared upsert: %v", err)
	}

	other := searcher(CapSavedRead)
	other.PrincipalID = "user-2"
	records, err := r.ListSavedSearches(ctx, testWorkspace, other)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 1 || records[0].Name != "shared" {
		t.Fatalf("private records of others should be hidden, got %+v", records)
	}

	mine, err := r.ListSavedSearches(ctx, testWorkspace, owner)
	if err != nil {
		t.Fatalf("owner list: %v", err)
	}
	if len(mine) != 2 {
		t.Fatalf("owner should see both records, got %d", len(mine))
	}
}

func TestGetSavedSearchStampsAccess(t *testing.T) {
	r := newTestRouter(Config{})
	ctx := context.Background()
	principal := searcher(CapSavedWrite, CapSavedRead)

	created, err := r.UpsertSavedSearch(ctx, testWorkspace, principal, SavedSearchRecord{
		Name: "Open tasks", Query: "FIND tasks",
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	loaded, err := r.GetSavedSearch(ctx, testWorkspace, created.ID, principal)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.LastAccessedAt == nil {
		t.Fatalf("lastAccessedAt should be stamped on read")
	}
}

func TestDeleteSavedSearchIsIdempotent(t *testing.T) {
	r := newTestRouter(Config{})
	ctx := context.Background()
	principal := searcher(CapSavedWrite, CapSavedRead)

	created, err := r.UpsertSavedSearch(ctx, testWorkspace, principal, SavedSearchRecord{
		Name: "Open tasks", Query: "FIND tasks",
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := r.DeleteSavedSearch(ctx, testWorkspace, created.ID, principal); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := r.DeleteSavedSearch(ctx, testWorkspace, created.ID, principal); err != nil {
		t.Fatalf("deleting an unknown id should succeed: %v", err)
	}
	records, err := r.ListSavedSearches(ctx, testWorkspace, principal)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("record should be gone, got %+v", records)
	}
}

func TestRecordExportAppends(t *testing.T) {
	r := newTestRouter(Config{})
	ctx := context.Background()
	principal := searcher(CapSavedWrite, CapSavedRead)

	created, err := r.UpsertSavedSearch(ctx, testWorkspace, principal, SavedSearchRecord{
		Name: "Open tasks", Query: "FIND tasks",
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := r.RecordExport(ctx, testWorkspace, created.ID, principal, "csv"); err != nil {
		t.Fatalf("export: %v", err)
	}
	loaded, err := r.GetSavedSearch(ctx, testWorkspace, created.ID, principal)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(loaded.Exports) != 1 || loaded.Exports[0].Format != "csv" || loaded.Exports[0].By != "user-1" {
		t.Fatalf("exports: got %+v", loaded.Exports)
	}
}

func TestUpsertAlertDefaultsAndValidation(t *testing.T) {
	r := newTestRouter(Config{})
	ctx := context.Background()
	principal := searcher(CapAlertsWrite, CapAlertsRead)

	created, err := r.UpsertAlert(ctx, testWorkspace, principal, SearchAlertRecord{
		Name:     "blocked tasks",
		Query:    `FIND tasks WHERE status = "blocked"`,
		Channels: []string{"email", "slack"},
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if created.Frequency != FrequencyDaily {
		t.Fatalf("default frequency: got %s", created.Frequency)
	}

	if _, err := r.UpsertAlert(ctx, testWorkspace, principal, SearchAlertRecord{
		Query: "FIND tasks", Channels: []string{"pager"},
	}); err == nil {
		t.Fatalf("unknown channel should be rejected")
	}
	if _, err := r.UpsertAlert(ctx, testWorkspace, principal, SearchAlertRecord{
		Query: "FIND tasks", Frequency: "hourly",
	}); err == nil {
		t.Fatalf("unknown frequency should be rejected")
	}

	records, err := r.ListAlerts(ctx, testWorkspace, principal)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 1 || records[0].Name != "blocked tasks" {
		t.Fatalf("alerts: got %+v", records)
	}
	if err := r.DeleteAlert(ctx, testWorkspace, records[0].ID, principal); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := r.DeleteAlert(ctx, testWorkspace, records[0].ID, principal); err != nil {
		t.Fatalf("idempotent delete: %v", err)
	}
}
