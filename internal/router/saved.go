// File path: internal/router/saved.go
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/meridianhq/opql/internal/common"
	"github.com/meridianhq/opql/internal/entity"
	"github.com/meridianhq/opql/internal/store"
)

// Store collections for persisted router configuration.
const (
	collectionSavedSearches = "saved_searches"
	collectionAlerts        = "alerts"
)

// Visibility values for saved searches.
const (
	VisibilityPrivate      = "private"
	VisibilityWorkspace    = "workspace"
	VisibilityOrganization = "organization"
)

// Alert frequency values.
const (
	FrequencyImmediate = "immediate"
	FrequencyDaily     = "daily"
	FrequencyWeekly    = "weekly"
)

var validChannels = map[string]bool{"email": true, "slack": true, "webhook": true}

// ExportRecord is one recorded export of a saved search's results.
type ExportRecord struct {
	At     time.Time `json:"at"`
	By     string    `json:"by"`
	Format string    `json:"format"`
}

// SavedSearchRecord is a persisted query with its audit trail.
type SavedSearchRecord struct {
	ID             string         `json:"id"`
	WorkspaceID    string         `json:"workspaceId"`
	Name           string         `json:"name"`
	Query          string         `json:"query"`
	Visibility     string         `json:"visibility"`
	CreatedAt      time.Time      `json:"createdAt"`
	CreatedBy      string         `json:"createdBy"`
	UpdatedAt      time.Time      `json:"updatedAt"`
	UpdatedBy      string         `json:"updatedBy"`
	LastAccessedAt *time.Time     `json:"lastAccessedAt,omitempty"`
	Exports        []ExportRecord `json:"exports,omitempty"`
}

// SearchAlertRecord is a persisted alert bound to a query.
type SearchAlertRecord struct {
	ID              string     `json:"id"`
	WorkspaceID     string     `json:"workspaceId"`
	Name            string     `json:"name"`
	Query           string     `json:"query"`
	Frequency       string     `json:"frequency"`
	Channels        []string   `json:"channels"`
	Muted           bool       `json:"muted"`
	LastTriggeredAt *time.Time `json:"lastTriggeredAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	CreatedBy       string     `json:"createdBy"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	UpdatedBy       string     `json:"updatedBy"`
}

// ListSavedSearches returns a workspace's saved searches sorted by name.
func (r *Router) ListSavedSearches(ctx context.Context, workspaceID string, principal entity.Principal) ([]SavedSearchRecord, error) {
	if err := r.admit(SearchRequest{WorkspaceID: workspaceID, Principal: principal}, CapSavedRead); err != nil {
		return nil, err
	}
	docs, err := r.items.List(ctx, workspaceID, collectionSavedSearches)
	if err != nil && !errors.Is(err, store.ErrNotProvisioned) {
		return nil, err
	}
	records := make([]SavedSearchRecord, 0, len(docs))
	for _, doc := range docs {
		var record SavedSearchRecord
		if err := json.Unmarshal(doc, &record); err != nil {
			common.Logger().Warn("router: skipping undecodable saved search", "workspace", workspaceID, "error", err)
			continue
		}
		if record.Visibility == VisibilityPrivate && record.CreatedBy != principal.PrincipalID && !principal.AllowAll {
			continue
		}
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Name < records[j].Name })
	return records, nil
}

// GetSavedSearch loads one saved search and stamps lastAccessedAt.
func (r *Router) GetSavedSearch(ctx context.Context, workspaceID, id string, principal entity.Principal) (*SavedSearchRecord, error) {
	if err := r.admit(SearchRequest{WorkspaceID: workspaceID, Principal: principal}, CapSavedRead); err != nil {
		return nil, err
	}
	doc, err := r.items.Get(ctx, workspaceID, collectionSavedSearches, id)
	if err != nil {
		return nil, err
	}
	var record SavedSearchRecord
	if err := json.Unmarshal(doc, &record); err != nil {
		return nil, fmt.Errorf("decode saved search %s: %w", id, err)
	}
	now := r.now().UTC()
	record.LastAccessedAt = &now
	if encoded, err := json.Marshal(record); err == nil {
		_ = r.items.Put(ctx, workspaceID, collectionSavedSearches, id, encoded)
	}
	return &record, nil
}

// UpsertSavedSearch creates the record when its id is unknown and updates it
// otherwise. Updates keep the original creation and access audit fields and
// stamp updatedAt/updatedBy.
func (r *Router) UpsertSavedSearch(ctx context.Context, workspaceID string, principal entity.Principal, record SavedSearchRecord) (*SavedSearchRecord, error) {
	if err := r.admit(SearchRequest{WorkspaceID: workspaceID, Principal: principal}, CapSavedWrite); err != nil {
		return nil, err
	}
	if strings.TrimSpace(record.Query) == "" {
		return nil, errors.New("router: saved search query required")
	}
	switch record.Visibility {
	case VisibilityPrivate, VisibilityWorkspace, VisibilityOrganization:
	case "":
		record.Visibility = VisibilityPrivate
	default:
		return nil, fmt.Errorf("router: invalid visibility %q", record.Visibility)
	}

	now := r.now().UTC()
	record.WorkspaceID = workspaceID
	if strings.TrimSpace(record.ID) == "" {
		record.ID = uuid.NewString()
	}

	if existing, err := r.items.Get(ctx, workspaceID, collectionSavedSearches, record.ID); err == nil {
		var prior SavedSearchRecord
		if err := json.Unmarshal(existing, &prior); err == nil {
			record.CreatedAt = prior.CreatedAt
			record.CreatedBy = prior.CreatedBy
			record.LastAccessedAt = prior.LastAccessedAt
			record.Exports = prior.Exports
		}
	} else if !errors.Is(err, store.ErrNotFound) && !errors.Is(err, store.ErrNotProvisioned) {
		return nil, err
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
		record.CreatedBy = principal.PrincipalID
	}
	record.UpdatedAt = now
	record.UpdatedBy = principal.PrincipalID

	encoded, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("encode saved search: %w", err)
	}
	if err := r.items.Put(ctx, workspaceID, collectionSavedSearches, record.ID, encoded); err != nil {
		return nil, err
	}
	r.audit.record(auditEntry{
		At:          now,
		PrincipalID: principal.PrincipalID,
		WorkspaceID: workspaceID,
		Action:      "saved_search_upsert",
		Detail:      record.ID,
	})
	return &record, nil
}

// DeleteSavedSearch removes a record; deleting an unknown id succeeds.
func (r *Router) DeleteSavedSearch(ctx context.Context, workspaceID, id string, principal entity.Principal) error {
	if err := r.admit(SearchRequest{WorkspaceID: workspaceID, Principal: principal}, CapSavedWrite); err != nil {
		return err
	}
	err := r.items.Delete(ctx, workspaceID, collectionSavedSearches, id)
	if err != nil && !errors.Is(err, store.ErrNotFound) && !errors.Is(err, store.ErrNotProvisioned) {
		return err
	}
	r.audit.record(auditEntry{
		At:          r.now().UTC(),
		PrincipalID: principal.PrincipalID,
		WorkspaceID: workspaceID,
		Action:      "saved_search_delete",
		Detail:      id,
	})
	return nil
}

// RecordExport appends one export to a saved search's audit trail.
func (r *Router) RecordExport(ctx context.Context, workspaceID, id string, principal entity.Principal, format string) error {
	if err := r.admit(SearchRequest{WorkspaceID: workspaceID, Principal: principal}, CapSavedWrite); err != nil {
		return err
	}
	doc, err := r.items.Get(ctx, workspaceID, collectionSavedSearches, id)
	if err != nil {
		return err
	}
	var record SavedSearchRecord
	if err := json.Unmarshal(doc, &record); err != nil {
		return fmt.Errorf("decode saved search %s: %w", id, err)
	}
	record.Exports = append(record.Exports, ExportRecord{
		At:     r.now().UTC(),
		By:     principal.PrincipalID,
		Format: format,
	})
	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode saved search: %w", err)
	}
	return r.items.Put(ctx, workspaceID, collectionSavedSearches, id, encoded)
}

// ListAlerts returns a workspace's alerts sorted by name.
func (r *Router) ListAlerts(ctx context.Context, workspaceID string, principal entity.Principal) ([]SearchAlertRecord, error) {
	if err := r.admit(SearchRequest{WorkspaceID: workspaceID, Principal: principal}, CapAlertsRead); err != nil {
		return nil, err
	}
	docs, err := r.items.List(ctx, workspaceID, collectionAlerts)
	if err != nil && !errors.Is(err, store.ErrNotProvisioned) {
		return nil, err
	}
	records := make([]SearchAlertRecord, 0, len(docs))
	for _, doc := range docs {
		var record SearchAlertRecord
		if err := json.Unmarshal(doc, &record); err != nil {
			common.Logger().Warn("router: skipping undecodable alert", "workspace", workspaceID, "error", err)
			continue
		}
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Name < records[j].Name })
	return records, nil
}

// UpsertAlert mirrors UpsertSavedSearch for alert records.
func (r *Router) UpsertAlert(ctx context.Context, workspaceID string, principal entity.Principal, record SearchAlertRecord) (*SearchAlertRecord, error) {
	if err := r.admit(SearchRequest{WorkspaceID: workspaceID, Principal: principal}, CapAlertsWrite); err != nil {
		return nil, err
	}
	if strings.TrimSpace(record.Query) == "" {
		return nil, errors.New("router: alert query required")
	}
	switch record.Frequency {
	case FrequencyImmediate, FrequencyDaily, FrequencyWeekly:
	case "":
		record.Frequency = FrequencyDaily
	default:
		return nil, fmt.Errorf("router: invalid frequency %q", record.Frequency)
	}
	for _, channel := range record.Channels {
		if !validChannels[channel] {
			return nil, fmt.Errorf("router: invalid channel %q", channel)
		}
	}

	now := r.now().UTC()
	record.WorkspaceID = workspaceID
	if strings.TrimSpace(record.ID) == "" {
		record.ID = uuid.NewString()
	}

	if existing, err := r.items.Get(ctx, workspaceID, collectionAlerts, record.ID); err == nil {
		var prior SearchAlertRecord
		if err := json.Unmarshal(existing, &prior); err == nil {
			record.CreatedAt = prior.CreatedAt
			record.CreatedBy = prior.CreatedBy
			record.LastTriggeredAt = prior.LastTriggeredAt
		}
	} else if !errors.Is(err, store.ErrNotFound) && !errors.Is(err, store.ErrNotProvisioned) {
		return nil, err
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
		record.CreatedBy = principal.PrincipalID
	}
	record.UpdatedAt = now
	record.UpdatedBy = principal.PrincipalID

	encoded, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("encode alert: %w", err)
	}
	if err := r.items.Put(ctx, workspaceID, collectionAlerts, record.ID, encoded); err != nil {
		return nil, err
	}
	r.audit.record(auditEntry{
		At:          now,
		PrincipalID: principal.PrincipalID,
		WorkspaceID: workspaceID,
		Action:      "alert_upsert",
		Detail:      record.ID,
	})
	return &record, nil
}

// DeleteAlert removes an alert; deleting an unknown id succeeds.
func (r *Router) DeleteAlert(ctx context.Context, workspaceID, id string, principal entity.Principal) error {
	if err := r.admit(SearchRequest{WorkspaceID: workspaceID, Principal: principal}, CapAlertsWrite); err != nil {
		return err
	}
	err := r.items.Delete(ctx, workspaceID, collectionAlerts, id)
	if err != nil && !errors.Is(err, store.ErrNotFound) && !errors.Is(err, store.ErrNotProvisioned) {
		return err
	}
	r.audit.record(auditEntry{
		At:          r.now().UTC(),
		PrincipalID: principal.PrincipalID,
		WorkspaceID: workspaceID,
		Action:      "alert_delete",
		Detail:      id,
	})
	return nil
}
