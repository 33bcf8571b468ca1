// File path: internal/router/diagnostics.go
package router

import (
	"context"
	"sort"
	"time"

	"github.com/meridianhq/opql/internal/common"
	"github.com/meridianhq/opql/internal/entity"
)

// HotQueryStat is one hashed query with its observed frequency.
type HotQueryStat struct {
	Hash  string `json:"hash"`
	Count int64  `json:"count"`
}

// Diagnostics is a point-in-time health snapshot of the search surface.
type Diagnostics struct {
	// IndexFreshnessMinutes is the age of the newest updated_at across the
	// workspace; -1 when no row carries a timestamp.
	IndexFreshnessMinutes float64 `json:"indexFreshnessMinutes"`
	// IngestionLagMinutes is the mean row age; -1 when unknown.
	IngestionLagMinutes float64           `json:"ingestionLagMinutes"`
	RowCount            int               `json:"rowCount"`
	HottestQueries      []HotQueryStat    `json:"hottestQueries,omitempty"`
	ThrottleCount       int               `json:"throttleCount"`
	BlockedPrincipals   []string          `json:"blockedPrincipals,omitempty"`
	RecentAudit         []auditEntry      `json:"recentAudit,omitempty"`
	RecentLogs          []common.LogEntry `json:"recentLogs,omitempty"`
}

var rowTimestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Diagnose assembles freshness, lag, hot-query and abuse signals. It
// requires the diagnostics capability and bypasses the rate limiter so
// operators can still see a misbehaving workspace.
func (r *Router) Diagnose(ctx context.Context, workspaceID string, principal entity.Principal) (*Diagnostics, error) {
	if !principal.Can(CapSearchDiagnostics) {
		return nil, &PermissionError{Capability: CapSearchDiagnostics}
	}

	diag := &Diagnostics{
		IndexFreshnessMinutes: -1,
		IngestionLagMinutes:   -1,
		HottestQueries:        r.hottestQueries(5),
		ThrottleCount:         r.limiter.throttleCount(),
		BlockedPrincipals:     r.limiter.blockedKeys(),
		RecentAudit:           r.audit.tail(20),
		RecentLogs:            recentLogs(20),
	}

	rows, err := r.snapshotRows(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	diag.RowCount = len(rows)

	now := r.now().UTC()
	var newest time.Time
	var totalAge time.Duration
	aged := 0
	for _, row := range rows {
		stamp, ok := rowTimestamp(row)
		if !ok {
			continue
		}
		if stamp.After(newest) {
			newest = stamp
		}
		totalAge += now.Sub(stamp)
		aged++
	}
	if !newest.IsZero() {
		diag.IndexFreshnessMinutes = now.Sub(newest).Minutes()
	}
	if aged > 0 {
		diag.IngestionLagMinutes = (totalAge / time.Duration(aged)).Minutes()
	}
	return diag, nil
}

// snapshotRows prefers the repository's Snapshot when available, else lists
// every known type.
func (r *Router) snapshotRows(ctx context.Context, workspaceID string) ([]entity.RepositoryRow, error) {
	if snap, ok := r.repo.(entity.Snapshotter); ok {
		return snap.Snapshot(ctx, workspaceID)
	}
	types, err := r.repo.ListEntityTypes(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	var rows []entity.RepositoryRow
	for _, entityType := range types {
		listed, err := r.repo.List(ctx, workspaceID, entityType)
		if err != nil {
			return nil, err
		}
		rows = append(rows, listed...)
	}
	return rows, nil
}

func (r *Router) hottestQueries(n int) []HotQueryStat {
	keys := r.hot.Keys()
	stats := make([]HotQueryStat, 0, len(keys))
	for _, key := range keys {
		counter, ok := r.hot.Peek(key)
		if !ok {
			continue
		}
		counter.mu.Lock()
		count := counter.count
		counter.mu.Unlock()
		stats = append(stats, HotQueryStat{Hash: key, Count: count})
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Count != stats[j].Count {
			return stats[i].Count > stats[j].Count
		}
		return stats[i].Hash < stats[j].Hash
	})
	if len(stats) > n {
		stats = stats[:n]
	}
	return stats
}

func recentLogs(n int) []common.LogEntry {
	entries := common.LogEntries()
	if len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	return entries
}

func rowTimestamp(row entity.RepositoryRow) (time.Time, bool) {
	raw, ok := row.Values["updated_at"]
	if !ok {
		raw, ok = row.Values["updatedAt"]
	}
	if !ok {
		return time.Time{}, false
	}
	switch value := raw.(type) {
	case time.Time:
		return value.UTC(), true
	case float64:
		return time.UnixMilli(int64(value)).UTC(), true
	case int64:
		return time.UnixMilli(value).UTC(), true
	case string:
		for _, layout := range rowTimestampLayouts {
			if parsed, err := time.Parse(layout, value); err == nil {
				return parsed.UTC(), true
			}
		}
	}
	return time.Time{}, false
}
