// File path: internal/analytics/schedule.go
package analytics

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
	"github.com/meridianhq/opql/internal/store"
)

const collectionSchedules = "schedules"

// ScheduleStore persists ScheduledReport records through an ordered chain
// of storage candidates. Unprovisioned candidates fall through; the final
// in-memory member keeps scheduling usable with reduced durability.
type ScheduleStore struct {
	chain *store.Chain
}

// NewScheduleStore builds the fallback chain. Candidates are tried in
// order; an in-memory store is always appended last.
func NewScheduleStore(candidates ...store.Store) *ScheduleStore {
	members := make([]store.Store, 0, len(candidates)+1)
	members = append(members, candidates...)
	members = append(members, store.NewMemory())
	return &ScheduleStore{chain: store.NewChain(members...)}
}

// Put stores or replaces one schedule, minting an id when absent.
func (s *ScheduleStore) Put(ctx context.Context, schedule ScheduledReport) (*ScheduledReport, error) {
	if strings.TrimSpace(schedule.WorkspaceID) == "" {
		return nil, errors.New("analytics: schedule workspace required")
	}
	now := time.Now().UTC()
	if strings.TrimSpace(schedule.ID) == "" {
		schedule.ID = uuid.NewString()
		schedule.CreatedAt = now
	}
	if schedule.CreatedAt.IsZero() {
		schedule.CreatedAt = now
	}
	schedule.UpdatedAt = now

	encoded, err := json.Marshal(schedule)
	if err != nil {
		return nil, fmt.Errorf("encode schedule: %w", err)
	}
	if err := s.chain.Put(ctx, schedule.WorkspaceID, collectionSchedules, schedule.ID, encoded); err != nil {
		return nil, err
	}
	return &schedule, nil
}

// Get loads one schedule.
func (s *ScheduleStore) Get(ctx context.Context, workspaceID, id string) (*ScheduledReport, error) {
	doc, err := s.chain.Get(ctx, workspaceID, collectionSchedules, id)
	if err != nil {
		return nil, err
	}
	var schedule ScheduledReport
	if err := json.Unmarshal(doc, &schedule); err != nil {
		return nil, fmt.Errorf("decode schedule %s: %w", id, err)
	}
	return &schedule, nil
}

// List returns a workspace's schedules sorted by name.
func (s *ScheduleStore) List(ctx context.Context, workspaceID string) ([]ScheduledReport, error) {
	docs, err := s.chain.List(ctx, workspaceID, collectionSchedules)
	if err != nil {
		if errors.Is(err, store.ErrNotProvisioned) {
			return nil, nil
		}
		return nil, err
	}
	schedules := make([]ScheduledReport, 0, len(docs))
	for _, doc := range docs {
		var schedule ScheduledReport
		if err := json.Unmarshal(doc, &schedule); err != nil {
			common.Logger().Warn("analytics: skipping undecodable schedule", "workspace", workspaceID, "error", err)
			continue
		}
		schedules = append(schedules, schedule)
	}
	sort.Slice(schedules, func(i, j int) bool { return schedules[i].Name < schedules[j].Name })
	return schedules, nil
}

// Delete removes one schedule; unknown ids succeed.
func (s *ScheduleStore) Delete(ctx context.Context, workspaceID, id string) error {
	err := s.chain.Delete(ctx, workspaceID, collectionSchedules, id)
	if err != nil && !errors.Is(err, store.ErrNotFound) && !errors.Is(err, store.ErrNotProvisioned) {
		return err
	}
	return nil
}
