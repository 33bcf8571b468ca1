// File path: internal/entity/repository.go
package entity

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrUnknownType is returned when a repository has no definition for the
// requested entity type. The planner treats it as an authoring error.
var ErrUnknownType = errors.New("entity: unknown entity type")

// RepositoryError wraps a backing-store I/O failure. It propagates to the
// caller, which decides whether to retry.
type RepositoryError struct {
	Op  string
	Err error
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("repository %s: %v", e.Op, e.Err)
}

func (e *RepositoryError) Unwrap() error { return e.Err }

// Repository supplies entity rows and schema per workspace. It is the
// external collaborator backing every source scan.
type Repository interface {
	List(ctx context.Context, workspaceID, entityType string) ([]RepositoryRow, error)
	ListEntityTypes(ctx context.Context, workspaceID string) ([]string, error)
	GetDefinition(ctx context.Context, entityType string) (EntityDefinition, error)
}

// Snapshotter is optionally implemented by repositories that can report
// their full workspace contents for diagnostics.
type Snapshotter interface {
	Snapshot(ctx context.Context, workspaceID string) ([]RepositoryRow, error)
}

// MemoryRepository is an in-memory Repository used in tests and as the
// default backing of the demo binary.
type MemoryRepository struct {
	mu          sync.RWMutex
	rows        map[string][]RepositoryRow // workspaceID -> rows
	definitions map[string]EntityDefinition
}

// NewMemoryRepository returns an empty repository with no registered types.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		rows:        make(map[string][]RepositoryRow),
		definitions: make(map[string]EntityDefinition),
	}
}

// Define registers or replaces an entity definition.
func (r *MemoryRepository) Define(def EntityDefinition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.definitions[strings.ToLower(def.Type)] = def
}

// Seed appends rows to their workspaces, registering bare definitions for
// unseen types.
func (r *MemoryRepository) Seed(rows ...RepositoryRow) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range rows {
		key := strings.ToLower(row.EntityType)
		if _, known := r.definitions[key]; !known {
			r.definitions[key] = EntityDefinition{Type: key}
		}
		r.rows[row.WorkspaceID] = append(r.rows[row.WorkspaceID], row)
	}
}

// List returns the workspace rows of one entity type.
func (r *MemoryRepository) List(ctx context.Context, workspaceID, entityType string) ([]RepositoryRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, &RepositoryError{Op: "list", Err: err}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	key := strings.ToLower(entityType)
	if _, known := r.definitions[key]; !known {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, entityType)
	}
	var out []RepositoryRow
	for _, row := range r.rows[workspaceID] {
		if strings.EqualFold(row.EntityType, entityType) {
			out = append(out, row)
		}
	}
	return out, nil
}

// ListEntityTypes returns the sorted distinct entity types present in a
// workspace.
func (r *MemoryRepository) ListEntityTypes(ctx context.Context, workspaceID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, &RepositoryError{Op: "listEntityTypes", Err: err}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool)
	for _, row := range r.rows[workspaceID] {
		seen[strings.ToLower(row.EntityType)] = true
	}
	types := make([]string, 0, len(seen))
	for entityType := range seen {
		types = append(types, entityType)
	}
	sort.Strings(types)
	return types, nil
}

// GetDefinition returns the schema for one entity type.
func (r *MemoryRepository) GetDefinition(ctx context.Context, entityType string) (EntityDefinition, error) {
	if err := ctx.Err(); err != nil {
		return EntityDefinition{}, &RepositoryError{Op: "getDefinition", Err: err}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, known := r.definitions[strings.ToLower(entityType)]
	if !known {
		return EntityDefinition{}, fmt.Errorf("%w: %s", ErrUnknownType, entityType)
	}
	return def, nil
}

// Snapshot returns every row in the workspace.
func (r *MemoryRepository) Snapshot(ctx context.Context, workspaceID string) ([]RepositoryRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, &RepositoryError{Op: "snapshot", Err: err}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RepositoryRow, len(r.rows[workspaceID]))
	copy(out, r.rows[workspaceID])
	return out, nil
}
