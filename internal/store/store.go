// File path: internal/store/store.go

// Package store provides the durable persistence layer for saved searches,
// alerts, analytics reports, dashboards and schedules: a small
// workspace-scoped document contract with in-memory and SQLite backends,
// plus an ordered fallback chain that degrades gracefully across
// unprovisioned targets.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrNotProvisioned marks a storage target that is configured but not yet
// usable. The fallback chain recognizes it and advances to the next
// candidate; every other error aborts immediately.
var ErrNotProvisioned = errors.New("store: not provisioned")

// Store is the workspace-scoped document contract. Documents are opaque
// JSON, keyed by (workspace, collection, id). The same logic runs against
// the in-memory backend in tests and the SQLite catalog in production.
type Store interface {
	Get(ctx context.Context, workspaceID, collection, id string) ([]byte, error)
	Put(ctx context.Context, workspaceID, collection, id string, doc []byte) error
	Delete(ctx context.Context, workspaceID, collection, id string) error
	List(ctx context.Context, workspaceID, collection string) ([][]byte, error)
}
