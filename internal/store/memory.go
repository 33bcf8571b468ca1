// File path: internal/store/memory.go
package store

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-memory Store. It backs tests and serves as the terminal
// fallback of the persistence chain so the system stays usable with
// reduced durability when every durable candidate is down.
type Memory struct {
	mu   sync.RWMutex
	docs map[string]map[string][]byte // workspace/collection -> id -> doc
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{docs: make(map[string]map[string][]byte)}
}

func bucketKey(workspaceID, collection string) string {
	return workspaceID + "\x00" + collection
}

// Get returns one document or ErrNotFound.
func (m *Memory) Get(ctx context.Context, workspaceID, collection, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	bucket := m.docs[bucketKey(workspaceID, collection)]
	doc, ok := bucket[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(doc))
	copy(out, doc)
	return out, nil
}

// Put stores or replaces one document.
func (m *Memory) Put(ctx context.Context, workspaceID, collection, id string, doc []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := bucketKey(workspaceID, collection)
	bucket := m.docs[key]
	if bucket == nil {
		bucket = make(map[string][]byte)
		m.docs[key] = bucket
	}
	stored := make([]byte, len(doc))
	copy(stored, doc)
	bucket[id] = stored
	return nil
}

// Delete removes one document. Deleting an absent document is a no-op.
func (m *Memory) Delete(ctx context.Context, workspaceID, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs[bucketKey(workspaceID, collection)], id)
	return nil
}

// List returns every document in a collection, ordered by id for
// deterministic iteration.
func (m *Memory) List(ctx context.Context, workspaceID, collection string) ([][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	bucket := m.docs[bucketKey(workspaceID, collection)]
	ids := make([]string, 0, len(bucket))
	for id := range bucket {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([][]byte, 0, len(ids))
	for _, id := range ids {
		doc := bucket[id]
		copied := make([]byte, len(doc))
		copy(copied, doc)
		out = append(out, copied)
	}
	return out, nil
}
