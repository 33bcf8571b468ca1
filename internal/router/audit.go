// File path: internal/router/audit.go
package router

import (
	"sync"
	"time"
)

// auditEntry is one recorded router action. Query text is never stored,
// only its hash.
type auditEntry struct {
	At          time.Time `json:"at"`
	PrincipalID string    `json:"principalId"`
	WorkspaceID string    `json:"workspaceId"`
	Action      string    `json:"action"`
	Detail      string    `json:"detail,omitempty"`
	QueryHash   string    `json:"queryHash,omitempty"`
	Rows        int       `json:"rows,omitempty"`
}

// auditTrail is a fixed-capacity ring of recent entries.
type auditTrail struct {
	mu      sync.Mutex
	entries []auditEntry
	next    int
	full    bool
}

func newAuditTrail(capacity int) *auditTrail {
	if capacity <= 0 {
		capacity = 1000
	}
	return &auditTrail{entries: make([]auditEntry, capacity)}
}

func (t *auditTrail) record(entry auditEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[t.next] = entry
	t.next = (t.next + 1) % len(t.entries)
	if t.next == 0 {
		t.full = true
	}
}

// tail returns up to n most recent entries, newest first.
func (t *auditTrail) tail(n int) []auditEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	size := t.next
	if t.full {
		size = len(t.entries)
	}
	if n <= 0 || n > size {
		n = size
	}
	out := make([]auditEntry, 0, n)
	for i := 0; i < n; i++ {
		idx := (t.next - 1 - i + len(t.entries)) % len(t.entries)
		out = append(out, t.entries[idx])
	}
	return out
}
