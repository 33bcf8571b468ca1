// File path: internal/store/chain_test.go
package store

import (
	"context"
	"errors"
	"testing"
)

type failingStore struct{ err error }

func (s failingStore) Get(context.Context, string, string, string) ([]byte, error) {
	return nil, s.err
}
func (s failingStore) Put(context.Context, string, string, string, []byte) error { return s.err }
func (s failingStore) Delete(context.Context, string, string, string) error     { return s.err }
func (s failingStore) List(context.Context, string, string) ([][]byte, error)   { return nil, s.err }

func TestChainAdvancesPastUnprovisioned(t *testing.T) {
	memory := NewMemory()
	chain := NewChain(NotProvisioned{}, memory)
	ctx := context.Background()

	if err := chain.Put(ctx, "ws-1", "reports", "r-1", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	doc, err := chain.Get(ctx, "ws-1", "reports", "r-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(doc) != `{"a":1}` {
		t.Fatalf("doc: got %s", doc)
	}

	direct, err := memory.Get(ctx, "ws-1", "reports", "r-1")
	if err != nil || string(direct) != `{"a":1}` {
		t.Fatalf("document should land in the fallback member: %s, %v", direct, err)
	}
}

func TestChainAllUnprovisioned(t *testing.T) {
	chain := NewChain(NotProvisioned{}, NotProvisioned{})
	ctx := context.Background()

	if err := chain.Put(ctx, "ws-1", "reports", "r-1", []byte("{}")); !errors.Is(err, ErrNotProvisioned) {
		t.Fatalf("put should report not provisioned, got %v", err)
	}
	if _, err := chain.Get(ctx, "ws-1", "reports", "r-1"); !errors.Is(err, ErrNotProvisioned) {
		t.Fatalf("get should report not provisioned, got %v", err)
	}
}

func TestChainRealErrorAborts(t *testing.T) {
	boom := errors.New("disk gone")
	chain := NewChain(failingStore{err: boom}, NewMemory())

	if err := chain.Put(context.Background(), "ws-1", "reports", "r-1", []byte("{}")); !errors.Is(err, boom) {
		t.Fatalf("hard failure should abort the chain, got %v", err)
	}
}

func TestChainGetFallsThroughNotFound(t *testing.T) {
	first := NewMemory()
	second := NewMemory()
	ctx := context.Background()
	if err := second.Put(ctx, "ws-1", "reports", "r-1", []byte(`{"b":2}`)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	chain := NewChain(first, second)
	doc, err := chain.Get(ctx, "ws-1", "reports", "r-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(doc) != `{"b":2}` {
		t.Fatalf("doc: got %s", doc)
	}

	if _, err := chain.Get(ctx, "ws-1", "reports", "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("absent everywhere should be not found, got %v", err)
	}
}

func TestMemoryDocumentsAreCopied(t *testing.T) {
	memory := NewMemory()
	ctx := context.Background()
	doc := []byte(`{"a":1}`)
	if err := memory.Put(ctx, "ws-1", "reports", "r-1", doc); err != nil {
		t.Fatalf("put: %v", err)
	}
	doc[2] = 'x'

	stored, err := memory.Get(ctx, "ws-1", "reports", "r-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(stored) != `{"a":1}` {
		t.Fatalf("store should hold its own copy, got %s", stored)
	}
	stored[2] = 'y'
	again, _ := memory.Get(ctx, "ws-1", "reports", "r-1")
	if string(again) != `{"a":1}` {
		t.Fatalf("readers should get copies, got %s", again)
	}
}
