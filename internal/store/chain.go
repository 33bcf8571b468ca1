// File path: internal/store/chain.go
package store

import (
	"context"
	"errors"

	"github.com/meridianhq/opql/internal/common"
	"github.com/meridianhq/opql/internal/common/telemetry"
)

// Chain probes an ordered list of storage candidates. A candidate
// answering ErrNotProvisioned is skipped and the next one is tried; any
// other error aborts immediately. When every candidate is unprovisioned
// the chain reports ErrNotProvisioned itself, so callers typically place
// an always-available Memory store last.
type Chain struct {
	candidates []Store
}

// NewChain builds a fallback chain over the given candidates in order.
func NewChain(candidates ...Store) *Chain {
	return &Chain{candidates: candidates}
}

func (c *Chain) probe(op string, fn func(Store) error) error {
	logger := common.Logger()
	for i, candidate := range c.candidates {
		err := fn(candidate)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrNotProvisioned) {
			telemetry.RecordScheduleFallback()
			logger.Debug("store: candidate not provisioned, advancing", "op", op, "candidate", i)
			continue
		}
		return err
	}
	return ErrNotProvisioned
}

// probeValue is probe for operations returning a value. ErrNotFound also
// advances: a later candidate may hold documents an earlier empty one does
// not.
func (c *Chain) probeValue(op string, fn func(Store) (interface{}, error)) (interface{}, error) {
	logger := common.Logger()
	var lastErr error = ErrNotProvisioned
	for i, candidate := range c.candidates {
		value, err := fn(candidate)
		if err == nil {
			return value, nil
		}
		if errors.Is(err, ErrNotProvisioned) {
			telemetry.RecordScheduleFallback()
			logger.Debug("store: candidate not provisioned, advancing", "op", op, "candidate", i)
			lastErr = err
			continue
		}
		if errors.Is(err, ErrNotFound) {
			lastErr = err
			continue
		}
		return nil, err
	}
	return nil, lastErr
}

// Get returns the first candidate's copy of the document.
func (c *Chain) Get(ctx context.Context, workspaceID, collection, id string) ([]byte, error) {
	value, err := c.probeValue("get", func(s Store) (interface{}, error) {
		return s.Get(ctx, workspaceID, collection, id)
	})
	if err != nil {
		return nil, err
	}
	return value.([]byte), nil
}

// Put writes to the first provisioned candidate.
func (c *Chain) Put(ctx context.Context, workspaceID, collection, id string, doc []byte) error {
	return c.probe("put", func(s Store) error {
		return s.Put(ctx, workspaceID, collection, id, doc)
	})
}

// Delete removes from the first provisioned candidate.
func (c *Chain) Delete(ctx context.Context, workspaceID, collection, id string) error {
	return c.probe("delete", func(s Store) error {
		return s.Delete(ctx, workspaceID, collection, id)
	})
}

// List returns the first provisioned candidate's collection.
func (c *Chain) List(ctx context.Context, workspaceID, collection string) ([][]byte, error) {
	value, err := c.probeValue("list", func(s Store) (interface{}, error) {
		return s.List(ctx, workspaceID, collection)
	})
	if err != nil {
		return nil, err
	}
	return value.([][]byte), nil
}

// NotProvisioned is a Store stub that always answers ErrNotProvisioned.
// It stands in for configured-but-absent storage targets in tests and
// wiring.
type NotProvisioned struct{}

func (NotProvisioned) Get(context.Context, string, string, string) ([]byte, error) {
	return nil, ErrNotProvisioned
}

func (NotProvisioned) Put(context.Context, string, string, string, []byte) error {
	return ErrNotProvisioned
}

func (NotProvisioned) Delete(context.Context, string, string, string) error {
	return ErrNotProvisioned
}

func (NotProvisioned) List(context.Context, string, string) ([][]byte, error) {
	return nil, ErrNotProvisioned
}
