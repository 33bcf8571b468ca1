// File path: internal/engine/engine.go

// Package engine compiles a parsed OPQL statement into a fixed pipeline
// (source scan, relation expansion, permission masking, predicate filtering,
// aggregation, ordering, cursor pagination) and executes it against a
// repository adapter. The facade wires per-request context and delegates;
// it owns no business logic of its own.
package engine

import (
	"context"
	"errors"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/meridianhq/opql/internal/common"
	"github.com/meridianhq/opql/internal/common/telemetry"
	"github.com/meridianhq/opql/internal/entity"
	"github.com/meridianhq/opql/internal/history"
	"github.com/meridianhq/opql/internal/opql"
)

const (
	// DefaultLimit bounds a page when the request does not set one.
	DefaultLimit = 50
	// MaxLimit is the hard page-size ceiling.
	MaxLimit = 500
	// DefaultGraphDepthCap bounds relation traversal hops.
	DefaultGraphDepthCap = 3
	// DefaultTimeout feeds the advisory deadline when the request does not
	// carry one.
	DefaultTimeout = 30 * time.Second

	definitionCacheSize = 256
)

// Request carries everything one execution needs. Exactly one of Statement
// or OPQL should be set; with neither, the engine scans the requested Types.
type Request struct {
	WorkspaceID   string
	Principal     entity.Principal
	OPQL          string
	Statement     *opql.Statement
	Limit         int
	Cursor        string
	Types         []string
	Explain       bool
	TimeoutMS     int
	Now           time.Time
	Timezone      string
	GraphDepthCap int
	StableOrder   bool
}

// ResultRow is one materialized output row with its joined aliases and
// computed values.
type ResultRow struct {
	EntityID     string                            `json:"entityId"`
	EntityType   string                            `json:"entityType"`
	Score        float64                           `json:"score"`
	Values       map[string]interface{}            `json:"values"`
	MaskedFields []string                          `json:"maskedFields,omitempty"`
	Aliases      map[string]map[string]interface{} `json:"aliases,omitempty"`
	Computed     map[string]interface{}            `json:"computed,omitempty"`
}

// StageTiming is one pipeline stage's duration in milliseconds.
type StageTiming struct {
	Name     string  `json:"name"`
	Duration float64 `json:"duration"`
}

// Metrics accumulates per-request timing. The deadline is advisory: it is
// computed and reported but never preempts a running stage; Timeout flags
// executions that finished after it passed.
type Metrics struct {
	TotalMS  float64       `json:"totalMs"`
	Deadline time.Time     `json:"deadline"`
	Timeout  bool          `json:"timeout,omitempty"`
	Stages   []StageTiming `json:"stages"`
}

// Result is the full execution outcome.
type Result struct {
	Rows           []ResultRow     `json:"items"`
	NextCursor     string          `json:"nextCursor,omitempty"`
	Plan           []string        `json:"plan"`
	AppliedFilters []string        `json:"appliedFilters,omitempty"`
	Pagination     string          `json:"pagination,omitempty"`
	TokenizedQuery []opql.Token    `json:"tokenizedQuery,omitempty"`
	HistoryScans   []history.Trace `json:"historyScans,omitempty"`
	DatePolicies   []string        `json:"datePolicies,omitempty"`
	Metrics        Metrics         `json:"metrics"`
}

// Engine is the top-level execute/validate entry point.
type Engine struct {
	repo   entity.Repository
	parser opql.Parser
	defs   *lru.Cache[string, entity.EntityDefinition]
}

// New constructs an engine over a repository adapter and a parser. A nil
// parser falls back to the bundled reference parser.
func New(repo entity.Repository, parser opql.Parser) *Engine {
	if parser == nil {
		parser = opql.NewReferenceParser()
	}
	defs, _ := lru.New[string, entity.EntityDefinition](definitionCacheSize)
	return &Engine{repo: repo, parser: parser, defs: defs}
}

// Execute plans and runs one request.
func (e *Engine) Execute(ctx context.Context, req Request) (*Result, error) {
	logger := common.Logger()
	start := time.Now()

	now := req.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	timeout := DefaultTimeout
	if req.TimeoutMS > 0 {
		timeout = time.Duration(req.TimeoutMS) * time.Millisecond
	}
	deadline := now.Add(timeout)

	stmt := req.Statement
	if stmt == nil && req.OPQL != "" {
		parsed, err := e.parser.Parse(req.OPQL)
		if err != nil {
			telemetry.RecordQuery(time.Since(start), true)
			return nil, planningf("parse query: %v", err)
		}
		stmt = parsed
	}
	if stmt == nil {
		stmt = &opql.Statement{Kind: opql.KindFind, Types: req.Types}
	}

	limit := req.Limit
	if limit <= 0 {
		limit = stmt.Limit
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	depthCap := req.GraphDepthCap
	if depthCap <= 0 {
		depthCap = DefaultGraphDepthCap
	}

	p := &planner{
		engine:   e,
		stmt:     stmt,
		req:      req,
		now:      now,
		deadline: deadline,
		limit:    limit,
		depthCap: depthCap,
	}
	result, err := p.run(ctx)
	elapsed := time.Since(start)
	telemetry.RecordQuery(elapsed, err != nil)
	if err != nil {
		logger.Warn("engine: execution failed", "workspace", req.WorkspaceID, "error", err)
		return nil, err
	}

	result.Metrics.TotalMS = float64(elapsed.Microseconds()) / 1000
	result.Metrics.Deadline = deadline
	result.Metrics.Timeout = now.Add(elapsed).After(deadline)
	if req.Explain && req.OPQL != "" {
		if tokens, tokErr := opql.Tokenize(req.OPQL); tokErr == nil {
			result.TokenizedQuery = tokens
		}
	}
	logger.Debug("engine: execution complete", "workspace", req.WorkspaceID,
		"rows", len(result.Rows), "ms", result.Metrics.TotalMS)
	return result, nil
}

// Validate performs static well-formedness checks without touching the
// repository. Failures come back as data, never as errors.
func (e *Engine) Validate(text string) opql.ValidationResult {
	return opql.Validate(text)
}

// definition resolves an entity definition through the LRU cache.
func (e *Engine) definition(ctx context.Context, entityType string) (entity.EntityDefinition, error) {
	if def, ok := e.defs.Get(entityType); ok {
		return def, nil
	}
	def, err := e.repo.GetDefinition(ctx, entityType)
	if err != nil {
		return entity.EntityDefinition{}, err
	}
	e.defs.Add(entityType, def)
	return def, nil
}

// IsPlanningError reports whether err is an authoring error.
func IsPlanningError(err error) bool {
	var pe *PlanningError
	return errors.As(err, &pe)
}
