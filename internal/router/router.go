// File path: internal/router/router.go

// Package router fronts the query engine with the concerns a multi-tenant
// search surface needs: capability gating, fixed-window rate limiting with
// abuse blocking, chunked streaming delivery, saved-search and alert CRUD,
// diagnostics and an audit trail. The router never reimplements planning;
// every query still flows through the engine pipeline.
package router

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/meridianhq/opql/internal/common"
	"github.com/meridianhq/opql/internal/common/telemetry"
	"github.com/meridianhq/opql/internal/engine"
	"github.com/meridianhq/opql/internal/entity"
	"github.com/meridianhq/opql/internal/opql"
	"github.com/meridianhq/opql/internal/store"
)

// Capability names gating router operations.
const (
	CapSearchExecute     = "search.execute"
	CapSearchDiagnostics = "search.diagnostics"
	CapSavedRead         = "search.saved.read"
	CapSavedWrite        = "search.saved.write"
	CapAlertsRead        = "search.alerts.read"
	CapAlertsWrite       = "search.alerts.write"
)

const defaultStreamChunk = 10

// SearchRequest is one routed search call. Explicit OPQL wins over Query;
// Query text beginning with a statement keyword is treated as OPQL and any
// other text takes the free-text path.
type SearchRequest struct {
	WorkspaceID string           `json:"workspaceId"`
	Principal   entity.Principal `json:"principal"`
	OPQL        string           `json:"opql,omitempty"`
	Query       string           `json:"query,omitempty"`
	Limit       int              `json:"limit,omitempty"`
	Cursor      string           `json:"cursor,omitempty"`
	Types       []string         `json:"types,omitempty"`
	Explain     bool             `json:"explain,omitempty"`
	TimeoutMS   int              `json:"timeoutMs,omitempty"`
	ChunkSize   int              `json:"chunkSize,omitempty"`
	Statement   *opql.Statement  `json:"-"`
	Now         time.Time        `json:"-"`
}

// SearchResponse is the routed result plus which path served it.
type SearchResponse struct {
	Route  string         `json:"route"`
	Result *engine.Result `json:"result"`
}

// Chunk is one streamed slice of an already-materialized page. Partial is
// true on every chunk except possibly the last, whose value reflects
// whether another page exists.
type Chunk struct {
	Items      []engine.ResultRow `json:"items"`
	NextCursor string             `json:"nextCursor,omitempty"`
	Partial    bool               `json:"partial"`
	Metrics    engine.Metrics     `json:"metrics"`
	Route      string             `json:"route,omitempty"`
}

// StreamEvent carries either a chunk or a terminal error.
type StreamEvent struct {
	Chunk *Chunk
	Err   error
}

type hotQuery struct {
	mu    sync.Mutex
	count int64
}

// Router is the permissioned entry point in front of the engine.
type Router struct {
	engine  *engine.Engine
	repo    entity.Repository
	items   store.Store
	cfg     Config
	limiter *rateLimiter
	audit   *auditTrail
	hot     *lru.Cache[string, *hotQuery]
	now     func() time.Time
}

// New wires a router over an engine, its repository and a durable store for
// saved searches and alerts.
func New(eng *engine.Engine, repo entity.Repository, items store.Store, cfg Config) *Router {
	cfg = applyDefaults(cfg)
	hot, _ := lru.New[string, *hotQuery](cfg.HotQueryCapacity)
	return &Router{
		engine:  eng,
		repo:    repo,
		items:   items,
		cfg:     cfg,
		limiter: newRateLimiter(cfg),
		audit:   newAuditTrail(cfg.AuditCapacity),
		hot:     hot,
		now:     time.Now,
	}
}

// admit runs the permission gate and the rate limiter for one call. It is
// shared by every routed operation so the ordering (gate first, then
// limiter) is uniform.
func (r *Router) admit(req SearchRequest, capability string) error {
	if !req.Principal.Can(capability) {
		r.audit.record(auditEntry{
			At:          r.now(),
			PrincipalID: req.Principal.PrincipalID,
			WorkspaceID: req.WorkspaceID,
			Action:      "denied",
			Detail:      capability,
		})
		return &PermissionError{Capability: capability}
	}
	if err := r.limiter.allow(req.Principal.PrincipalID, req.WorkspaceID); err != nil {
		r.audit.record(auditEntry{
			At:          r.now(),
			PrincipalID: req.Principal.PrincipalID,
			WorkspaceID: req.WorkspaceID,
			Action:      "throttled",
		})
		return err
	}
	return nil
}

// Search routes one request: explicit OPQL, then statement-keyword text,
// then free text.
func (r *Router) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	logger := common.Logger()
	if err := r.admit(req, CapSearchExecute); err != nil {
		return nil, err
	}

	queryText, route := r.routeQuery(req)
	r.recordHotQuery(queryText)

	var (
		result *engine.Result
		err    error
	)
	switch route {
	case "opql":
		result, err = r.engine.Execute(ctx, engine.Request{
			WorkspaceID: req.WorkspaceID,
			Principal:   req.Principal,
			OPQL:        queryText,
			Statement:   req.Statement,
			Limit:       req.Limit,
			Cursor:      req.Cursor,
			Types:       req.Types,
			Explain:     req.Explain,
			TimeoutMS:   req.TimeoutMS,
			Now:         req.Now,
		})
	case "freetext":
		result, err = r.freeTextSearch(ctx, req, queryText)
	default:
		result, err = r.engine.Execute(ctx, engine.Request{
			WorkspaceID: req.WorkspaceID,
			Principal:   req.Principal,
			Limit:       req.Limit,
			Cursor:      req.Cursor,
			Types:       req.Types,
			Explain:     req.Explain,
			TimeoutMS:   req.TimeoutMS,
			Now:         req.Now,
		})
	}

	entry := auditEntry{
		At:          r.now(),
		PrincipalID: req.Principal.PrincipalID,
		WorkspaceID: req.WorkspaceID,
		Action:      "search",
		Detail:      route,
		QueryHash:   hashQuery(queryText),
	}
	if err != nil {
		entry.Action = "search_failed"
		r.audit.record(entry)
		logger.Warn("router: search failed", "workspace", req.WorkspaceID, "route", route, "error", err)
		return nil, err
	}
	entry.Rows = len(result.Rows)
	r.audit.record(entry)
	return &SearchResponse{Route: route, Result: result}, nil
}

// StreamSearch admits the call synchronously, then delivers the page as
// fixed-size chunks on the returned channel. The page is computed once; the
// channel only re-slices it.
func (r *Router) StreamSearch(ctx context.Context, req SearchRequest) (<-chan StreamEvent, error) {
	if err := r.admit(req, CapSearchExecute); err != nil {
		return nil, err
	}

	events := make(chan StreamEvent)
	go func() {
		defer close(events)

		queryText, route := r.routeQuery(req)
		r.recordHotQuery(queryText)

		var (
			result *engine.Result
			err    error
		)
		if route == "freetext" {
			result, err = r.freeTextSearch(ctx, req, queryText)
		} else {
			result, err = r.engine.Execute(ctx, engine.Request{
				WorkspaceID: req.WorkspaceID,
				Principal:   req.Principal,
				OPQL:        queryText,
				Statement:   req.Statement,
				Limit:       req.Limit,
				Cursor:      req.Cursor,
				Types:       req.Types,
				Explain:     req.Explain,
				TimeoutMS:   req.TimeoutMS,
				Now:         req.Now,
			})
		}
		if err != nil {
			select {
			case events <- StreamEvent{Err: err}:
			case <-ctx.Done():
			}
			return
		}

		chunkSize := r.chunkSize(req)
		rows := result.Rows
		for start := 0; ; start += chunkSize {
			end := start + chunkSize
			if end > len(rows) {
				end = len(rows)
			}
			last := end == len(rows)
			chunk := &Chunk{
				Items:   rows[start:end],
				Partial: true,
				Metrics: result.Metrics,
				Route:   route,
			}
			if last {
				chunk.NextCursor = result.NextCursor
				chunk.Partial = result.NextCursor != ""
			}
			telemetry.RecordStreamChunk(len(chunk.Items))
			select {
			case events <- StreamEvent{Chunk: chunk}:
			case <-ctx.Done():
				return
			}
			if last {
				return
			}
		}
	}()
	return events, nil
}

// Validate exposes static query validation; failures come back as data.
func (r *Router) Validate(text string) opql.ValidationResult {
	return r.engine.Validate(text)
}

// Unblock clears an abuse-blocked principal.
func (r *Router) Unblock(principalID, workspaceID string) bool {
	return r.limiter.unblock(principalID, workspaceID)
}

// routeQuery applies the text routing rules and returns the effective query
// text plus the chosen route name.
func (r *Router) routeQuery(req SearchRequest) (string, string) {
	if req.Statement != nil {
		return req.OPQL, "opql"
	}
	if trimmed := strings.TrimSpace(req.OPQL); trimmed != "" {
		return trimmed, "opql"
	}
	trimmed := strings.TrimSpace(req.Query)
	if trimmed == "" {
		return "", "scan"
	}
	if opql.HasStatementKeyword(trimmed) {
		return trimmed, "opql"
	}
	return trimmed, "freetext"
}

func (r *Router) chunkSize(req SearchRequest) int {
	size := req.ChunkSize
	if size <= 0 {
		size = r.cfg.ChunkSize
	}
	if size <= 0 {
		limit := req.Limit
		if limit <= 0 {
			limit = engine.DefaultLimit
		}
		size = defaultStreamChunk
		if limit < size {
			size = limit
		}
	}
	if size <= 0 {
		size = 1
	}
	return size
}

func (r *Router) recordHotQuery(queryText string) {
	trimmed := strings.TrimSpace(strings.ToLower(queryText))
	if trimmed == "" {
		return
	}
	key := hashQuery(trimmed)
	if counter, ok := r.hot.Get(key); ok {
		counter.mu.Lock()
		counter.count++
		counter.mu.Unlock()
		return
	}
	r.hot.Add(key, &hotQuery{count: 1})
}

func hashQuery(queryText string) string {
	trimmed := strings.TrimSpace(strings.ToLower(queryText))
	if trimmed == "" {
		return ""
	}
	h := fnv.New64a()
	h.Write([]byte(trimmed))
	return fmt.Sprintf("%016x", h.Sum64())
}
