// File path: internal/engine/planner.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/meridianhq/opql/internal/common/telemetry"
	"github.com/meridianhq/opql/internal/engine/eval"
	"github.com/meridianhq/opql/internal/entity"
	"github.com/meridianhq/opql/internal/history"
	"github.com/meridianhq/opql/internal/opql"
)

// pipelineRow carries one base entity through the stages: the raw
// repository row, raw alias bindings from relation expansion, and the
// masked runtime row once permissions have been applied.
type pipelineRow struct {
	raw     entity.RepositoryRow
	aliases []aliasBinding
	row     *eval.Row
}

type aliasBinding struct {
	alias string
	raw   *entity.RepositoryRow
}

// planner executes one statement through the fixed stage sequence. Each
// request gets a fresh planner; no plan state is shared across requests.
type planner struct {
	engine   *Engine
	stmt     *opql.Statement
	req      Request
	now      time.Time
	deadline time.Time
	limit    int
	depthCap int

	rows       []*pipelineRow
	plan       []string
	stages     []StageTiming
	scans      []history.Trace
	applied    []string
	dates      []string
	dateValues []dateValue

	pagination string
	nextCursor string
	out        []ResultRow
}

func (p *planner) run(ctx context.Context) (*Result, error) {
	type stage struct {
		name string
		fn   func(context.Context) error
	}
	pipeline := []stage{
		{"scan", p.stageScan},
		{"expand", p.stageExpand},
		{"mask", p.stageMask},
		{"filter", p.stageFilter},
		{"aggregate", p.stageAggregate},
		{"order", p.stageOrder},
		{"paginate", p.stagePaginate},
	}
	for _, s := range pipeline {
		start := time.Now()
		err := s.fn(ctx)
		elapsed := time.Since(start)
		p.stages = append(p.stages, StageTiming{Name: s.name, Duration: float64(elapsed.Microseconds()) / 1000})
		telemetry.RecordStage(s.name, elapsed)
		if err != nil {
			return nil, err
		}
	}
	return &Result{
		Rows:           p.out,
		NextCursor:     p.nextCursor,
		Plan:           p.plan,
		AppliedFilters: p.applied,
		Pagination:     p.pagination,
		HistoryScans:   p.scans,
		DatePolicies:   p.dates,
		Metrics:        Metrics{Stages: p.stages},
	}, nil
}

func (p *planner) planf(format string, args ...interface{}) {
	p.plan = append(p.plan, fmt.Sprintf(format, args...))
}

// isRepositoryFailure separates backing-store I/O failures from authoring
// errors. Repository errors keep their own taxonomy so callers can retry.
func isRepositoryFailure(err error) bool {
	var repoErr *entity.RepositoryError
	return errors.As(err, &repoErr)
}

// stageScan fetches rows for every target entity type, scoped to the
// workspace. Unknown types abort the execution.
func (p *planner) stageScan(ctx context.Context) error {
	types := p.stmt.Types
	if len(types) == 0 {
		types = p.req.Types
	}
	if len(types) == 0 {
		listed, err := p.engine.repo.ListEntityTypes(ctx, p.req.WorkspaceID)
		if err != nil {
			if isRepositoryFailure(err) {
				return err
			}
			return &entity.RepositoryError{Op: "listEntityTypes", Err: err}
		}
		types = listed
	}
	for _, entityType := range types {
		if _, err := p.engine.definition(ctx, entityType); err != nil {
			if isRepositoryFailure(err) {
				return err
			}
			return planningf("unresolvable entity type %q: %v", entityType, err)
		}
		rows, err := p.engine.repo.List(ctx, p.req.WorkspaceID, entityType)
		if err != nil {
			if isRepositoryFailure(err) {
				return err
			}
			return planningf("unresolvable entity type %q: %v", entityType, err)
		}
		for i := range rows {
			p.rows = append(p.rows, &pipelineRow{raw: rows[i]})
		}
	}
	p.planf("scan workspace=%s types=[%s] rows=%d", p.req.WorkspaceID, strings.Join(types, ","), len(p.rows))
	return nil
}

// stageExpand resolves every join up to the depth cap. Lookups are batched
// per distinct target entity type, not per row; joins past the cap are
// silently truncated to an unmatched alias.
func (p *planner) stageExpand(ctx context.Context) error {
	if len(p.stmt.Joins) == 0 {
		p.planf("expand joins=0")
		return nil
	}

	depths, err := joinDepths(p.stmt.Joins)
	if err != nil {
		return err
	}

	indexes := make(map[string]map[string]entity.RepositoryRow)
	truncated := 0
	for _, join := range p.stmt.Joins {
		if depths[strings.ToLower(join.Alias)] > p.depthCap {
			truncated++
			continue
		}
		if _, loaded := indexes[join.TargetType]; loaded {
			continue
		}
		if _, err := p.engine.definition(ctx, join.TargetType); err != nil {
			if isRepositoryFailure(err) {
				return err
			}
			return planningf("unresolvable relation %q -> %q: %v", join.Alias, join.TargetType, err)
		}
		rows, err := p.engine.repo.List(ctx, p.req.WorkspaceID, join.TargetType)
		if err != nil {
			if isRepositoryFailure(err) {
				return err
			}
			return planningf("unresolvable relation %q -> %q: %v", join.Alias, join.TargetType, err)
		}
		index := make(map[string]entity.RepositoryRow, len(rows))
		for _, row := range rows {
			index[row.EntityID] = row
		}
		indexes[join.TargetType] = index
	}

	for _, prow := range p.rows {
		for _, join := range p.stmt.Joins {
			if depths[strings.ToLower(join.Alias)] > p.depthCap {
				prow.aliases = append(prow.aliases, aliasBinding{alias: join.Alias})
				continue
			}
			source := prow.sourceValues(join.From)
			var bound *entity.RepositoryRow
			if source != nil {
				if ref, ok := source[join.On]; ok && ref != nil {
					if match, found := indexes[join.TargetType][fmt.Sprint(ref)]; found {
						matched := match
						bound = &matched
					}
				}
			}
			prow.aliases = append(prow.aliases, aliasBinding{alias: join.Alias, raw: bound})
		}
	}
	p.planf("expand joins=%d depthCap=%d truncated=%d", len(p.stmt.Joins), p.depthCap, truncated)
	return nil
}

// sourceValues returns the value map a join reads its On field from: the
// base row when from is empty, otherwise the named alias's row.
func (r *pipelineRow) sourceValues(from string) map[string]interface{} {
	if from == "" {
		return r.raw.Values
	}
	for _, binding := range r.aliases {
		if strings.EqualFold(binding.alias, from) {
			if binding.raw == nil {
				return nil
			}
			return binding.raw.Values
		}
	}
	return nil
}

// joinDepths computes traversal depth per alias: 1 for joins from the base
// row, parent+1 for chained joins. A join from an undeclared alias is an
// authoring error.
func joinDepths(joins []opql.Join) (map[string]int, error) {
	depths := make(map[string]int, len(joins))
	for _, join := range joins {
		if join.From == "" {
			depths[strings.ToLower(join.Alias)] = 1
			continue
		}
		parent, ok := depths[strings.ToLower(join.From)]
		if !ok {
			return nil, planningf("join %q references unknown alias %q", join.Alias, join.From)
		}
		depths[strings.ToLower(join.Alias)] = parent + 1
	}
	return depths, nil
}

// stageMask drops rows the principal cannot see at all and replaces masked
// field values, recording which fields were obscured. Masking never removes
// a row, only row-level capability checks do.
func (p *planner) stageMask(ctx context.Context) error {
	kept := p.rows[:0]
	dropped, masked := 0, 0
	for _, prow := range p.rows {
		base, visible := entity.Materialize(prow.raw, p.req.Principal)
		if !visible {
			dropped++
			continue
		}
		row := eval.NewRow(base)
		row.RootAlias = prow.raw.EntityType
		for _, binding := range prow.aliases {
			if binding.raw == nil {
				row.Attach(binding.alias, nil)
				continue
			}
			related, aliasVisible := entity.Materialize(*binding.raw, p.req.Principal)
			if !aliasVisible {
				row.Attach(binding.alias, nil)
				continue
			}
			row.Attach(binding.alias, related)
		}
		if len(base.MaskedFields) > 0 {
			masked++
		}
		prow.row = row
		kept = append(kept, prow)
	}
	p.rows = kept
	p.planf("mask principal=%s dropped=%d masked=%d", p.req.Principal.PrincipalID, dropped, masked)
	return nil
}

// stageFilter resolves history predicates and date math into computed
// values, then evaluates WHERE against each runtime row.
func (p *planner) stageFilter(ctx context.Context) error {
	if p.stmt.Where == nil {
		p.planf("filter predicate=none rows=%d", len(p.rows))
		return nil
	}

	preds := collectHistoryPredicates(p.stmt.Where)
	p.resolveDatePolicies(p.stmt.Where)

	kept := p.rows[:0]
	for _, prow := range p.rows {
		for _, pred := range preds {
			matched, trace := history.Scan(prow.raw, pred)
			prow.row.SetComputed(opql.Format(pred), matched)
			if p.req.Explain {
				p.scans = append(p.scans, trace)
			}
		}
		p.applyDateValues(prow.row)
		if eval.Truthy(eval.Evaluate(p.stmt.Where, prow.row)) {
			kept = append(kept, prow)
		}
	}
	p.rows = kept
	p.applied = append(p.applied, opql.Format(p.stmt.Where))
	p.planf("filter predicate=%q rows=%d historyScans=%d", opql.Format(p.stmt.Where), len(p.rows), len(preds)*len(kept))
	return nil
}

// dateValue holds the request-relative resolution of one date math or
// duration node, shared by every row in the request.
type dateValue struct {
	key   string
	value interface{}
}

// resolveDatePolicies resolves DateMath and Duration nodes relative to the
// request's now/timezone, recording one policy line per node.
func (p *planner) resolveDatePolicies(expr opql.Expr) {
	p.dateValues = nil
	walkExpressions(expr, func(node opql.Expr) {
		switch n := node.(type) {
		case *opql.DateMath:
			base := p.now
			if lit, ok := n.Base.(*opql.Literal); ok && lit != nil {
				if s, ok := lit.Value.(string); ok {
					if parsed, err := time.Parse(time.RFC3339, s); err == nil {
						base = parsed
					}
				}
			}
			resolved := base.Add(n.Offset)
			key := opql.Format(n)
			p.dateValues = append(p.dateValues, dateValue{key: key, value: resolved})
			p.dates = append(p.dates, fmt.Sprintf("date_math %s => %s", key, resolved.UTC().Format(time.RFC3339)))
		case *opql.Duration:
			key := opql.Format(n)
			p.dateValues = append(p.dateValues, dateValue{key: key, value: n.Span.Milliseconds()})
			p.dates = append(p.dates, fmt.Sprintf("duration %s => %dms", key, n.Span.Milliseconds()))
		}
	})
	if len(p.dateValues) > 0 {
		tz := p.req.Timezone
		if tz == "" {
			tz = "UTC"
		}
		p.dates = append(p.dates, fmt.Sprintf("now=%s timezone=%s", p.now.UTC().Format(time.RFC3339), tz))
	}
}

func (p *planner) applyDateValues(row *eval.Row) {
	for _, dv := range p.dateValues {
		row.SetComputed(dv.key, dv.value)
	}
}

// collectHistoryPredicates walks an expression tree for history nodes.
func collectHistoryPredicates(expr opql.Expr) []*opql.HistoryPredicate {
	var preds []*opql.HistoryPredicate
	walkExpressions(expr, func(node opql.Expr) {
		if pred, ok := node.(*opql.HistoryPredicate); ok {
			preds = append(preds, pred)
		}
	})
	return preds
}

// walkExpressions visits every node of an expression tree.
func walkExpressions(expr opql.Expr, visit func(opql.Expr)) {
	if expr == nil {
		return
	}
	visit(expr)
	switch e := expr.(type) {
	case *opql.Binary:
		walkExpressions(e.Left, visit)
		walkExpressions(e.Right, visit)
	case *opql.Unary:
		walkExpressions(e.Operand, visit)
	case *opql.Between:
		walkExpressions(e.Target, visit)
		walkExpressions(e.Lower, visit)
		walkExpressions(e.Upper, visit)
	case *opql.In:
		walkExpressions(e.Target, visit)
		for _, option := range e.Options {
			walkExpressions(option, visit)
		}
	case *opql.FunctionCall:
		for _, arg := range e.Args {
			walkExpressions(arg, visit)
		}
	case *opql.DateMath:
		walkExpressions(e.Base, visit)
	}
}

// orderSpec is one resolved ordering component. A nil expr means the
// sentinel (score for the fallback order, entity id for the tie-break).
type orderSpec struct {
	expr    opql.Expr
	byScore bool
	byID    bool
	desc    bool
}

// stageOrder sorts rows deterministically: statement ORDER BY, else the
// primary type's default order, else score descending. The entity id is
// always the final tie-break, so equal key tuples never fall back to
// scan order.
func (p *planner) stageOrder(ctx context.Context) error {
	specs, source := p.orderSpecs(ctx)
	rows := p.rows

	keys := make([][]interface{}, len(rows))
	for i, prow := range rows {
		keys[i] = orderKey(prow, specs)
	}
	order := make([]int, len(rows))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		if c := compareOrderKeys(keys[order[a]], keys[order[b]], specs); c != 0 {
			return c < 0
		}
		return rows[order[a]].row.Base.EntityID < rows[order[b]].row.Base.EntityID
	})
	sorted := make([]*pipelineRow, len(rows))
	for i, idx := range order {
		sorted[i] = rows[idx]
	}
	p.rows = sorted
	p.planf("order source=%s terms=%d", source, len(specs))
	return nil
}

// orderSpecs resolves the effective ordering and reports where it came
// from for the plan line.
func (p *planner) orderSpecs(ctx context.Context) ([]orderSpec, string) {
	var specs []orderSpec
	source := "statement"
	switch {
	case len(p.stmt.OrderBy) > 0:
		for _, term := range p.stmt.OrderBy {
			specs = append(specs, orderSpec{expr: term.Expr, desc: term.Desc})
		}
	case p.stmt.Kind == opql.KindFind && len(p.stmt.Types) > 0:
		if def, err := p.engine.definition(ctx, p.stmt.Types[0]); err == nil && len(def.DefaultOrder) > 0 {
			source = "default"
			for _, field := range def.DefaultOrder {
				specs = append(specs, orderSpec{
					expr: &opql.Identifier{Parts: []string{field.Field}},
					desc: field.Desc,
				})
			}
		}
	}
	if len(specs) == 0 && source == "statement" {
		source = "score"
		specs = append(specs, orderSpec{byScore: true, desc: true})
	}
	specs = append(specs, orderSpec{byID: true})
	return specs, source
}

// orderKey evaluates the ordering tuple for one row. The id tie-break is
// excluded: it travels separately in the cursor.
func orderKey(prow *pipelineRow, specs []orderSpec) []interface{} {
	key := make([]interface{}, 0, len(specs)-1)
	for _, spec := range specs {
		if spec.byID {
			continue
		}
		if spec.byScore {
			key = append(key, prow.row.Base.Score)
			continue
		}
		key = append(key, eval.Evaluate(spec.expr, prow.row))
	}
	return key
}

// compareOrderKeys compares two order tuples component-wise under the spec
// directions. The id tie-break is not part of the tuple; callers compare
// entity ids themselves when this returns 0.
func compareOrderKeys(a, b []interface{}, specs []orderSpec) int {
	i := 0
	for _, spec := range specs {
		if spec.byID {
			continue
		}
		c := eval.CompareValues(a[i], b[i])
		if spec.desc {
			c = -c
		}
		if c != 0 {
			return c
		}
		i++
	}
	return 0
}

// stagePaginate decodes the incoming cursor, emits rows strictly after its
// position up to the limit, and encodes a next cursor iff rows remain.
// Malformed cursors degrade to the start of the set.
func (p *planner) stagePaginate(ctx context.Context) error {
	specs, _ := p.orderSpecs(ctx)
	keys := make([][]interface{}, len(p.rows))
	for i, prow := range p.rows {
		keys[i] = orderKey(prow, specs)
	}

	start := 0
	if cursor, ok := DecodeCursor(p.req.Cursor); ok {
		start = len(p.rows)
		for i, prow := range p.rows {
			if prow.row.Base.EntityID == cursor.ID && tuplesEqual(keys[i], cursor.Order) {
				start = i + 1
				break
			}
		}
		if start == len(p.rows) {
			// The cursor row is gone; resume at the first row ordering
			// after it so pages neither repeat nor skip survivors.
			for i := range p.rows {
				if compareCursorPosition(keys[i], p.rows[i].row.Base.EntityID, cursor, specs) > 0 {
					start = i
					break
				}
			}
		}
		p.pagination = fmt.Sprintf("cursor id=%s resume=%d", cursor.ID, start)
	} else if p.req.Cursor != "" {
		p.pagination = "cursor malformed; starting from beginning"
	} else {
		p.pagination = "no cursor; starting from beginning"
	}

	end := start + p.limit
	if end > len(p.rows) {
		end = len(p.rows)
	}
	page := p.rows[start:end]
	if end < len(p.rows) && len(page) > 0 {
		last := page[len(page)-1]
		p.nextCursor = EncodeCursor(Cursor{ID: last.row.Base.EntityID, Order: keys[start+len(page)-1]})
	}

	p.out = make([]ResultRow, 0, len(page))
	for _, prow := range page {
		p.out = append(p.out, buildResultRow(prow))
	}
	p.planf("paginate limit=%d offset=%d emitted=%d more=%t", p.limit, start, len(p.out), p.nextCursor != "")
	return nil
}

// tuplesEqual compares order tuples for cursor matching. JSON round-trips
// numbers to float64, so equality goes through CompareValues.
func tuplesEqual(a, b []interface{}) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if eval.CompareValues(a[i], b[i]) != 0 {
			return false
		}
	}
	return true
}

func compareCursorPosition(key []interface{}, id string, cursor Cursor, specs []orderSpec) int {
	if len(key) == len(cursor.Order) {
		if c := compareOrderKeys(key, cursor.Order, specs); c != 0 {
			return c
		}
	}
	return strings.Compare(id, cursor.ID)
}

func buildResultRow(prow *pipelineRow) ResultRow {
	base := prow.row.Base
	out := ResultRow{
		EntityID:     base.EntityID,
		EntityType:   base.EntityType,
		Score:        base.Score,
		Values:       base.Values,
		MaskedFields: append([]string(nil), prow.row.MaskedFields...),
	}
	if len(prow.row.Aliases) > 0 {
		out.Aliases = make(map[string]map[string]interface{}, len(prow.row.Aliases))
		for alias, related := range prow.row.Aliases {
			if related == nil {
				out.Aliases[alias] = nil
				continue
			}
			out.Aliases[alias] = related.Values
		}
	}
	if len(prow.row.Computed) > 0 {
		out.Computed = prow.row.Computed
	}
	return out
}
