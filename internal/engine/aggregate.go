// File path: internal/engine/aggregate.go
package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/meridianhq/opql/internal/engine/eval"
	"github.com/meridianhq/opql/internal/entity"
	"github.com/meridianhq/opql/internal/opql"
)

// group accumulates the rows sharing one GROUP BY tuple.
type group struct {
	tuple []interface{}
	rows  []*pipelineRow
}

// stageAggregate groups rows by the GROUP BY tuple, computes metrics and
// window functions, and applies HAVING. FIND statements pass through
// untouched; COUNT collapses to a single row.
func (p *planner) stageAggregate(ctx context.Context) error {
	switch p.stmt.Kind {
	case opql.KindFind:
		p.planf("aggregate skipped")
		return nil
	case opql.KindCount:
		total := len(p.rows)
		p.rows = []*pipelineRow{syntheticRow("count", map[string]interface{}{"count": float64(total)})}
		p.planf("aggregate count=%d", total)
		return nil
	}

	if len(p.stmt.Metrics) == 0 && len(p.stmt.Windows) == 0 {
		return planningf("aggregate statement has no metrics")
	}

	groups := p.groupRows()

	aggregated := make([]*pipelineRow, 0, len(groups))
	for _, g := range groups {
		values := make(map[string]interface{})
		for i, expr := range p.stmt.GroupBy {
			values[opql.Format(expr)] = g.tuple[i]
		}
		computed := make(map[string]interface{})
		for _, metric := range p.stmt.Metrics {
			value, err := computeMetric(metric, g.rows)
			if err != nil {
				return err
			}
			key := metricKey(metric)
			computed[key] = value
			if metric.Alias != "" {
				computed[strings.ToLower(metric.Alias)] = value
				values[metric.Alias] = value
			} else {
				values[key] = value
			}
		}
		prow := syntheticRow(groupID(g.tuple), values)
		for key, value := range computed {
			prow.row.SetComputed(key, value)
		}
		aggregated = append(aggregated, prow)
	}

	if err := p.applyWindows(aggregated); err != nil {
		return err
	}

	if p.stmt.Having != nil {
		kept := aggregated[:0]
		for _, prow := range aggregated {
			if eval.Truthy(eval.Evaluate(p.stmt.Having, prow.row)) {
				kept = append(kept, prow)
			}
		}
		aggregated = kept
		p.applied = append(p.applied, "HAVING "+opql.Format(p.stmt.Having))
	}

	p.rows = aggregated
	p.planf("aggregate groups=%d metrics=%d windows=%d", len(aggregated), len(p.stmt.Metrics), len(p.stmt.Windows))
	return nil
}

// groupRows buckets rows by GROUP BY tuple. Tuple equality goes through
// CompareValues per component, so "1" and 1 land in distinct groups only
// when the comparator distinguishes them.
func (p *planner) groupRows() []*group {
	var groups []*group
	for _, prow := range p.rows {
		tuple := make([]interface{}, len(p.stmt.GroupBy))
		for i, expr := range p.stmt.GroupBy {
			tuple[i] = eval.Evaluate(expr, prow.row)
		}
		var target *group
		for _, g := range groups {
			if tuplesEqual(g.tuple, tuple) {
				target = g
				break
			}
		}
		if target == nil {
			target = &group{tuple: tuple}
			groups = append(groups, target)
		}
		target.rows = append(target.rows, prow)
	}
	return groups
}

func groupID(tuple []interface{}) string {
	if len(tuple) == 0 {
		return "group:all"
	}
	parts := make([]string, len(tuple))
	for i, value := range tuple {
		parts[i] = fmt.Sprint(value)
	}
	return "group:" + strings.Join(parts, "|")
}

// syntheticRow wraps an aggregated tuple in the pipeline row shape so the
// ordering and pagination stages treat it like any other row.
func syntheticRow(id string, values map[string]interface{}) *pipelineRow {
	base := &entity.MaterializedRow{
		EntityID:   id,
		EntityType: "aggregate",
		Values:     values,
	}
	return &pipelineRow{
		raw: entity.RepositoryRow{EntityID: id, EntityType: "aggregate", Values: values},
		row: eval.NewRow(base),
	}
}

func metricKey(metric opql.AggregateMetric) string {
	arg := "*"
	if metric.Expr != nil {
		arg = opql.Format(metric.Expr)
	}
	return fmt.Sprintf("%s(%s)", strings.ToLower(metric.Func), arg)
}

func computeMetric(metric opql.AggregateMetric, rows []*pipelineRow) (interface{}, error) {
	values := make([]interface{}, 0, len(rows))
	for _, prow := range rows {
		if metric.Expr == nil {
			values = append(values, nil)
			continue
		}
		values = append(values, eval.Evaluate(metric.Expr, prow.row))
	}

	switch strings.ToLower(metric.Func) {
	case "count":
		if metric.Expr == nil {
			return float64(len(rows)), nil
		}
		n := 0
		for _, value := range values {
			if value != nil {
				n++
			}
		}
		return float64(n), nil
	case "count_distinct":
		var distinct []interface{}
		for _, value := range values {
			if value == nil {
				continue
			}
			seen := false
			for _, existing := range distinct {
				if eval.CompareValues(existing, value) == 0 {
					seen = true
					break
				}
			}
			if !seen {
				distinct = append(distinct, value)
			}
		}
		return float64(len(distinct)), nil
	case "sum", "avg":
		total := 0.0
		n := 0
		for _, value := range values {
			if num, ok := eval.Numeric(value); ok {
				total += num
				n++
			}
		}
		if strings.ToLower(metric.Func) == "sum" {
			return total, nil
		}
		if n == 0 {
			return nil, nil
		}
		return total / float64(n), nil
	case "min", "max":
		var best interface{}
		for _, value := range values {
			if value == nil {
				continue
			}
			if best == nil {
				best = value
				continue
			}
			c := eval.CompareValues(value, best)
			if (strings.ToLower(metric.Func) == "min" && c < 0) || (strings.ToLower(metric.Func) == "max" && c > 0) {
				best = value
			}
		}
		return best, nil
	default:
		return nil, planningf("unknown aggregate function %q", metric.Func)
	}
}

// applyWindows computes each window function per PARTITION BY group,
// ordered by the window's own ORDER BY, writing results into the rows'
// computed values.
func (p *planner) applyWindows(rows []*pipelineRow) error {
	for _, window := range p.stmt.Windows {
		partitions := partitionRows(rows, window.PartitionBy)
		for _, partition := range partitions {
			sortPartition(partition, window.OrderBy)
			if err := computeWindow(window, partition); err != nil {
				return err
			}
		}
	}
	return nil
}

func partitionRows(rows []*pipelineRow, by []opql.Expr) [][]*pipelineRow {
	if len(by) == 0 {
		return [][]*pipelineRow{rows}
	}
	var tuples [][]interface{}
	var partitions [][]*pipelineRow
	for _, prow := range rows {
		tuple := make([]interface{}, len(by))
		for i, expr := range by {
			tuple[i] = eval.Evaluate(expr, prow.row)
		}
		found := -1
		for i, existing := range tuples {
			if tuplesEqual(existing, tuple) {
				found = i
				break
			}
		}
		if found < 0 {
			tuples = append(tuples, tuple)
			partitions = append(partitions, nil)
			found = len(partitions) - 1
		}
		partitions[found] = append(partitions[found], prow)
	}
	return partitions
}

func sortPartition(rows []*pipelineRow, by []opql.OrderTerm) {
	if len(by) == 0 {
		return
	}
	sort.SliceStable(rows, func(a, b int) bool {
		for _, term := range by {
			c := eval.CompareValues(eval.Evaluate(term.Expr, rows[a].row), eval.Evaluate(term.Expr, rows[b].row))
			if term.Desc {
				c = -c
			}
			if c != 0 {
				return c < 0
			}
		}
		return false
	})
}

func computeWindow(window opql.WindowSpec, rows []*pipelineRow) error {
	key := windowKey(window)
	series := make([]interface{}, len(rows))
	for i, prow := range rows {
		series[i] = eval.Evaluate(window.Arg, prow.row)
	}

	store := func(i int, value interface{}) {
		rows[i].row.SetComputed(key, value)
		if window.Alias != "" {
			rows[i].row.SetComputed(window.Alias, value)
			rows[i].row.Base.Values[window.Alias] = value
		}
	}

	switch strings.ToLower(window.Func) {
	case "cumulative_sum":
		running := 0.0
		for i := range rows {
			if num, ok := eval.Numeric(series[i]); ok {
				running += num
			}
			store(i, running)
		}
	case "moving_average":
		size := window.Size
		if size <= 0 {
			size = 3
		}
		for i := range rows {
			lo := i - size + 1
			if lo < 0 {
				lo = 0
			}
			total, n := 0.0, 0
			for j := lo; j <= i; j++ {
				if num, ok := eval.Numeric(series[j]); ok {
					total += num
					n++
				}
			}
			if n == 0 {
				store(i, nil)
				continue
			}
			store(i, total/float64(n))
		}
	case "percent_change":
		for i := range rows {
			if i == 0 {
				store(i, nil)
				continue
			}
			prev, prevOK := eval.Numeric(series[i-1])
			cur, curOK := eval.Numeric(series[i])
			if !prevOK || !curOK || prev == 0 {
				store(i, nil)
				continue
			}
			store(i, (cur-prev)/prev*100)
		}
	case "rank":
		rank := 0
		for i := range rows {
			if i == 0 || windowOrderDiffers(window.OrderBy, rows[i-1], rows[i]) {
				rank = i + 1
			}
			store(i, float64(rank))
		}
	default:
		return planningf("unknown window function %q", window.Func)
	}
	return nil
}

// windowOrderDiffers reports whether two adjacent rows differ under the
// window's ordering; ties share a rank.
func windowOrderDiffers(by []opql.OrderTerm, a, b *pipelineRow) bool {
	if len(by) == 0 {
		return true
	}
	for _, term := range by {
		if eval.CompareValues(eval.Evaluate(term.Expr, a.row), eval.Evaluate(term.Expr, b.row)) != 0 {
			return true
		}
	}
	return false
}

func windowKey(window opql.WindowSpec) string {
	arg := ""
	if window.Arg != nil {
		arg = opql.Format(window.Arg)
	}
	if window.Size > 0 {
		return fmt.Sprintf("%s(%s, %d)", strings.ToLower(window.Func), arg, window.Size)
	}
	return fmt.Sprintf("%s(%s)", strings.ToLower(window.Func), arg)
}
