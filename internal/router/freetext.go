// File path: internal/router/freetext.go
package router

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/meridianhq/opql/internal/engine"
	"github.com/meridianhq/opql/internal/entity"
)

// Free-text relevance blends lexical overlap with the row's intrinsic
// score. Overlap dominates so a strongly matching row outranks a popular
// one.
const (
	overlapWeight = 0.7
	scoreWeight   = 0.3
)

type scoredRow struct {
	row       *entity.MaterializedRow
	relevance float64
}

// freeTextSearch serves query text that is neither OPQL nor empty. Rows are
// listed per requested type, masked for the principal, scored by token
// overlap against the query and cut to the page limit. Free text has no
// cursor semantics; callers page by refining the query.
func (r *Router) freeTextSearch(ctx context.Context, req SearchRequest, queryText string) (*engine.Result, error) {
	start := time.Now()
	terms := tokenizeText(queryText)

	types := req.Types
	if len(types) == 0 {
		listed, err := r.repo.ListEntityTypes(ctx, req.WorkspaceID)
		if err != nil {
			return nil, err
		}
		types = listed
	}

	var scored []scoredRow
	for _, entityType := range types {
		rows, err := r.repo.List(ctx, req.WorkspaceID, entityType)
		if err != nil {
			return nil, err
		}
		for _, raw := range rows {
			materialized, visible := entity.Materialize(raw, req.Principal)
			if !visible {
				continue
			}
			overlap := overlapScore(terms, materialized)
			if overlap <= 0 {
				continue
			}
			scored = append(scored, scoredRow{
				row:       materialized,
				relevance: overlapWeight*overlap + scoreWeight*materialized.Score,
			})
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].relevance != scored[j].relevance {
			return scored[i].relevance > scored[j].relevance
		}
		return scored[i].row.EntityID < scored[j].row.EntityID
	})

	limit := req.Limit
	if limit <= 0 {
		limit = engine.DefaultLimit
	}
	if limit > engine.MaxLimit {
		limit = engine.MaxLimit
	}
	if len(scored) > limit {
		scored = scored[:limit]
	}

	result := &engine.Result{
		Rows: make([]engine.ResultRow, 0, len(scored)),
		Plan: []string{"freetext: token overlap over " + strings.Join(types, ",")},
	}
	for _, candidate := range scored {
		result.Rows = append(result.Rows, engine.ResultRow{
			EntityID:     candidate.row.EntityID,
			EntityType:   candidate.row.EntityType,
			Score:        candidate.relevance,
			Values:       candidate.row.Values,
			MaskedFields: candidate.row.MaskedFields,
		})
	}
	result.Metrics.TotalMS = float64(time.Since(start).Microseconds()) / 1000
	return result, nil
}

// overlapScore is the fraction of query terms present in the row's string
// values. Masked values still participate with their mask literal, never
// the hidden original.
func overlapScore(terms []string, row *entity.MaterializedRow) float64 {
	if len(terms) == 0 {
		return 0
	}
	haystack := make(map[string]bool)
	for _, value := range row.Values {
		text, ok := value.(string)
		if !ok {
			continue
		}
		for _, token := range tokenizeText(text) {
			haystack[token] = true
		}
	}
	if len(haystack) == 0 {
		return 0
	}
	matched := 0
	for _, term := range terms {
		if haystack[term] {
			matched++
		}
	}
	return float64(matched) / float64(len(terms))
}

func tokenizeText(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	out := fields[:0]
	for _, field := range fields {
		if len(field) > 1 {
			out = append(out, field)
		}
	}
	return out
}
