// File path: internal/analytics/compiler_test.go
package analytics

import (
	"strings"
	"testing"
)

func TestBuildAggregateOpqlCountByStatus(t *testing.T) {
	compiled, err := BuildAggregateOpql(ReportQuery{
		Source:     "tasks",
		Dimensions: []string{"status"},
		Metrics:    []ReportMetric{{ID: "total", Column: "*", Aggregation: "count"}},
		Limit:      10,
	})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	want := "AGGREGATE COUNT(*) AS total FROM ITEMS GROUP BY status LIMIT 10"
	if compiled != want {
		t.Fatalf("compiled: got %q, want %q", compiled, want)
	}
}

func TestBuildAggregateOpqlFullClauses(t *testing.T) {
	compiled, err := BuildAggregateOpql(ReportQuery{
		Source:     "docs",
		Dimensions: []string{"owner", "status"},
		Metrics: []ReportMetric{
			{ID: "total", Aggregation: "count"},
			{ID: "avg_views", Column: "views", Aggregation: "average"},
		},
		Filters: []ReportFilter{
			{Field: "status", Operator: "not_equals", Value: "archived"},
			{Field: "views", Operator: "gte", Value: 10},
		},
		OrderBy: []ReportOrder{{Field: "total", Desc: true}, {Field: "owner"}},
		Limit:   25,
	})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	want := `AGGREGATE COUNT(*) AS total, AVG(views) AS avg_views FROM DOCS` +
		` WHERE status != "archived" AND views >= 10` +
		` GROUP BY owner, status ORDER BY total DESC, owner LIMIT 25`
	if compiled != want {
		t.Fatalf("compiled: got %q, want %q", compiled, want)
	}
}

func TestBuildAggregateOpqlSourceNames(t *testing.T) {
	cases := map[string]string{
		"task":     "ITEMS",
		"items":    "ITEMS",
		"projects": "PROJECTS",
		"people":   "PEOPLE",
		"sprints":  "SPRINTS",
	}
	for source, want := range cases {
		compiled, err := BuildAggregateOpql(ReportQuery{
			Source:  source,
			Metrics: []ReportMetric{{ID: "n", Aggregation: "count"}},
		})
		if err != nil {
			t.Fatalf("%s: %v", source, err)
		}
		if !strings.Contains(compiled, "FROM "+want) {
			t.Fatalf("%s: got %q, want FROM %s", source, compiled, want)
		}
	}
}

func TestBuildAggregateOpqlFilterOperators(t *testing.T) {
	cases := []struct {
		filter ReportFilter
		want   string
	}{
		{ReportFilter{Field: "status", Operator: "equals", Value: "open"}, `status = "open"`},
		{ReportFilter{Field: "status", Value: "open"}, `status = "open"`},
		{ReportFilter{Field: "priority", Operator: "gt", Value: 2.5}, "priority > 2.5"},
		{ReportFilter{Field: "priority", Operator: "lt", Value: 5}, "priority < 5"},
		{ReportFilter{Field: "archived", Operator: "eq", Value: false}, "archived = false"},
		{ReportFilter{Field: "title", Operator: "contains", Value: "launch"}, `title CONTAINS "launch"`},
		{ReportFilter{Field: "status", Operator: "in", Values: []interface{}{"open", "blocked"}}, `status IN ("open", "blocked")`},
		{ReportFilter{Field: "status", Operator: "not_in", Values: []interface{}{"done"}}, `status NOT IN ("done")`},
		{ReportFilter{Field: "owner", Operator: "eq", Value: nil}, "owner = null"},
	}
	for _, tc := range cases {
		compiled, err := BuildAggregateOpql(ReportQuery{
			Source:  "tasks",
			Metrics: []ReportMetric{{ID: "n", Aggregation: "count"}},
			Filters: []ReportFilter{tc.filter},
		})
		if err != nil {
			t.Fatalf("%+v: %v", tc.filter, err)
		}
		if !strings.Contains(compiled, "WHERE "+tc.want) {
			t.Fatalf("%+v: got %q, want clause %q", tc.filter, compiled, tc.want)
		}
	}
}

func TestBuildAggregateOpqlDropsEmptyInFilters(t *testing.T) {
	compiled, err := BuildAggregateOpql(ReportQuery{
		Source:  "tasks",
		Metrics: []ReportMetric{{ID: "n", Aggregation: "count"}},
		Filters: []ReportFilter{
			{Field: "status", Operator: "in"},
			{Field: "owner", Operator: "not_in", Values: []interface{}{}},
		},
	})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if strings.Contains(compiled, "WHERE") {
		t.Fatalf("empty list filters should be dropped, got %q", compiled)
	}
}

func TestBuildAggregateOpqlRejections(t *testing.T) {
	if _, err := BuildAggregateOpql(ReportQuery{Source: "tasks"}); err == nil {
		t.Fatalf("no metrics should be rejected")
	}
	if _, err := BuildAggregateOpql(ReportQuery{
		Metrics: []ReportMetric{{ID: "n", Aggregation: "count"}},
	}); err == nil {
		t.Fatalf("missing source should be rejected")
	}
	if _, err := BuildAggregateOpql(ReportQuery{
		Source:  "tasks",
		Metrics: []ReportMetric{{ID: "x", Aggregation: "median"}},
	}); err == nil {
		t.Fatalf("unknown aggregation should be rejected")
	}
	if _, err := BuildAggregateOpql(ReportQuery{
		Source:  "tasks",
		Metrics: []ReportMetric{{ID: "x", Aggregation: "sum"}},
	}); err == nil {
		t.Fatalf("sum without a column should be rejected")
	}
	if _, err := BuildAggregateOpql(ReportQuery{
		Source:  "tasks",
		Metrics: []ReportMetric{{ID: "n", Aggregation: "count"}},
		Filters: []ReportFilter{{Field: "status", Operator: "between", Value: 1}},
	}); err == nil {
		t.Fatalf("unknown filter operator should be rejected")
	}
}

func TestSpliceCrossFiltersIntoExistingWhere(t *testing.T) {
	base := `AGGREGATE COUNT(*) AS n FROM ITEMS WHERE status = "open" GROUP BY owner LIMIT 5`
	got := SpliceCrossFilters(base, []string{`priority > 2`})
	want := `AGGREGATE COUNT(*) AS n FROM ITEMS WHERE status = "open" AND (priority > 2) GROUP BY owner LIMIT 5`
	if got != want {
		t.Fatalf("splice: got %q, want %q", got, want)
	}
}

func TestSpliceCrossFiltersInsertsWhere(t *testing.T) {
	base := "AGGREGATE COUNT(*) AS n FROM ITEMS GROUP BY owner"
	got := SpliceCrossFilters(base, []string{`status = "open"`, "priority > 2"})
	want := `AGGREGATE COUNT(*) AS n FROM ITEMS WHERE (status = "open") AND (priority > 2) GROUP BY owner`
	if got != want {
		t.Fatalf("splice: got %q, want %q", got, want)
	}
}

func TestSpliceCrossFiltersAppendsWithoutMarkers(t *testing.T) {
	got := SpliceCrossFilters("FIND tasks", []string{`status = "open"`})
	want := `FIND tasks WHERE (status = "open")`
	if got != want {
		t.Fatalf("splice: got %q, want %q", got, want)
	}
}

func TestSpliceCrossFiltersNoFragmentsIsIdentity(t *testing.T) {
	base := "FIND tasks LIMIT 5"
	if got := SpliceCrossFilters(base, nil); got != base {
		t.Fatalf("identity: got %q", got)
	}
	if got := SpliceCrossFilters(base, []string{"  "}); got != base {
		t.Fatalf("blank fragments should be ignored, got %q", got)
	}
}
