// File path: internal/analytics/compiler.go
package analytics

import (
	"fmt"
	"strconv"
	"strings"
)

var sourceNames = map[string]string{
	"task":     "ITEMS",
	"tasks":    "ITEMS",
	"items":    "ITEMS",
	"doc":      "DOCS",
	"docs":     "DOCS",
	"document": "DOCS",
	"project":  "PROJECTS",
	"projects": "PROJECTS",
	"comment":  "COMMENTS",
	"comments": "COMMENTS",
	"person":   "PEOPLE",
	"people":   "PEOPLE",
}

var aggregationNames = map[string]string{
	"count":          "COUNT",
	"count_distinct": "COUNT_DISTINCT",
	"sum":            "SUM",
	"avg":            "AVG",
	"average":        "AVG",
	"min":            "MIN",
	"max":            "MAX",
}

// BuildAggregateOpql renders a structured report as one AGGREGATE
// statement. Filters with an empty in/not_in value list are dropped rather
// than rejected.
func BuildAggregateOpql(query ReportQuery) (string, error) {
	if len(query.Metrics) == 0 {
		return "", fmt.Errorf("analytics: report needs at least one metric")
	}
	source := strings.TrimSpace(strings.ToLower(query.Source))
	if source == "" {
		return "", fmt.Errorf("analytics: report source required")
	}
	rendered, ok := sourceNames[source]
	if !ok {
		rendered = strings.ToUpper(source)
	}

	metrics := make([]string, 0, len(query.Metrics))
	for _, metric := range query.Metrics {
		text, err := renderMetric(metric)
		if err != nil {
			return "", err
		}
		metrics = append(metrics, text)
	}

	var b strings.Builder
	b.WriteString("AGGREGATE ")
	b.WriteString(strings.Join(metrics, ", "))
	b.WriteString(" FROM ")
	b.WriteString(rendered)

	var clauses []string
	for _, filter := range query.Filters {
		clause, keep, err := renderFilter(filter)
		if err != nil {
			return "", err
		}
		if keep {
			clauses = append(clauses, clause)
		}
	}
	if len(clauses) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(clauses, " AND "))
	}

	if len(query.Dimensions) > 0 {
		b.WriteString(" GROUP BY ")
		b.WriteString(strings.Join(query.Dimensions, ", "))
	}

	if len(query.OrderBy) > 0 {
		terms := make([]string, 0, len(query.OrderBy))
		for _, order := range query.OrderBy {
			term := order.Field
			if order.Desc {
				term += " DESC"
			}
			terms = append(terms, term)
		}
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(terms, ", "))
	}

	if query.Limit > 0 {
		b.WriteString(" LIMIT ")
		b.WriteString(strconv.Itoa(query.Limit))
	}
	return b.String(), nil
}

func renderMetric(metric ReportMetric) (string, error) {
	agg, ok := aggregationNames[strings.ToLower(strings.TrimSpace(metric.Aggregation))]
	if !ok {
		return "", fmt.Errorf("analytics: unknown aggregation %q", metric.Aggregation)
	}
	column := strings.TrimSpace(metric.Column)
	if agg == "COUNT" && (column == "" || column == "*") {
		column = "*"
	}
	if column == "" {
		return "", fmt.Errorf("analytics: aggregation %s needs a column", agg)
	}
	text := fmt.Sprintf("%s(%s)", agg, column)
	if alias := strings.TrimSpace(metric.ID); alias != "" {
		text += " AS " + alias
	}
	return text, nil
}

// renderFilter returns the clause text and whether the clause should be
// kept at all.
func renderFilter(filter ReportFilter) (string, bool, error) {
	field := strings.TrimSpace(filter.Field)
	if field == "" {
		return "", false, fmt.Errorf("analytics: filter field required")
	}
	op := strings.ToLower(strings.TrimSpace(filter.Operator))
	switch op {
	case "equals", "eq", "":
		return fmt.Sprintf("%s = %s", field, renderValue(filter.Value)), true, nil
	case "not_equals", "neq":
		return fmt.Sprintf("%s != %s", field, renderValue(filter.Value)), true, nil
	case "gt":
		return fmt.Sprintf("%s > %s", field, renderValue(filter.Value)), true, nil
	case "gte":
		return fmt.Sprintf("%s >= %s", field, renderValue(filter.Value)), true, nil
	case "lt":
		return fmt.Sprintf("%s < %s", field, renderValue(filter.Value)), true, nil
	case "lte":
		return fmt.Sprintf("%s <= %s", field, renderValue(filter.Value)), true, nil
	case "contains":
		return fmt.Sprintf("%s CONTAINS %s", field, renderValue(filter.Value)), true, nil
	case "in", "not_in":
		values := filter.Values
		if len(values) == 0 {
			if list, ok := filter.Value.([]interface{}); ok {
				values = list
			}
		}
		if len(values) == 0 {
			return "", false, nil
		}
		rendered := make([]string, 0, len(values))
		for _, value := range values {
			rendered = append(rendered, renderValue(value))
		}
		keyword := "IN"
		if op == "not_in" {
			keyword = "NOT IN"
		}
		return fmt.Sprintf("%s %s (%s)", field, keyword, strings.Join(rendered, ", ")), true, nil
	default:
		return "", false, fmt.Errorf("analytics: unknown filter operator %q", filter.Operator)
	}
}

func renderValue(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return "null"
	case string:
		return strconv.Quote(v)
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return strconv.Quote(fmt.Sprintf("%v", v))
	}
}
