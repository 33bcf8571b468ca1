// File path: internal/opql/format.go
package opql

import (
	"fmt"
	"strconv"
	"strings"
)

// Format renders an expression as canonical OPQL text. The output keys
// computed aggregate and window values on the runtime row, so formatting is
// stable: identifiers and function names lower-case, single spaces around
// binary operators, string literals double-quoted.
func Format(expr Expr) string {
	switch e := expr.(type) {
	case nil:
		return ""
	case *Literal:
		return formatLiteral(e.Value)
	case *Identifier:
		parts := make([]string, len(e.Parts))
		for i, part := range e.Parts {
			parts[i] = strings.ToLower(part)
		}
		return strings.Join(parts, ".")
	case *Binary:
		return fmt.Sprintf("%s %s %s", Format(e.Left), e.Op, Format(e.Right))
	case *Unary:
		if e.Op == OpNot {
			return fmt.Sprintf("NOT %s", Format(e.Operand))
		}
		return fmt.Sprintf("-%s", Format(e.Operand))
	case *Between:
		verb := "BETWEEN"
		if e.Negated {
			verb = "NOT BETWEEN"
		}
		return fmt.Sprintf("%s %s %s AND %s", Format(e.Target), verb, Format(e.Lower), Format(e.Upper))
	case *In:
		verb := "IN"
		if e.Negated {
			verb = "NOT IN"
		}
		options := make([]string, len(e.Options))
		for i, option := range e.Options {
			options[i] = Format(option)
		}
		return fmt.Sprintf("%s %s (%s)", Format(e.Target), verb, strings.Join(options, ", "))
	case *FunctionCall:
		args := make([]string, len(e.Args))
		for i, arg := range e.Args {
			args[i] = Format(arg)
		}
		return fmt.Sprintf("%s(%s)", strings.ToLower(e.Name), strings.Join(args, ", "))
	case *HistoryPredicate:
		var b strings.Builder
		b.WriteString(strings.ToLower(e.Field))
		b.WriteString(" ")
		b.WriteString(string(e.Verb))
		if e.Value != nil {
			b.WriteString(" ")
			b.WriteString(Format(e.Value))
		}
		if e.Actor != "" {
			b.WriteString(" ")
			b.WriteString(e.Actor)
		}
		if e.Since != nil {
			b.WriteString(" SINCE ")
			b.WriteString(e.Since.UTC().Format("2006-01-02T15:04:05Z"))
		}
		if e.Until != nil {
			b.WriteString(" UNTIL ")
			b.WriteString(e.Until.UTC().Format("2006-01-02T15:04:05Z"))
		}
		return b.String()
	case *DateMath:
		return fmt.Sprintf("%s + %s", Format(e.Base), e.Offset)
	case *Duration:
		return e.Span.String()
	default:
		return ""
	}
}

// FormatMetric renders one aggregate metric as it appears in a select list.
func FormatMetric(m AggregateMetric) string {
	fn := strings.ToUpper(m.Func)
	arg := "*"
	if m.Expr != nil {
		arg = Format(m.Expr)
	}
	rendered := fmt.Sprintf("%s(%s)", fn, arg)
	if m.Alias != "" {
		rendered += " AS " + m.Alias
	}
	return rendered
}

func formatLiteral(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return "NULL"
	case string:
		return strconv.Quote(v)
	case bool:
		if v {
			return "TRUE"
		}
		return "FALSE"
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return fmt.Sprint(v)
	}
}
