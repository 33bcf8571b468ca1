// File path: internal/engine/eval/eval.go
package eval

import (
	"strings"

	"github.com/meridianhq/opql/internal/opql"
)

// Evaluate interprets an expression against a row context. It never fails:
// unknown identifiers, functions and non-evaluable variants degrade to nil,
// which is falsy in boolean contexts. History, temporal, date math and
// duration nodes are resolved upstream into computed values.
func Evaluate(expr opql.Expr, row *Row) interface{} {
	switch e := expr.(type) {
	case nil:
		return nil
	case *opql.Literal:
		return e.Value
	case *opql.Identifier:
		return resolveIdentifier(e, row)
	case *opql.Binary:
		return evaluateBinary(e, row)
	case *opql.Unary:
		return evaluateUnary(e, row)
	case *opql.Between:
		target := Evaluate(e.Target, row)
		matched := CompareValues(target, Evaluate(e.Lower, row)) >= 0 &&
			CompareValues(target, Evaluate(e.Upper, row)) <= 0
		return matched != e.Negated
	case *opql.In:
		target := Evaluate(e.Target, row)
		matched := false
		for _, option := range e.Options {
			if CompareValues(target, Evaluate(option, row)) == 0 {
				matched = true
				break
			}
		}
		return matched != e.Negated
	case *opql.FunctionCall:
		return evaluateFunction(e, row)
	case *opql.HistoryPredicate, *opql.DateMath, *opql.Duration:
		// Resolved upstream by the planner into computed values keyed by
		// canonical text; absent means undefined.
		if value, ok := row.computedValue(opql.Format(expr)); ok {
			return value
		}
		return nil
	default:
		return nil
	}
}

// Truthy maps an evaluation result into a boolean: nil is false, empty
// strings/collections are false, zero numbers are false.
func Truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case []interface{}:
		return len(t) > 0
	case map[string]interface{}:
		return len(t) > 0
	default:
		if n, ok := Numeric(v); ok {
			return n != 0
		}
		return true
	}
}

// resolveIdentifier implements the documented resolution order. Unqualified
// names check computed values, then the root alias's row, then each joined
// alias in declaration order; the first alias containing the field wins, so
// a shared field name is shadowed by the earlier join.
func resolveIdentifier(ident *opql.Identifier, row *Row) interface{} {
	if row == nil || len(ident.Parts) == 0 {
		return nil
	}
	if len(ident.Parts) == 1 {
		name := ident.Parts[0]
		if value, ok := row.computedValue(name); ok {
			return value
		}
		if row.Base != nil {
			if value, ok := lookupField(row.Base.Values, name); ok {
				return value
			}
		}
		for _, alias := range row.AliasOrder {
			related := row.Aliases[alias]
			if related == nil {
				continue
			}
			if value, ok := lookupField(related.Values, name); ok {
				return value
			}
		}
		return nil
	}

	related, ok := row.aliasRow(ident.Parts[0])
	if !ok || related == nil {
		return nil
	}
	var current interface{} = related.Values
	for _, part := range ident.Parts[1:] {
		object, ok := current.(map[string]interface{})
		if !ok {
			return nil
		}
		value, found := lookupField(object, part)
		if !found {
			return nil
		}
		current = value
	}
	return current
}

// lookupField tries the exact key, then the lower-cased key.
func lookupField(values map[string]interface{}, name string) (interface{}, bool) {
	if values == nil {
		return nil, false
	}
	if value, ok := values[name]; ok {
		return value, true
	}
	if value, ok := values[strings.ToLower(name)]; ok {
		return value, true
	}
	return nil, false
}

func evaluateBinary(e *opql.Binary, row *Row) interface{} {
	// Both sides are always evaluated; evaluation is pure, so there are no
	// side effects to skip.
	left := Evaluate(e.Left, row)
	right := Evaluate(e.Right, row)
	switch e.Op {
	case opql.OpAnd:
		return Truthy(left) && Truthy(right)
	case opql.OpOr:
		return Truthy(left) || Truthy(right)
	case opql.OpEq:
		return CompareValues(left, right) == 0
	case opql.OpNe:
		return CompareValues(left, right) != 0
	case opql.OpGt:
		return CompareValues(left, right) > 0
	case opql.OpGte:
		return CompareValues(left, right) >= 0
	case opql.OpLt:
		return CompareValues(left, right) < 0
	case opql.OpLte:
		return CompareValues(left, right) <= 0
	case opql.OpLike, opql.OpILike:
		// Wildcards are stripped, not interpreted: both operators are a
		// case-insensitive substring match.
		needle := strings.ReplaceAll(stringify(right), "%", "")
		return strings.Contains(strings.ToLower(stringify(left)), strings.ToLower(needle))
	case opql.OpContains:
		return containsValue(left, right)
	default:
		return nil
	}
}

func evaluateUnary(e *opql.Unary, row *Row) interface{} {
	operand := Evaluate(e.Operand, row)
	switch e.Op {
	case opql.OpNot:
		return !Truthy(operand)
	case opql.OpNegate:
		if n, ok := Numeric(operand); ok {
			return -n
		}
		return nil
	default:
		return nil
	}
}

// containsValue implements CONTAINS: substring match for strings, per
// element equality for arrays.
func containsValue(haystack, needle interface{}) bool {
	switch h := haystack.(type) {
	case string:
		return strings.Contains(strings.ToLower(h), strings.ToLower(stringify(needle)))
	case []interface{}:
		for _, element := range h {
			if CompareValues(element, needle) == 0 {
				return true
			}
		}
		return false
	case []string:
		for _, element := range h {
			if CompareValues(element, needle) == 0 {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func evaluateFunction(call *opql.FunctionCall, row *Row) interface{} {
	switch strings.ToLower(call.Name) {
	case "contains":
		if len(call.Args) < 2 {
			return false
		}
		haystack := Evaluate(call.Args[0], row)
		for _, arg := range call.Args[1:] {
			if containsValue(haystack, Evaluate(arg, row)) {
				return true
			}
		}
		return false
	case "match":
		if len(call.Args) != 2 {
			return false
		}
		return CompareValues(Evaluate(call.Args[0], row), Evaluate(call.Args[1], row)) == 0
	case "array":
		values := make([]interface{}, 0, len(call.Args))
		for _, arg := range call.Args {
			values = append(values, Evaluate(arg, row))
		}
		return values
	default:
		// Aggregate and window results are pre-computed by the planner and
		// retrieved by canonical formatted text.
		if value, ok := row.computedValue(opql.Format(call)); ok {
			return value
		}
		return nil
	}
}
