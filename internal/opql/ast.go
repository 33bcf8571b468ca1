// File path: internal/opql/ast.go

// Package opql defines the typed statement and expression model for the OPQL
// query language (FIND/COUNT/AGGREGATE over workspace entities), a canonical
// formatter used to key computed values, a reference parser for the grammar
// subset the engine and the analytics compiler exercise, and a static
// validator.
//
// The expression variants form a closed set: evaluation dispatches with an
// exhaustive type switch, and extending the language means adding a variant
// and updating every switch, not subclassing.
package opql

import "time"

// Expr is the common interface for all expression variants.
type Expr interface {
	isExpr()
}

// Literal holds a constant value (string, number, bool or nil).
type Literal struct {
	Value interface{}
}

// Identifier references a field. A single part is unqualified; additional
// parts walk alias-qualified dotted paths (alias.field.sub).
type Identifier struct {
	Parts []string
}

// BinaryOp enumerates binary operators.
type BinaryOp string

const (
	OpAnd      BinaryOp = "AND"
	OpOr       BinaryOp = "OR"
	OpEq       BinaryOp = "="
	OpNe       BinaryOp = "!="
	OpGt       BinaryOp = ">"
	OpGte      BinaryOp = ">="
	OpLt       BinaryOp = "<"
	OpLte      BinaryOp = "<="
	OpLike     BinaryOp = "LIKE"
	OpILike    BinaryOp = "ILIKE"
	OpContains BinaryOp = "CONTAINS"
)

// Binary applies an operator to two operands.
type Binary struct {
	Op    BinaryOp
	Left  Expr
	Right Expr
}

// UnaryOp enumerates unary operators.
type UnaryOp string

const (
	OpNot    UnaryOp = "NOT"
	OpNegate UnaryOp = "-"
)

// Unary applies NOT or numeric negation to one operand.
type Unary struct {
	Op      UnaryOp
	Operand Expr
}

// Between tests whether Target falls inclusively within [Lower, Upper].
type Between struct {
	Target  Expr
	Lower   Expr
	Upper   Expr
	Negated bool
}

// In tests membership of Target against a fixed option list.
type In struct {
	Target  Expr
	Options []Expr
	Negated bool
}

// FunctionCall invokes a built-in by name; unknown names resolve against the
// row's computed values by canonical formatted text.
type FunctionCall struct {
	Name string
	Args []Expr
}

// HistoryVerb enumerates the history-qualified predicate verbs.
type HistoryVerb string

const (
	VerbWas       HistoryVerb = "WAS"
	VerbChangedBy HistoryVerb = "CHANGED BY"
	VerbChanged   HistoryVerb = "CHANGED"
)

// HistoryPredicate matches against a field's materialized history segments.
// It is resolved by the planner's history scan, never by the generic
// evaluator.
type HistoryPredicate struct {
	Field string
	Verb  HistoryVerb
	Value Expr
	Actor string
	Since *time.Time
	Until *time.Time
}

// DateMath shifts a base timestamp by a duration. Resolved upstream into
// computed values; the generic evaluator returns nil for it.
type DateMath struct {
	Base   Expr
	Offset time.Duration
}

// Duration is a literal span of time. Resolved upstream like DateMath.
type Duration struct {
	Span time.Duration
}

func (*Literal) isExpr()          {}
func (*Identifier) isExpr()       {}
func (*Binary) isExpr()           {}
func (*Unary) isExpr()            {}
func (*Between) isExpr()          {}
func (*In) isExpr()               {}
func (*FunctionCall) isExpr()     {}
func (*HistoryPredicate) isExpr() {}
func (*DateMath) isExpr()         {}
func (*Duration) isExpr()         {}

// StatementKind enumerates the executable statement forms.
type StatementKind string

const (
	KindFind      StatementKind = "FIND"
	KindCount     StatementKind = "COUNT"
	KindAggregate StatementKind = "AGGREGATE"
)

// Join describes one relation expansion. On names the field of the source
// row (base when From is empty, otherwise an earlier alias) holding the id
// of the target entity.
type Join struct {
	Alias      string
	TargetType string
	From       string
	On         string
}

// AggregateMetric is one metric in an AGGREGATE select list. A nil Expr with
// function "count" renders as COUNT(*).
type AggregateMetric struct {
	Func  string
	Expr  Expr
	Alias string
}

// OrderTerm is one ORDER BY component.
type OrderTerm struct {
	Expr Expr
	Desc bool
}

// WindowSpec describes one window function computed over aggregated rows.
type WindowSpec struct {
	Func        string
	Arg         Expr
	Alias       string
	PartitionBy []Expr
	OrderBy     []OrderTerm
	Size        int
}

// Statement is a parsed OPQL statement ready for planning.
type Statement struct {
	Kind    StatementKind
	Types   []string
	Joins   []Join
	Where   Expr
	GroupBy []Expr
	Metrics []AggregateMetric
	Having  Expr
	Windows []WindowSpec
	OrderBy []OrderTerm
	Limit   int
}

// Parser converts OPQL text into a typed statement. The production parser is
// an external collaborator; ReferenceParser implements the same contract for
// the grammar subset this module exercises.
type Parser interface {
	Parse(opql string) (*Statement, error)
}
