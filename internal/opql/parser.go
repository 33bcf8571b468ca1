// File path: internal/opql/parser.go
package opql

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ReferenceParser implements Parser for the OPQL grammar subset this module
// exercises: FIND/COUNT/AGGREGATE with JOIN, WHERE, GROUP BY, HAVING, ORDER
// BY and LIMIT clauses. A production parser can replace it behind the Parser
// interface.
type ReferenceParser struct{}

// NewReferenceParser returns the bundled reference parser.
func NewReferenceParser() *ReferenceParser {
	return &ReferenceParser{}
}

// sourceAliases maps the public source vocabulary onto entity types. ITEMS
// is the historical name for the task source and survives in compiled
// analytics queries.
var sourceAliases = map[string]string{
	"items":    "task",
	"item":     "task",
	"tasks":    "task",
	"task":     "task",
	"docs":     "doc",
	"doc":      "doc",
	"projects": "project",
	"project":  "project",
	"comments": "comment",
	"comment":  "comment",
	"people":   "person",
	"person":   "person",
	"users":    "person",
	"user":     "person",
}

// NormalizeSource resolves a source token to an entity type. Unknown plural
// names fall back to their singular form.
func NormalizeSource(name string) string {
	key := strings.ToLower(strings.TrimSpace(name))
	if mapped, ok := sourceAliases[key]; ok {
		return mapped
	}
	if strings.HasSuffix(key, "s") && len(key) > 1 {
		return key[:len(key)-1]
	}
	return key
}

var windowFuncs = map[string]bool{
	"moving_average": true,
	"percent_change": true,
	"cumulative_sum": true,
	"rank":           true,
}

var aggregateFuncs = map[string]bool{
	"count":          true,
	"sum":            true,
	"avg":            true,
	"min":            true,
	"max":            true,
	"count_distinct": true,
}

// Parse lexes and parses one OPQL statement.
func (p *ReferenceParser) Parse(text string) (*Statement, error) {
	tokens, err := Tokenize(text)
	if err != nil {
		return nil, err
	}
	ps := &parseState{tokens: tokens, length: len(text)}
	stmt, err := ps.parseStatement()
	if err != nil {
		return nil, err
	}
	if !ps.done() {
		return nil, ps.errorf("unexpected trailing input")
	}
	return stmt, nil
}

type parseState struct {
	tokens []Token
	pos    int
	length int
}

func (s *parseState) done() bool {
	return s.pos >= len(s.tokens)
}

func (s *parseState) peek() (Token, bool) {
	if s.done() {
		return Token{}, false
	}
	return s.tokens[s.pos], true
}

func (s *parseState) next() (Token, bool) {
	tok, ok := s.peek()
	if ok {
		s.pos++
	}
	return tok, ok
}

func (s *parseState) errorf(format string, args ...interface{}) error {
	position := s.length
	if tok, ok := s.peek(); ok {
		position = tok.Pos
	}
	return &SyntaxError{Message: fmt.Sprintf(format, args...), Position: position}
}

// keywordIs reports whether the token is the given bare keyword.
func keywordIs(tok Token, kw string) bool {
	return tok.Type == TokenIdent && strings.EqualFold(tok.Text, kw)
}

func (s *parseState) acceptKeyword(kw string) bool {
	if tok, ok := s.peek(); ok && keywordIs(tok, kw) {
		s.pos++
		return true
	}
	return false
}

func (s *parseState) expectKeyword(kw string) error {
	if !s.acceptKeyword(kw) {
		return s.errorf("expected %s", kw)
	}
	return nil
}

func (s *parseState) expectSymbol(sym string) error {
	if tok, ok := s.peek(); ok && tok.Type == TokenSymbol && tok.Text == sym {
		s.pos++
		return nil
	}
	return s.errorf("expected %s", sym)
}

func (s *parseState) acceptSymbol(sym string) bool {
	if tok, ok := s.peek(); ok && tok.Type == TokenSymbol && tok.Text == sym {
		s.pos++
		return true
	}
	return false
}

func (s *parseState) parseStatement() (*Statement, error) {
	tok, ok := s.next()
	if !ok {
		return nil, &SyntaxError{Message: "empty statement", Position: 0}
	}
	switch strings.ToUpper(tok.Text) {
	case "FIND":
		return s.parseFind(KindFind)
	case "COUNT":
		return s.parseFind(KindCount)
	case "AGGREGATE":
		return s.parseAggregate()
	case "UPDATE", "EXPLAIN":
		return nil, &SyntaxError{Message: "statement not supported by reference parser: " + strings.ToUpper(tok.Text), Position: tok.Pos}
	default:
		return nil, &SyntaxError{Message: "unknown statement keyword " + tok.Text, Position: tok.Pos}
	}
}

func (s *parseState) parseFind(kind StatementKind) (*Statement, error) {
	stmt := &Statement{Kind: kind}
	types, err := s.parseSources()
	if err != nil {
		return nil, err
	}
	stmt.Types = types
	for {
		if s.acceptKeyword("JOIN") {
			join, err := s.parseJoin()
			if err != nil {
				return nil, err
			}
			stmt.Joins = append(stmt.Joins, join)
			continue
		}
		break
	}
	if err := s.parseTailClauses(stmt); err != nil {
		return nil, err
	}
	return stmt, nil
}

func (s *parseState) parseAggregate() (*Statement, error) {
	stmt := &Statement{Kind: KindAggregate}
	for {
		metric, window, err := s.parseMetric()
		if err != nil {
			return nil, err
		}
		if window != nil {
			stmt.Windows = append(stmt.Windows, *window)
		} else {
			stmt.Metrics = append(stmt.Metrics, metric)
		}
		if s.acceptSymbol(",") {
			continue
		}
		break
	}
	if err := s.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	types, err := s.parseSources()
	if err != nil {
		return nil, err
	}
	stmt.Types = types
	if err := s.parseTailClauses(stmt); err != nil {
		return nil, err
	}
	return stmt, nil
}

func (s *parseState) parseSources() ([]string, error) {
	var types []string
	for {
		tok, ok := s.next()
		if !ok || tok.Type != TokenIdent {
			return nil, s.errorf("expected entity source")
		}
		types = append(types, NormalizeSource(tok.Text))
		if s.acceptSymbol(",") {
			continue
		}
		return types, nil
	}
}

// parseJoin handles JOIN <type> AS <alias> ON <field> [FROM <alias>].
func (s *parseState) parseJoin() (Join, error) {
	var join Join
	tok, ok := s.next()
	if !ok || tok.Type != TokenIdent {
		return join, s.errorf("expected join target type")
	}
	join.TargetType = NormalizeSource(tok.Text)
	if err := s.expectKeyword("AS"); err != nil {
		return join, err
	}
	tok, ok = s.next()
	if !ok || tok.Type != TokenIdent {
		return join, s.errorf("expected join alias")
	}
	join.Alias = tok.Text
	if err := s.expectKeyword("ON"); err != nil {
		return join, err
	}
	tok, ok = s.next()
	if !ok || tok.Type != TokenIdent {
		return join, s.errorf("expected join field")
	}
	join.On = tok.Text
	if s.acceptKeyword("FROM") {
		tok, ok = s.next()
		if !ok || tok.Type != TokenIdent {
			return join, s.errorf("expected source alias")
		}
		join.From = tok.Text
	}
	return join, nil
}

func (s *parseState) parseTailClauses(stmt *Statement) error {
	if s.acceptKeyword("WHERE") {
		expr, err := s.parseExpr()
		if err != nil {
			return err
		}
		stmt.Where = expr
	}
	if s.acceptKeyword("GROUP") {
		if err := s.expectKeyword("BY"); err != nil {
			return err
		}
		for {
			expr, err := s.parseTerm()
			if err != nil {
				return err
			}
			stmt.GroupBy = append(stmt.GroupBy, expr)
			if s.acceptSymbol(",") {
				continue
			}
			break
		}
	}
	if s.acceptKeyword("HAVING") {
		expr, err := s.parseExpr()
		if err != nil {
			return err
		}
		stmt.Having = expr
	}
	if s.acceptKeyword("ORDER") {
		if err := s.expectKeyword("BY"); err != nil {
			return err
		}
		terms, err := s.parseOrderTerms()
		if err != nil {
			return err
		}
		stmt.OrderBy = terms
	}
	if s.acceptKeyword("LIMIT") {
		tok, ok := s.next()
		if !ok || tok.Type != TokenNumber {
			return s.errorf("expected limit value")
		}
		limit, err := strconv.Atoi(tok.Text)
		if err != nil || limit < 0 {
			return &SyntaxError{Message: "invalid limit " + tok.Text, Position: tok.Pos}
		}
		stmt.Limit = limit
	}
	return nil
}

func (s *parseState) parseOrderTerms() ([]OrderTerm, error) {
	var terms []OrderTerm
	for {
		expr, err := s.parseTerm()
		if err != nil {
			return nil, err
		}
		term := OrderTerm{Expr: expr}
		if s.acceptKeyword("DESC") {
			term.Desc = true
		} else {
			s.acceptKeyword("ASC")
		}
		terms = append(terms, term)
		if s.acceptSymbol(",") {
			continue
		}
		return terms, nil
	}
}

// parseMetric parses one AGGREGATE select-list entry. Window functions peel
// off into a WindowSpec; everything else is an aggregate metric.
func (s *parseState) parseMetric() (AggregateMetric, *WindowSpec, error) {
	tok, ok := s.next()
	if !ok || tok.Type != TokenIdent {
		return AggregateMetric{}, nil, s.errorf("expected aggregate function")
	}
	name := strings.ToLower(tok.Text)
	if err := s.expectSymbol("("); err != nil {
		return AggregateMetric{}, nil, err
	}

	if windowFuncs[name] {
		window, err := s.parseWindowCall(name)
		if err != nil {
			return AggregateMetric{}, nil, err
		}
		return AggregateMetric{}, window, nil
	}
	if !aggregateFuncs[name] {
		return AggregateMetric{}, nil, &SyntaxError{Message: "unknown aggregate function " + name, Position: tok.Pos}
	}

	metric := AggregateMetric{Func: name}
	if s.acceptSymbol("*") {
		metric.Expr = nil
	} else {
		arg, err := s.parseTerm()
		if err != nil {
			return AggregateMetric{}, nil, err
		}
		metric.Expr = arg
	}
	if err := s.expectSymbol(")"); err != nil {
		return AggregateMetric{}, nil, err
	}
	if s.acceptKeyword("AS") {
		alias, ok := s.next()
		if !ok || alias.Type != TokenIdent {
			return AggregateMetric{}, nil, s.errorf("expected metric alias")
		}
		metric.Alias = alias.Text
	}
	return metric, nil, nil
}

func (s *parseState) parseWindowCall(name string) (*WindowSpec, error) {
	window := &WindowSpec{Func: name}
	if !s.acceptSymbol(")") {
		arg, err := s.parseTerm()
		if err != nil {
			return nil, err
		}
		window.Arg = arg
		if s.acceptSymbol(",") {
			sizeTok, ok := s.next()
			if !ok || sizeTok.Type != TokenNumber {
				return nil, s.errorf("expected window size")
			}
			size, err := strconv.Atoi(sizeTok.Text)
			if err != nil || size <= 0 {
				return nil, &SyntaxError{Message: "invalid window size " + sizeTok.Text, Position: sizeTok.Pos}
			}
			window.Size = size
		}
		if err := s.expectSymbol(")"); err != nil {
			return nil, err
		}
	}
	if s.acceptKeyword("AS") {
		alias, ok := s.next()
		if !ok || alias.Type != TokenIdent {
			return nil, s.errorf("expected window alias")
		}
		window.Alias = alias.Text
	}
	if s.acceptKeyword("OVER") {
		if err := s.expectSymbol("("); err != nil {
			return nil, err
		}
		if s.acceptKeyword("PARTITION") {
			if err := s.expectKeyword("BY"); err != nil {
				return nil, err
			}
			for {
				expr, err := s.parseTerm()
				if err != nil {
					return nil, err
				}
				window.PartitionBy = append(window.PartitionBy, expr)
				if s.acceptSymbol(",") {
					continue
				}
				break
			}
		}
		if s.acceptKeyword("ORDER") {
			if err := s.expectKeyword("BY"); err != nil {
				return nil, err
			}
			terms, err := s.parseOrderTerms()
			if err != nil {
				return nil, err
			}
			window.OrderBy = terms
		}
		if err := s.expectSymbol(")"); err != nil {
			return nil, err
		}
	}
	return window, nil
}

// Expression precedence: OR < AND < NOT < comparison < unary minus < atom.

func (s *parseState) parseExpr() (Expr, error) {
	return s.parseOr()
}

func (s *parseState) parseOr() (Expr, error) {
	left, err := s.parseAnd()
	if err != nil {
		return nil, err
	}
	for s.acceptKeyword("OR") {
		right, err := s.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: OpOr, Left: left, Right: right}
	}
	return left, nil
}

func (s *parseState) parseAnd() (Expr, error) {
	left, err := s.parseNot()
	if err != nil {
		return nil, err
	}
	for {
		tok, ok := s.peek()
		if !ok || !keywordIs(tok, "AND") {
			return left, nil
		}
		s.pos++
		right, err := s.parseNot()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: OpAnd, Left: left, Right: right}
	}
}

func (s *parseState) parseNot() (Expr, error) {
	if s.acceptKeyword("NOT") {
		operand, err := s.parseNot()
		if err != nil {
			return nil, err
		}
		return &Unary{Op: OpNot, Operand: operand}, nil
	}
	return s.parseComparison()
}

var comparisonOps = map[string]BinaryOp{
	"=": OpEq, "!=": OpNe, ">": OpGt, ">=": OpGte, "<": OpLt, "<=": OpLte,
}

func (s *parseState) parseComparison() (Expr, error) {
	left, err := s.parseTerm()
	if err != nil {
		return nil, err
	}
	tok, ok := s.peek()
	if !ok {
		return left, nil
	}
	if tok.Type == TokenSymbol {
		if op, found := comparisonOps[tok.Text]; found {
			s.pos++
			right, err := s.parseTerm()
			if err != nil {
				return nil, err
			}
			return &Binary{Op: op, Left: left, Right: right}, nil
		}
		return left, nil
	}
	if tok.Type != TokenIdent {
		return left, nil
	}
	switch strings.ToUpper(tok.Text) {
	case "LIKE", "ILIKE", "CONTAINS":
		op := BinaryOp(strings.ToUpper(tok.Text))
		s.pos++
		right, err := s.parseTerm()
		if err != nil {
			return nil, err
		}
		return &Binary{Op: op, Left: left, Right: right}, nil
	case "NOT":
		// NOT BETWEEN / NOT IN
		s.pos++
		if s.acceptKeyword("BETWEEN") {
			return s.parseBetween(left, true)
		}
		if s.acceptKeyword("IN") {
			return s.parseIn(left, true)
		}
		return nil, s.errorf("expected BETWEEN or IN after NOT")
	case "BETWEEN":
		s.pos++
		return s.parseBetween(left, false)
	case "IN":
		s.pos++
		return s.parseIn(left, false)
	case "WAS", "CHANGED":
		return s.parseHistory(left)
	default:
		return left, nil
	}
}

func (s *parseState) parseBetween(target Expr, negated bool) (Expr, error) {
	lower, err := s.parseTerm()
	if err != nil {
		return nil, err
	}
	if err := s.expectKeyword("AND"); err != nil {
		return nil, err
	}
	upper, err := s.parseTerm()
	if err != nil {
		return nil, err
	}
	return &Between{Target: target, Lower: lower, Upper: upper, Negated: negated}, nil
}

func (s *parseState) parseIn(target Expr, negated bool) (Expr, error) {
	if err := s.expectSymbol("("); err != nil {
		return nil, err
	}
	in := &In{Target: target, Negated: negated}
	if s.acceptSymbol(")") {
		return in, nil
	}
	for {
		option, err := s.parseTerm()
		if err != nil {
			return nil, err
		}
		in.Options = append(in.Options, option)
		if s.acceptSymbol(",") {
			continue
		}
		break
	}
	if err := s.expectSymbol(")"); err != nil {
		return nil, err
	}
	return in, nil
}

// parseHistory handles field WAS <value>, field CHANGED BY <actor> and
// field CHANGED [SINCE <ts>] [UNTIL <ts>].
func (s *parseState) parseHistory(target Expr) (Expr, error) {
	ident, ok := target.(*Identifier)
	if !ok {
		return nil, s.errorf("history predicate requires a field identifier")
	}
	field := strings.Join(ident.Parts, ".")
	tok, _ := s.next()
	pred := &HistoryPredicate{Field: field}
	if strings.EqualFold(tok.Text, "WAS") {
		pred.Verb = VerbWas
		value, err := s.parseTerm()
		if err != nil {
			return nil, err
		}
		pred.Value = value
	} else {
		pred.Verb = VerbChanged
		if s.acceptKeyword("BY") {
			actor, ok := s.next()
			if !ok || (actor.Type != TokenIdent && actor.Type != TokenString) {
				return nil, s.errorf("expected actor")
			}
			pred.Verb = VerbChangedBy
			pred.Actor = actor.Text
		}
	}
	if s.acceptKeyword("SINCE") {
		at, err := s.parseTimestamp()
		if err != nil {
			return nil, err
		}
		pred.Since = at
	}
	if s.acceptKeyword("UNTIL") {
		at, err := s.parseTimestamp()
		if err != nil {
			return nil, err
		}
		pred.Until = at
	}
	return pred, nil
}

func (s *parseState) parseTimestamp() (*time.Time, error) {
	tok, ok := s.next()
	if !ok || tok.Type != TokenString {
		return nil, s.errorf("expected timestamp string")
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05Z", "2006-01-02"} {
		if at, err := time.Parse(layout, tok.Text); err == nil {
			at = at.UTC()
			return &at, nil
		}
	}
	return nil, &SyntaxError{Message: "invalid timestamp " + tok.Text, Position: tok.Pos}
}

func (s *parseState) parseTerm() (Expr, error) {
	tok, ok := s.peek()
	if !ok {
		return nil, s.errorf("unexpected end of input")
	}
	switch tok.Type {
	case TokenString:
		s.pos++
		return &Literal{Value: tok.Text}, nil
	case TokenNumber:
		s.pos++
		value, err := strconv.ParseFloat(tok.Text, 64)
		if err != nil {
			return nil, &SyntaxError{Message: "invalid number " + tok.Text, Position: tok.Pos}
		}
		return &Literal{Value: value}, nil
	case TokenSymbol:
		switch tok.Text {
		case "(":
			s.pos++
			inner, err := s.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := s.expectSymbol(")"); err != nil {
				return nil, err
			}
			return inner, nil
		case "-":
			s.pos++
			operand, err := s.parseTerm()
			if err != nil {
				return nil, err
			}
			return &Unary{Op: OpNegate, Operand: operand}, nil
		}
		return nil, s.errorf("unexpected symbol %s", tok.Text)
	case TokenIdent:
		switch strings.ToUpper(tok.Text) {
		case "TRUE":
			s.pos++
			return &Literal{Value: true}, nil
		case "FALSE":
			s.pos++
			return &Literal{Value: false}, nil
		case "NULL":
			s.pos++
			return &Literal{Value: nil}, nil
		}
		s.pos++
		// Function call when immediately followed by an open paren.
		if s.acceptSymbol("(") {
			call := &FunctionCall{Name: strings.ToLower(tok.Text)}
			if !s.acceptSymbol(")") {
				for {
					arg, err := s.parseTerm()
					if err != nil {
						return nil, err
					}
					call.Args = append(call.Args, arg)
					if s.acceptSymbol(",") {
						continue
					}
					break
				}
				if err := s.expectSymbol(")"); err != nil {
					return nil, err
				}
			}
			return call, nil
		}
		parts := []string{tok.Text}
		for s.acceptSymbol(".") {
			part, ok := s.next()
			if !ok || part.Type != TokenIdent {
				return nil, s.errorf("expected path segment")
			}
			parts = append(parts, part.Text)
		}
		return &Identifier{Parts: parts}, nil
	}
	return nil, s.errorf("unexpected token %s", tok.Text)
}
