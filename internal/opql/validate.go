// File path: internal/opql/validate.go
package opql

import (
	"errors"
	"strings"
)

// ValidationResult is the structured outcome of a static well-formedness
// check. Failures are data, never errors: callers branch on Valid.
type ValidationResult struct {
	Valid    bool   `json:"valid"`
	Error    string `json:"error,omitempty"`
	Position int    `json:"position,omitempty"`
	Caret    string `json:"caret,omitempty"`
}

// Validate performs static checks on OPQL text without touching any
// repository: a known leading statement keyword, lexable input, and balanced
// parentheses. The caret renders the query with a pointer at the failing
// offset.
func Validate(text string) ValidationResult {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return invalid(text, "empty query", 0)
	}
	if !HasStatementKeyword(trimmed) {
		return invalid(text, "expected a statement keyword (FIND, COUNT, AGGREGATE, UPDATE, EXPLAIN)", 0)
	}
	tokens, err := Tokenize(text)
	if err != nil {
		var syntaxErr *SyntaxError
		if errors.As(err, &syntaxErr) {
			return invalid(text, syntaxErr.Message, syntaxErr.Position)
		}
		return invalid(text, err.Error(), 0)
	}
	depth := 0
	for _, tok := range tokens {
		if tok.Type != TokenSymbol {
			continue
		}
		switch tok.Text {
		case "(":
			depth++
		case ")":
			depth--
			if depth < 0 {
				return invalid(text, "unbalanced closing parenthesis", tok.Pos)
			}
		}
	}
	if depth > 0 {
		return invalid(text, "unbalanced opening parenthesis", len(text))
	}
	return ValidationResult{Valid: true}
}

func invalid(query, message string, position int) ValidationResult {
	if position < 0 {
		position = 0
	}
	if position > len(query) {
		position = len(query)
	}
	caret := query + "\n" + strings.Repeat(" ", position) + "^"
	return ValidationResult{Valid: false, Error: message, Position: position, Caret: caret}
}
