// File path: internal/opql/token.go
package opql

import (
	"fmt"
	"strings"
	"unicode"
)

// TokenType classifies lexed OPQL tokens.
type TokenType string

const (
	TokenIdent  TokenType = "ident"
	TokenString TokenType = "string"
	TokenNumber TokenType = "number"
	TokenSymbol TokenType = "symbol"
)

// Token is one lexed unit with its byte offset in the source text.
type Token struct {
	Type TokenType `json:"type"`
	Text string    `json:"text"`
	Pos  int       `json:"pos"`
}

var statementKeywords = []string{"FIND", "COUNT", "AGGREGATE", "UPDATE", "EXPLAIN"}

// HasStatementKeyword reports whether text begins with an OPQL statement
// keyword. The router uses it to decide whether free text should be treated
// as a query.
func HasStatementKeyword(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	upper := strings.ToUpper(trimmed)
	for _, kw := range statementKeywords {
		if upper == kw || strings.HasPrefix(upper, kw+" ") {
			return true
		}
	}
	return false
}

// Tokenize lexes OPQL text. It is shared by the reference parser, the static
// validator and explain output.
func Tokenize(input string) ([]Token, error) {
	var tokens []Token
	i := 0
	for i < len(input) {
		c := input[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '"' || c == '\'':
			quote := c
			j := i + 1
			var b strings.Builder
			closed := false
			for j < len(input) {
				if input[j] == '\\' && j+1 < len(input) {
					b.WriteByte(input[j+1])
					j += 2
					continue
				}
				if input[j] == quote {
					closed = true
					break
				}
				b.WriteByte(input[j])
				j++
			}
			if !closed {
				return tokens, &SyntaxError{Message: "unterminated string literal", Position: i}
			}
			tokens = append(tokens, Token{Type: TokenString, Text: b.String(), Pos: i})
			i = j + 1
		case c >= '0' && c <= '9':
			j := i
			for j < len(input) && (input[j] >= '0' && input[j] <= '9' || input[j] == '.') {
				j++
			}
			tokens = append(tokens, Token{Type: TokenNumber, Text: input[i:j], Pos: i})
			i = j
		case isIdentStart(rune(c)):
			j := i
			for j < len(input) && isIdentPart(rune(input[j])) {
				j++
			}
			tokens = append(tokens, Token{Type: TokenIdent, Text: input[i:j], Pos: i})
			i = j
		case c == '!' || c == '>' || c == '<':
			if i+1 < len(input) && input[i+1] == '=' {
				tokens = append(tokens, Token{Type: TokenSymbol, Text: input[i : i+2], Pos: i})
				i += 2
			} else {
				tokens = append(tokens, Token{Type: TokenSymbol, Text: string(c), Pos: i})
				i++
			}
		case strings.ContainsRune("=(),.*-+", rune(c)):
			tokens = append(tokens, Token{Type: TokenSymbol, Text: string(c), Pos: i})
			i++
		default:
			return tokens, &SyntaxError{Message: fmt.Sprintf("unexpected character %q", c), Position: i}
		}
	}
	return tokens, nil
}

// SyntaxError reports a lexical or grammatical problem with its byte offset.
type SyntaxError struct {
	Message  string
	Position int
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%s at position %d", e.Message, e.Position)
}

func isIdentStart(r rune) bool {
	return unicode.IsLetter(r) || r == '_'
}

func isIdentPart(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}
