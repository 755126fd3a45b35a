package spyql

import (
	"strconv"
	"strings"
	"unicode"
)

// TokenType represents the type of a lexical token.
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenIdent
	TokenString
	TokenColon
	TokenTilde
	TokenLParen
	TokenRParen
	TokenAnd
	TokenOr
	TokenNot
	TokenNeq
)

// Token is one lexical token.
type Token struct {
	Type  TokenType
	Value string
}

// Lexer tokenizes query input.
type Lexer struct {
	input string
	pos   int
}

// NewLexer creates a Lexer over input.
func NewLexer(input string) *Lexer {
	return &Lexer{input: input}
}

// NextToken returns the next token.
func (l *Lexer) NextToken() Token {
	for l.pos < len(l.input) && unicode.IsSpace(rune(l.input[l.pos])) {
		l.pos++
	}
	if l.pos >= len(l.input) {
		return Token{Type: TokenEOF}
	}

	switch ch := l.input[l.pos]; ch {
	case ':':
		l.pos++
		return Token{Type: TokenColon, Value: ":"}
	case '~':
		l.pos++
		return Token{Type: TokenTilde, Value: "~"}
	case '(':
		l.pos++
		return Token{Type: TokenLParen, Value: "("}
	case ')':
		l.pos++
		return Token{Type: TokenRParen, Value: ")"}
	case '!':
		if l.pos+1 < len(l.input) && l.input[l.pos+1] == '=' {
			l.pos += 2
			return Token{Type: TokenNeq, Value: "!="}
		}
	case '"':
		return l.readString()
	}

	if isIdentChar(l.input[l.pos]) {
		return l.readIdent()
	}
	// Stray punctuation is skipped.
	l.pos++
	return l.NextToken()
}

func (l *Lexer) readString() Token {
	start := l.pos
	l.pos++
	for l.pos < len(l.input) && l.input[l.pos] != '"' {
		if l.input[l.pos] == '\\' && l.pos+1 < len(l.input) {
			l.pos++
		}
		l.pos++
	}
	if l.pos < len(l.input) {
		l.pos++
	}
	raw := l.input[start:l.pos]
	if s, err := strconv.Unquote(raw); err == nil {
		return Token{Type: TokenString, Value: s}
	}
	return Token{Type: TokenString, Value: strings.Trim(raw, `"`)}
}

func (l *Lexer) readIdent() Token {
	start := l.pos
	for l.pos < len(l.input) && isIdentChar(l.input[l.pos]) {
		l.pos++
	}
	value := l.input[start:l.pos]

	switch strings.ToUpper(value) {
	case "AND":
		return Token{Type: TokenAnd, Value: "AND"}
	case "OR":
		return Token{Type: TokenOr, Value: "OR"}
	case "NOT":
		return Token{Type: TokenNot, Value: "NOT"}
	}
	return Token{Type: TokenIdent, Value: value}
}

// Identifiers cover dotted paths and bracket-free class names.
func isIdentChar(ch byte) bool {
	r := rune(ch)
	return unicode.IsLetter(r) || unicode.IsDigit(r) || ch == '_' || ch == '-' || ch == '.'
}
