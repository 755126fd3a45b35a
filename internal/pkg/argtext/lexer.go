// Package argtext reads the argument text of a log line back into values.
// The grammar is the one the value encoder writes: literals, constructor
// calls, tables, node references and placeholder markers.
package argtext

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/coffersTech/callspy/internal/value"
)

// TokenType represents the type of a lexical token.
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenIllegal
	TokenIdent // nil, true, math.huge, Vector3.new, table keys
	TokenNumber
	TokenString
	TokenNodeRef     // [Class] dotted.path
	TokenPlaceholder // <destroyed>, <function>, <Type: text>
	TokenEllipsis    // ... inside a truncated table
	TokenComma
	TokenSemicolon
	TokenLParen
	TokenRParen
	TokenLBrace
	TokenRBrace
	TokenLBracket
	TokenRBracket
	TokenEquals
	TokenMinus
)

// Token represents a lexical token. Pos and End delimit its source text.
type Token struct {
	Type  TokenType
	Value string
	Class string // TokenNodeRef only
	Pos   int
	End   int
}

// Lexer tokenizes argument text.
type Lexer struct {
	input string
	pos   int
}

// NewLexer creates a new Lexer for the given input.
func NewLexer(input string) *Lexer {
	return &Lexer{input: input}
}

// A node reference opens with a bracketed class name followed by a space
// and anything other than the '=' of a bracketed table key.
var nodeRefStart = regexp.MustCompile(`^\[(\w+)\] +[^=\s]`)

// NextToken returns the next token from the input.
func (l *Lexer) NextToken() Token {
	l.skipSpaceAndComments()
	start := l.pos
	if l.pos >= len(l.input) {
		return Token{Type: TokenEOF, Pos: start, End: start}
	}

	single := func(t TokenType) Token {
		l.pos++
		return Token{Type: t, Value: l.input[start:l.pos], Pos: start, End: l.pos}
	}

	switch ch := l.input[l.pos]; ch {
	case ',':
		return single(TokenComma)
	case ';':
		return single(TokenSemicolon)
	case '(':
		return single(TokenLParen)
	case ')':
		return single(TokenRParen)
	case '{':
		return single(TokenLBrace)
	case '}':
		return single(TokenRBrace)
	case ']':
		return single(TokenRBracket)
	case '=':
		return single(TokenEquals)
	case '-':
		return single(TokenMinus)
	case '[':
		if m := nodeRefStart.FindStringSubmatch(l.input[l.pos:]); m != nil {
			return l.readNodeRef(m[1])
		}
		return single(TokenLBracket)
	case '<':
		return l.readPlaceholder()
	case '"', '\'':
		return l.readString(ch)
	case '.':
		if strings.HasPrefix(l.input[l.pos:], "...") {
			l.pos += 3
			return Token{Type: TokenEllipsis, Value: "...", Pos: start, End: l.pos}
		}
	}

	ch := l.input[l.pos]
	if isDigit(ch) || (ch == '.' && l.pos+1 < len(l.input) && isDigit(l.input[l.pos+1])) {
		return l.readNumber()
	}
	if isIdentStart(ch) {
		return l.readIdent()
	}
	l.pos++
	return Token{Type: TokenIllegal, Value: l.input[start:l.pos], Pos: start, End: l.pos}
}

// skipSpaceAndComments also skips "--[[ ... ]]" block comments and "--"
// line comments, which rewritten text may carry.
func (l *Lexer) skipSpaceAndComments() {
	for l.pos < len(l.input) {
		switch {
		case unicode.IsSpace(rune(l.input[l.pos])):
			l.pos++
		case strings.HasPrefix(l.input[l.pos:], "--[["):
			end := strings.Index(l.input[l.pos+4:], "]]")
			if end < 0 {
				l.pos = len(l.input)
				return
			}
			l.pos += 4 + end + 2
		case strings.HasPrefix(l.input[l.pos:], "--"):
			end := strings.IndexByte(l.input[l.pos:], '\n')
			if end < 0 {
				l.pos = len(l.input)
				return
			}
			l.pos += end
		default:
			return
		}
	}
}

// readNodeRef consumes "[Class] path". The path runs to the next
// delimiter that cannot appear in an encoded path.
func (l *Lexer) readNodeRef(class string) Token {
	start := l.pos
	l.pos += len(class) + 2 // "[" class "]"
	for l.pos < len(l.input) && l.input[l.pos] == ' ' {
		l.pos++
	}
	pathStart := l.pos
	for l.pos < len(l.input) && !strings.ContainsRune(",})]", rune(l.input[l.pos])) {
		l.pos++
	}
	path := strings.TrimRight(l.input[pathStart:l.pos], " ")
	end := pathStart + len(path)
	l.pos = end
	return Token{Type: TokenNodeRef, Value: path, Class: class, Pos: start, End: end}
}

func (l *Lexer) readPlaceholder() Token {
	start := l.pos
	depth := 0
	for l.pos < len(l.input) {
		switch l.input[l.pos] {
		case '<':
			depth++
		case '>':
			depth--
		}
		l.pos++
		if depth == 0 {
			return Token{Type: TokenPlaceholder, Value: l.input[start:l.pos], Pos: start, End: l.pos}
		}
	}
	return Token{Type: TokenIllegal, Value: "unterminated placeholder", Pos: start, End: l.pos}
}

func (l *Lexer) readString(quote byte) Token {
	start := l.pos
	l.pos++ // opening quote
	for l.pos < len(l.input) {
		switch l.input[l.pos] {
		case '\\':
			l.pos += 2
			continue
		case quote:
			l.pos++
			raw := l.input[start:l.pos]
			s, err := value.Unquote(raw)
			if err != nil {
				return Token{Type: TokenIllegal, Value: "invalid string " + raw, Pos: start, End: l.pos}
			}
			return Token{Type: TokenString, Value: s, Pos: start, End: l.pos}
		}
		l.pos++
	}
	l.pos = len(l.input)
	return Token{Type: TokenIllegal, Value: "unterminated string", Pos: start, End: l.pos}
}

func (l *Lexer) readNumber() Token {
	start := l.pos
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		if isDigit(ch) || ch == '.' {
			l.pos++
			continue
		}
		if (ch == 'e' || ch == 'E') && l.pos+1 < len(l.input) {
			l.pos++
			if next := l.input[l.pos]; next == '+' || next == '-' {
				l.pos++
			}
			continue
		}
		break
	}
	return Token{Type: TokenNumber, Value: l.input[start:l.pos], Pos: start, End: l.pos}
}

// readIdent reads a dotted identifier such as math.huge or Vector3.new.
func (l *Lexer) readIdent() Token {
	start := l.pos
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		if isIdentStart(ch) || isDigit(ch) {
			l.pos++
			continue
		}
		if ch == '.' && l.pos+1 < len(l.input) && isIdentStart(l.input[l.pos+1]) {
			l.pos++
			continue
		}
		break
	}
	return Token{Type: TokenIdent, Value: l.input[start:l.pos], Pos: start, End: l.pos}
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isIdentStart(ch byte) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}
