package argtext

import (
	"fmt"
	"math"
	"strconv"
)

// Markers the encoder writes for values that replay as nil.
const (
	destroyedMarker = "<destroyed>"
	functionMarker  = "<function>"
)

// Parser builds an argument list AST.
type Parser struct {
	lexer   *Lexer
	current Token
	peek    Token
}

// Parse parses a comma separated argument list. Empty text is an empty list.
func Parse(input string) ([]Expr, error) {
	p := &Parser{lexer: NewLexer(input)}
	p.advance()
	p.advance()

	var args []Expr
	if p.current.Type == TokenEOF {
		return args, nil
	}
	for {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		args = append(args, e)
		if p.current.Type != TokenComma {
			break
		}
		p.advance()
	}
	if p.current.Type != TokenEOF {
		return nil, p.unexpected()
	}
	return args, nil
}

func (p *Parser) advance() {
	p.current = p.peek
	p.peek = p.lexer.NextToken()
}

func (p *Parser) unexpected() error {
	switch p.current.Type {
	case TokenEOF:
		return fmt.Errorf("unexpected end of arguments")
	case TokenIllegal:
		return fmt.Errorf("at offset %d: %s", p.current.Pos, p.current.Value)
	}
	return fmt.Errorf("unexpected %q at offset %d", p.current.Value, p.current.Pos)
}

func (p *Parser) expect(t TokenType) error {
	if p.current.Type != t {
		return p.unexpected()
	}
	p.advance()
	return nil
}

func (p *Parser) parseExpr() (Expr, error) {
	tok := p.current
	switch tok.Type {
	case TokenNumber:
		p.advance()
		f, err := strconv.ParseFloat(tok.Value, 64)
		if err != nil {
			return nil, fmt.Errorf("bad number %q", tok.Value)
		}
		return NumberLit{Value: f}, nil

	case TokenMinus:
		p.advance()
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		n, ok := e.(NumberLit)
		if !ok {
			return nil, fmt.Errorf("cannot negate at offset %d", tok.Pos)
		}
		return NumberLit{Value: -n.Value}, nil

	case TokenString:
		p.advance()
		return StringLit{Value: tok.Value}, nil

	case TokenNodeRef:
		p.advance()
		return NodeLit{Class: tok.Class, Path: tok.Value}, nil

	case TokenPlaceholder:
		p.advance()
		if tok.Value == destroyedMarker || tok.Value == functionMarker {
			return NilLit{Marker: tok.Value}, nil
		}
		return OpaqueLit{Text: tok.Value}, nil

	case TokenLBrace:
		return p.parseTable()

	case TokenIdent:
		return p.parseIdent()
	}
	return nil, p.unexpected()
}

func (p *Parser) parseIdent() (Expr, error) {
	tok := p.current
	p.advance()
	switch tok.Value {
	case "nil":
		return NilLit{}, nil
	case "true":
		return BoolLit{Value: true}, nil
	case "false":
		return BoolLit{Value: false}, nil
	case "nan":
		return NumberLit{Value: math.NaN()}, nil
	case "math.huge":
		return NumberLit{Value: math.Inf(1)}, nil
	}
	if p.current.Type != TokenLParen {
		return nil, fmt.Errorf("unknown name %q at offset %d", tok.Value, tok.Pos)
	}
	p.advance()

	call := CallExpr{Callee: tok.Value}
	for p.current.Type != TokenRParen {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		call.Args = append(call.Args, e)
		if p.current.Type != TokenComma {
			break
		}
		p.advance()
	}
	if err := p.expect(TokenRParen); err != nil {
		return nil, err
	}
	return call, nil
}

func (p *Parser) parseTable() (Expr, error) {
	p.advance() // '{'
	if p.current.Type == TokenEllipsis {
		p.advance()
		if err := p.expect(TokenRBrace); err != nil {
			return nil, err
		}
		return TruncatedTable{}, nil
	}

	var t TableLit
	for p.current.Type != TokenRBrace {
		var f TableField
		switch {
		case p.current.Type == TokenLBracket:
			p.advance()
			k, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := p.expect(TokenRBracket); err != nil {
				return nil, err
			}
			if err := p.expect(TokenEquals); err != nil {
				return nil, err
			}
			f.Key = k
		case p.current.Type == TokenIdent && p.peek.Type == TokenEquals:
			f.Key = StringLit{Value: p.current.Value}
			p.advance()
			p.advance()
		}
		v, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		f.Value = v
		t.Fields = append(t.Fields, f)

		if p.current.Type != TokenComma && p.current.Type != TokenSemicolon {
			break
		}
		p.advance()
	}
	if err := p.expect(TokenRBrace); err != nil {
		return nil, err
	}
	return t, nil
}
