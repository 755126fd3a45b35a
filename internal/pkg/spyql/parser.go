package spyql

import "fmt"

// Parser turns a query into an AST.
type Parser struct {
	lexer   *Lexer
	current Token
}

// Parse parses input. An empty query yields a nil node, which matches
// everything.
func Parse(input string) (Node, error) {
	if input == "" {
		return nil, nil
	}
	p := &Parser{lexer: NewLexer(input)}
	p.advance()
	n, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.current.Type != TokenEOF {
		return nil, fmt.Errorf("unexpected %q after expression", p.current.Value)
	}
	return n, nil
}

func (p *Parser) advance() {
	p.current = p.lexer.NextToken()
}

func (p *Parser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.current.Type == TokenOr {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: Or, Left: left, Right: right}
	}
	return left, nil
}

// parseAnd also accepts juxtaposition: "a b" means "a AND b".
func (p *Parser) parseAnd() (Node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for {
		switch p.current.Type {
		case TokenAnd:
			p.advance()
		case TokenIdent, TokenString, TokenNot, TokenLParen:
		default:
			return left, nil
		}
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: And, Left: left, Right: right}
	}
}

func (p *Parser) parseNot() (Node, error) {
	if p.current.Type == TokenNot {
		p.advance()
		expr, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return NotExpr{Expr: expr}, nil
	}
	return p.parsePrimary()
}

func (p *Parser) parsePrimary() (Node, error) {
	switch p.current.Type {
	case TokenLParen:
		p.advance()
		expr, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.current.Type != TokenRParen {
			return nil, fmt.Errorf("expected ')' but got %q", p.current.Value)
		}
		p.advance()
		return expr, nil

	case TokenString:
		v := p.current.Value
		p.advance()
		return MatchExpr{Value: v, Op: Contains}, nil

	case TokenIdent:
		key := p.current.Value
		p.advance()
		switch p.current.Type {
		case TokenColon:
			p.advance()
			return p.parseValue(key, Eq)
		case TokenNeq:
			p.advance()
			return p.parseValue(key, Neq)
		case TokenTilde:
			p.advance()
			return p.parseValue(key, Contains)
		}
		return MatchExpr{Value: key, Op: Contains}, nil

	case TokenEOF:
		return nil, fmt.Errorf("unexpected end of query")

	default:
		return nil, fmt.Errorf("unexpected token %q", p.current.Value)
	}
}

func (p *Parser) parseValue(key string, op Op) (Node, error) {
	switch p.current.Type {
	case TokenString, TokenIdent:
		v := p.current.Value
		p.advance()
		return MatchExpr{Key: key, Value: v, Op: op}, nil
	}
	return nil, fmt.Errorf("expected value after %s%s", key, op)
}
