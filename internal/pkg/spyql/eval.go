package spyql

import "strings"

// Row is a log row that can be matched. Field returns false for keys the
// row does not carry.
type Row interface {
	Field(key string) (string, bool)
	Line() string
}

// Match evaluates node against row. A nil node matches everything.
func Match(node Node, row Row) bool {
	switch n := node.(type) {
	case nil:
		return true
	case BinaryExpr:
		if n.Op == And {
			return Match(n.Left, row) && Match(n.Right, row)
		}
		return Match(n.Left, row) || Match(n.Right, row)
	case MatchExpr:
		return matchField(n, row)
	case NotExpr:
		return !Match(n.Expr, row)
	default:
		return false
	}
}

func matchField(expr MatchExpr, row Row) bool {
	if expr.Key == "" {
		return containsFold(row.Line(), expr.Value)
	}
	v, ok := row.Field(strings.ToLower(expr.Key))
	switch expr.Op {
	case Neq:
		return !ok || !strings.EqualFold(v, expr.Value)
	case Contains:
		return ok && containsFold(v, expr.Value)
	default:
		return ok && strings.EqualFold(v, expr.Value)
	}
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
