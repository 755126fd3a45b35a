package spyql

// Node is the interface implemented by all AST nodes.
type Node interface {
	node()
}

// Logic joins two sub-queries.
type Logic string

const (
	And Logic = "AND"
	Or  Logic = "OR"
)

// BinaryExpr combines two expressions with AND or OR.
type BinaryExpr struct {
	Op    Logic
	Left  Node
	Right Node
}

func (BinaryExpr) node() {}

// Op is a field comparison.
type Op string

const (
	Eq       Op = "="
	Neq      Op = "!="
	Contains Op = "~"
)

// MatchExpr compares one field of a log row. An empty Key searches the
// whole raw line.
type MatchExpr struct {
	Key   string
	Value string
	Op    Op
}

func (MatchExpr) node() {}

// NotExpr negates its inner expression.
type NotExpr struct {
	Expr Node
}

func (NotExpr) node() {}
