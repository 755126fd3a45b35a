package argtext

// Expr is a node in the argument AST.
type Expr interface {
	expr()
}

// NilLit is nil, or a marker that replays as nil.
type NilLit struct {
	Marker string // "<destroyed>" or "<function>" when it came from one
}

func (NilLit) expr() {}

// BoolLit is true or false.
type BoolLit struct {
	Value bool
}

func (BoolLit) expr() {}

// NumberLit is a number, including nan and math.huge.
type NumberLit struct {
	Value float64
}

func (NumberLit) expr() {}

// StringLit is a quoted string.
type StringLit struct {
	Value string
}

func (StringLit) expr() {}

// CallExpr is a constructor call or resolve("path").
type CallExpr struct {
	Callee string
	Args   []Expr
}

func (CallExpr) expr() {}

// TableField is one table entry. Key is nil for positional entries.
type TableField struct {
	Key   Expr
	Value Expr
}

// TableLit is a table constructor.
type TableLit struct {
	Fields []TableField
}

func (TableLit) expr() {}

// TruncatedTable is a table the encoder cut off at its depth bound.
type TruncatedTable struct{}

func (TruncatedTable) expr() {}

// NodeLit is an encoded node reference, [Class] path.
type NodeLit struct {
	Class string
	Path  string
}

func (NodeLit) expr() {}

// OpaqueLit is a value the encoder could not render, <Type: text>.
type OpaqueLit struct {
	Text string
}

func (OpaqueLit) expr() {}
