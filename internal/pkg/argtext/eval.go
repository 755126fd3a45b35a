package argtext

import (
	"errors"
	"fmt"

	"github.com/coffersTech/callspy/internal/model"
	"github.com/coffersTech/callspy/internal/value"
)

var (
	// ErrNotAllowed is returned for a call to anything but resolve or a
	// value constructor.
	ErrNotAllowed = errors.New("call not allowed")
	// ErrOpaque is returned for a value the encoder could not render.
	ErrOpaque = errors.New("value cannot be reconstructed")
	// ErrTruncated is returned for a table cut off at the depth bound.
	ErrTruncated = errors.New("table was truncated when logged")
)

// ResolveFunc maps a dotted path to a live node. It is the only function
// argument text may call.
type ResolveFunc func(path string) (model.Node, error)

// Eval turns parsed arguments into values.
func Eval(args []Expr, resolve ResolveFunc) ([]value.Value, error) {
	out := make([]value.Value, len(args))
	for i, a := range args {
		v, err := evalExpr(a, resolve)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i+1, err)
		}
		out[i] = v
	}
	return out, nil
}

// EvalText parses and evaluates argument text in one step.
func EvalText(text string, resolve ResolveFunc) ([]value.Value, error) {
	args, err := Parse(text)
	if err != nil {
		return nil, err
	}
	return Eval(args, resolve)
}

func evalExpr(e Expr, resolve ResolveFunc) (value.Value, error) {
	switch x := e.(type) {
	case NilLit:
		return value.Nil{}, nil
	case BoolLit:
		return value.Bool(x.Value), nil
	case NumberLit:
		return value.Number(x.Value), nil
	case StringLit:
		return value.String(x.Value), nil
	case NodeLit:
		return resolveNode(x.Path, resolve)
	case OpaqueLit:
		return nil, fmt.Errorf("%w: %s", ErrOpaque, x.Text)
	case TruncatedTable:
		return nil, ErrTruncated
	case TableLit:
		return evalTable(x, resolve)
	case CallExpr:
		return evalCall(x, resolve)
	}
	return nil, fmt.Errorf("unsupported expression %T", e)
}

func resolveNode(path string, resolve ResolveFunc) (value.Value, error) {
	if resolve == nil {
		return nil, fmt.Errorf("%w: resolve", ErrNotAllowed)
	}
	n, err := resolve(path)
	if err != nil {
		return nil, err
	}
	return value.NodeRef{Node: n}, nil
}

func evalTable(t TableLit, resolve ResolveFunc) (value.Value, error) {
	var out value.Table
	next := 1
	for _, f := range t.Fields {
		v, err := evalExpr(f.Value, resolve)
		if err != nil {
			return nil, err
		}
		var k value.Value
		if f.Key == nil {
			k = value.Number(next)
			next++
		} else if k, err = evalExpr(f.Key, resolve); err != nil {
			return nil, err
		}
		out.Fields = append(out.Fields, value.Field{Key: k, Value: v})
	}
	return out, nil
}

func evalCall(c CallExpr, resolve ResolveFunc) (value.Value, error) {
	if c.Callee == "resolve" {
		if len(c.Args) != 1 {
			return nil, fmt.Errorf("resolve takes one path, got %d arguments", len(c.Args))
		}
		s, ok := c.Args[0].(StringLit)
		if !ok {
			return nil, fmt.Errorf("resolve takes a string path")
		}
		return resolveNode(s.Value, resolve)
	}

	want, ok := constructors[c.Callee]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotAllowed, c.Callee)
	}
	nums := make([]float64, 0, len(c.Args))
	for _, a := range c.Args {
		n, ok := a.(NumberLit)
		if !ok {
			return nil, fmt.Errorf("%s takes numbers", c.Callee)
		}
		nums = append(nums, n.Value)
	}
	if !want(len(nums)) {
		return nil, fmt.Errorf("%s: wrong number of components (%d)", c.Callee, len(nums))
	}
	// Omitted trailing components default to zero.
	comp := func(i int) float64 {
		if i < len(nums) {
			return nums[i]
		}
		return 0
	}

	switch c.Callee {
	case "Vector2.new":
		return value.Vector2{X: comp(0), Y: comp(1)}, nil
	case "Vector3.new":
		return value.Vector3{X: comp(0), Y: comp(1), Z: comp(2)}, nil
	case "Color3.new":
		return value.Color3{R: comp(0), G: comp(1), B: comp(2)}, nil
	case "UDim2.new":
		return value.UDim2{XScale: comp(0), XOffset: comp(1), YScale: comp(2), YOffset: comp(3)}, nil
	default: // CFrame.new
		cf := value.IdentityCFrame(comp(0), comp(1), comp(2))
		if len(nums) == 12 {
			copy(cf.R[:], nums[3:])
		}
		return cf, nil
	}
}

var constructors = map[string]func(n int) bool{
	"Vector2.new": func(n int) bool { return n <= 2 },
	"Vector3.new": func(n int) bool { return n <= 3 },
	"Color3.new":  func(n int) bool { return n <= 3 },
	"UDim2.new":   func(n int) bool { return n <= 4 },
	"CFrame.new":  func(n int) bool { return n <= 3 || n == 12 },
}
