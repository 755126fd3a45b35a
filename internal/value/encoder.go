package value

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/coffersTech/callspy/internal/model"
)

const (
	// DefaultMaxDepth is the nesting bound past which tables are elided.
	DefaultMaxDepth = 4

	DestroyedMarker = "<destroyed>"
	FunctionMarker  = "<function>"
	Ellipsis        = "{...}"
)

// Encoder renders values as text reusable as replay argument text. It is
// pure and never fails.
type Encoder struct {
	MaxDepth int
}

// NewEncoder returns an encoder with the given depth bound; a non-positive
// bound selects DefaultMaxDepth.
func NewEncoder(maxDepth int) *Encoder {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Encoder{MaxDepth: maxDepth}
}

// Encode renders v as if it sat depth levels deep.
func (e *Encoder) Encode(v Value, depth int) string {
	if v == nil {
		return "nil"
	}
	return v.encode(e, depth)
}

// EncodeArgs renders a positional argument list.
func (e *Encoder) EncodeArgs(args []Value) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = e.Encode(a, 0)
	}
	return strings.Join(parts, ", ")
}

func (Nil) encode(*Encoder, int) string { return "nil" }

func (b Bool) encode(*Encoder, int) string {
	if b {
		return "true"
	}
	return "false"
}

func (n Number) encode(*Encoder, int) string { return FormatNumber(float64(n)) }

func (s String) encode(*Encoder, int) string { return Quote(string(s)) }

func (v Vector2) encode(*Encoder, int) string {
	return constructor("Vector2", v.X, v.Y)
}

func (v Vector3) encode(*Encoder, int) string {
	return constructor("Vector3", v.X, v.Y, v.Z)
}

func (c CFrame) encode(*Encoder, int) string {
	comps := append([]float64{c.X, c.Y, c.Z}, c.R[:]...)
	return constructor("CFrame", comps...)
}

func (c Color3) encode(*Encoder, int) string {
	return constructor("Color3", c.R, c.G, c.B)
}

func (u UDim2) encode(*Encoder, int) string {
	return constructor("UDim2", u.XScale, u.XOffset, u.YScale, u.YOffset)
}

func (r NodeRef) encode(*Encoder, int) string {
	if r.Node == nil || !r.Node.Alive() {
		return DestroyedMarker
	}
	return "[" + r.Node.ClassName() + "] " + model.FullName(r.Node)
}

func (o Opaque) encode(*Encoder, int) string {
	if o.Type == "function" {
		return FunctionMarker
	}
	if o.Text == "" {
		return "<" + flatten(o.Type) + ">"
	}
	return "<" + flatten(o.Type) + ": " + flatten(o.Text) + ">"
}

func (t Table) encode(e *Encoder, depth int) string {
	if depth >= e.MaxDepth {
		return Ellipsis
	}
	if len(t.Fields) == 0 {
		return "{}"
	}
	if list, ok := t.dense(); ok {
		parts := make([]string, len(list))
		for i, v := range list {
			parts[i] = e.Encode(v, depth+1)
		}
		return "{" + strings.Join(parts, ", ") + "}"
	}

	pairs := make([]string, 0, len(t.Fields))
	for _, f := range t.Fields {
		pairs = append(pairs, e.encodeKey(f.Key, depth)+" = "+e.Encode(f.Value, depth+1))
	}
	sort.Strings(pairs)
	return "{" + strings.Join(pairs, ", ") + "}"
}

// dense returns the values in index order when the keys are exactly 1..n.
func (t Table) dense() ([]Value, bool) {
	out := make([]Value, len(t.Fields))
	for _, f := range t.Fields {
		n, ok := f.Key.(Number)
		if !ok {
			return nil, false
		}
		i := int(n)
		if float64(i) != float64(n) || i < 1 || i > len(out) || out[i-1] != nil {
			return nil, false
		}
		out[i-1] = f.Value
	}
	for _, v := range out {
		if v == nil {
			return nil, false
		}
	}
	return out, true
}

func (e *Encoder) encodeKey(k Value, depth int) string {
	if s, ok := k.(String); ok && isIdent(string(s)) {
		return string(s)
	}
	return "[" + e.Encode(k, depth+1) + "]"
}

// FormatNumber prints integral values without a fraction and everything else
// with three decimals.
func FormatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "math.huge"
	case math.IsInf(f, -1):
		return "-math.huge"
	case f == math.Trunc(f):
		return strconv.FormatFloat(f, 'f', 0, 64)
	default:
		return strconv.FormatFloat(f, 'f', 3, 64)
	}
}

func constructor(name string, comps ...float64) string {
	parts := make([]string, len(comps))
	for i, c := range comps {
		parts[i] = FormatNumber(c)
	}
	return name + ".new(" + strings.Join(parts, ", ") + ")"
}

var keywords = map[string]bool{
	"and": true, "break": true, "do": true, "else": true, "elseif": true,
	"end": true, "false": true, "for": true, "function": true, "if": true,
	"in": true, "local": true, "nil": true, "not": true, "or": true,
	"repeat": true, "return": true, "then": true, "true": true, "until": true,
	"while": true,
}

func isIdent(s string) bool {
	if s == "" || keywords[s] {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}
