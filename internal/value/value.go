// Package value holds the closed set of runtime values that can cross an
// endpoint, and the encoder that renders them as replayable text.
package value

import (
	"fmt"
	"sort"

	"github.com/coffersTech/callspy/internal/model"
)

// Value is one runtime argument. The set of implementations is closed: every
// variant must implement encode, so a new variant that the encoder does not
// know how to render does not compile.
type Value interface {
	encode(e *Encoder, depth int) string
}

// Nil is the absent value.
type Nil struct{}

// Bool is a boolean.
type Bool bool

// Number is the host's only numeric type.
type Number float64

// String is a host string.
type String string

// Vector2 is a 2D point.
type Vector2 struct{ X, Y float64 }

// Vector3 is a 3D point.
type Vector3 struct{ X, Y, Z float64 }

// CFrame is a position plus a row-major 3x3 rotation.
type CFrame struct {
	X, Y, Z float64
	R       [9]float64
}

// IdentityCFrame places a pose at (x, y, z) with no rotation.
func IdentityCFrame(x, y, z float64) CFrame {
	return CFrame{X: x, Y: y, Z: z, R: [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}}
}

// Color3 is an RGB color with components in [0, 1].
type Color3 struct{ R, G, B float64 }

// UDim2 is a pair of relative transforms (scale, offset) per axis.
type UDim2 struct {
	XScale, XOffset float64
	YScale, YOffset float64
}

// NodeRef refers to a tree node. A nil or destroyed node renders as the
// destroyed marker.
type NodeRef struct {
	Node model.Node
}

// Field is one key/value pair of a Table.
type Field struct {
	Key   Value
	Value Value
}

// Table is a host container. Fields keep construction order; the encoder
// decides between list and pair rendering.
type Table struct {
	Fields []Field
}

// Opaque is anything the encoder cannot render structurally. Functions are
// opaque with Type "function".
type Opaque struct {
	Type string
	Text string
}

// Function is the opaque placeholder for a host closure.
func Function() Opaque {
	return Opaque{Type: "function"}
}

// List builds a densely 1-indexed table.
func List(vs ...Value) Table {
	t := Table{Fields: make([]Field, len(vs))}
	for i, v := range vs {
		t.Fields[i] = Field{Key: Number(i + 1), Value: v}
	}
	return t
}

// Map builds a string-keyed table with keys in sorted order.
func Map(m map[string]Value) Table {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	t := Table{Fields: make([]Field, 0, len(m))}
	for _, k := range keys {
		t.Fields = append(t.Fields, Field{Key: String(k), Value: m[k]})
	}
	return t
}

// Of converts a Go value into a Value. Unknown types become Opaque values
// tagged with their Go type name.
func Of(v any) Value {
	switch x := v.(type) {
	case nil:
		return Nil{}
	case Value:
		return x
	case model.Node:
		return NodeRef{Node: x}
	case bool:
		return Bool(x)
	case int:
		return Number(x)
	case int64:
		return Number(x)
	case float32:
		return Number(x)
	case float64:
		return Number(x)
	case string:
		return String(x)
	case []any:
		vs := make([]Value, len(x))
		for i, e := range x {
			vs[i] = Of(e)
		}
		return List(vs...)
	case map[string]any:
		m := make(map[string]Value, len(x))
		for k, e := range x {
			m[k] = Of(e)
		}
		return Map(m)
	case func():
		return Function()
	default:
		return Opaque{Type: fmt.Sprintf("%T", v), Text: fmt.Sprint(v)}
	}
}

// Values converts a slice of Go values.
func Values(vs ...any) []Value {
	out := make([]Value, len(vs))
	for i, v := range vs {
		out[i] = Of(v)
	}
	return out
}
