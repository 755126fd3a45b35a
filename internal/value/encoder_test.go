package value

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coffersTech/callspy/internal/model"
)

type testNode struct {
	name, class string
	parent      *testNode
	dead        bool
}

func (n *testNode) Name() string      { return n.name }
func (n *testNode) ClassName() string { return n.class }
func (n *testNode) Alive() bool       { return !n.dead }
func (n *testNode) Parent() model.Node {
	if n.parent == nil {
		return nil
	}
	return n.parent
}

func TestEncodeScalars(t *testing.T) {
	e := NewEncoder(0)
	tests := []struct {
		name string
		in   Value
		want string
	}{
		{"go nil", nil, "nil"},
		{"nil", Nil{}, "nil"},
		{"true", Bool(true), "true"},
		{"false", Bool(false), "false"},
		{"integral", Number(42), "42"},
		{"negative integral", Number(-7), "-7"},
		{"fraction", Number(1.5), "1.500"},
		{"rounded fraction", Number(2.0 / 3.0), "0.667"},
		{"nan", Number(math.NaN()), "nan"},
		{"inf", Number(math.Inf(1)), "math.huge"},
		{"string", String("x"), `"x"`},
		{"escaped string", String("a\"b\n"), `"a\"b\n"`},
		{"vector3", Vector3{1, 2.5, -3}, "Vector3.new(1, 2.500, -3)"},
		{"vector2", Vector2{0, 1}, "Vector2.new(0, 1)"},
		{"color3", Color3{1, 0, 0.5}, "Color3.new(1, 0, 0.500)"},
		{"udim2", UDim2{0.5, 10, 1, 0}, "UDim2.new(0.500, 10, 1, 0)"},
		{"cframe", IdentityCFrame(1, 2, 3), "CFrame.new(1, 2, 3, 1, 0, 0, 0, 1, 0, 0, 0, 1)"},
		{"function", Function(), FunctionMarker},
		{"opaque", Opaque{Type: "Ray", Text: "r"}, "<Ray: r>"},
		{"multi-line opaque", Opaque{Type: "Err", Text: "line1\nline2\r"}, `<Err: line1\nline2\r>`},
		{"zero width string", String("a\u200bb"), `"a\u{200b}b"`},
		{"control string", String("\x00\x7f"), `"\x00\x7f"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, e.Encode(tt.in, 0))
		})
	}
}

func TestEncodeNodeRef(t *testing.T) {
	root := &testNode{name: "game", class: model.RootClass}
	ws := &testNode{name: "Workspace", class: "Workspace", parent: root}
	part := &testNode{name: "Part", class: "Part", parent: ws}

	e := NewEncoder(0)
	assert.Equal(t, "[Part] Workspace.Part", e.Encode(NodeRef{Node: part}, 0))

	part.dead = true
	assert.Equal(t, DestroyedMarker, e.Encode(NodeRef{Node: part}, 0))
	assert.Equal(t, DestroyedMarker, e.Encode(NodeRef{}, 0))
}

func TestEncodeTables(t *testing.T) {
	e := NewEncoder(0)
	assert.Equal(t, "{}", e.Encode(Table{}, 0))
	assert.Equal(t, `{1, "two", true}`, e.Encode(List(Number(1), String("two"), Bool(true)), 0))

	m := Map(map[string]Value{"b": Number(2), "a": Number(1), "with space": Bool(false)})
	assert.Equal(t, `{["with space"] = false, a = 1, b = 2}`, e.Encode(m, 0))

	// Keys 1 and 3 are not dense.
	sparse := Table{Fields: []Field{{Key: Number(1), Value: String("a")}, {Key: Number(3), Value: String("c")}}}
	assert.Equal(t, `{[1] = "a", [3] = "c"}`, e.Encode(sparse, 0))

	// Out-of-order dense keys still render positionally.
	shuffled := Table{Fields: []Field{{Key: Number(2), Value: Number(20)}, {Key: Number(1), Value: Number(10)}}}
	assert.Equal(t, "{10, 20}", e.Encode(shuffled, 0))
}

func nested(levels int) Value {
	var v Value = Number(1)
	for i := 0; i < levels; i++ {
		v = List(v)
	}
	return v
}

func TestDepthTruncation(t *testing.T) {
	e := NewEncoder(4)
	assert.Equal(t, "{{{{{...}}}}}", e.Encode(nested(5), 0))
	assert.Equal(t, "{{{{1}}}}", e.Encode(nested(4), 0))
	assert.Equal(t, Ellipsis, e.Encode(nested(1), 4))
}

func TestEncodeDeterministic(t *testing.T) {
	e := NewEncoder(0)
	v := Of(map[string]any{"k": []any{1, "x", 2.25}, "n": nil, "f": func() {}})
	first := e.Encode(v, 0)
	for i := 0; i < 10; i++ {
		require.Equal(t, first, e.Encode(v, 0))
	}
	assert.Equal(t, `{f = <function>, k = {1, "x", 2.250}, n = nil}`, first)
}

func TestOfFallsBackToOpaque(t *testing.T) {
	type custom struct{ A int }
	got := NewEncoder(0).Encode(Of(custom{A: 3}), 0)
	assert.Equal(t, "<value.custom: {3}>", got)
}

func TestEncodeArgs(t *testing.T) {
	e := NewEncoder(0)
	assert.Equal(t, `1, "x"`, e.EncodeArgs(Values(1, "x")))
	assert.Equal(t, "", e.EncodeArgs(nil))
}
