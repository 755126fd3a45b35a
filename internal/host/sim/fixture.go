package sim

import (
	"fmt"
	"os"

	"github.com/valyala/fastjson"

	"github.com/coffersTech/callspy/internal/model"
	"github.com/coffersTech/callspy/internal/value"
)

// ScriptedCall is one call a fixture plays against the world.
type ScriptedCall struct {
	Target *Node
	Method model.Method
	Args   []value.Value
}

// Fixture is a world built from JSON plus the calls to play on it.
type Fixture struct {
	World   *World
	Calls   []ScriptedCall
	Inbound []ScriptedCall
}

// LoadFixture reads a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseFixture(data)
}

// ParseFixture builds a world from a JSON document:
//
//	{
//	  "capabilities": "all" | "weakest" | ["child-lookup", ...],
//	  "tree": [{"name": "Remotes", "class": "Folder", "children": [...]}],
//	  "actors": [{"name": "Alice", "local": true}],
//	  "calls": [{"path": "ReplicatedStorage.Buy", "method": "FireServer", "args": [1, "x"]}],
//	  "inbound": [{"path": "ReplicatedStorage.Chat", "args": ["hi"]}]
//	}
//
// Tree entries without a parent attach to ReplicatedStorage unless their
// name is a service, in which case they extend that service. Argument
// objects with a single "$vector3", "$vector2", "$color3", "$node" or
// "$function" key become the matching host value.
func ParseFixture(data []byte) (*Fixture, error) {
	var p fastjson.Parser
	doc, err := p.ParseBytes(data)
	if err != nil {
		return nil, fmt.Errorf("parse fixture: %w", err)
	}

	caps, err := parseCapabilities(doc.Get("capabilities"))
	if err != nil {
		return nil, err
	}
	w := New(caps...)

	for _, n := range doc.GetArray("tree") {
		name := string(n.GetStringBytes("name"))
		parent := w.Service("ReplicatedStorage")
		if svc := w.Service(name); svc != nil {
			if err := addChildren(w, svc, n.GetArray("children")); err != nil {
				return nil, err
			}
			continue
		}
		if err := addNode(w, parent, n); err != nil {
			return nil, err
		}
	}

	for _, a := range doc.GetArray("actors") {
		w.AddActor(string(a.GetStringBytes("name")), a.GetBool("local"))
	}

	f := &Fixture{World: w}
	if f.Calls, err = parseCalls(w, doc.GetArray("calls"), false); err != nil {
		return nil, err
	}
	if f.Inbound, err = parseCalls(w, doc.GetArray("inbound"), true); err != nil {
		return nil, err
	}
	return f, nil
}

// Play performs the scripted outbound calls, then delivers the inbound ones.
func (f *Fixture) Play() []error {
	var errs []error
	for _, c := range f.Calls {
		if _, err := f.World.Call(c.Target, c.Method, c.Args...); err != nil {
			errs = append(errs, fmt.Errorf("%s:%s: %w", model.FullName(c.Target), c.Method, err))
		}
	}
	for _, c := range f.Inbound {
		f.World.Deliver(c.Target, c.Args...)
	}
	return errs
}

func parseCapabilities(v *fastjson.Value) ([]Capability, error) {
	if v == nil {
		return AllCapabilities(), nil
	}
	if v.Type() == fastjson.TypeString {
		switch s := string(v.GetStringBytes()); s {
		case "all":
			return AllCapabilities(), nil
		case "weakest":
			return WeakestTier(), nil
		default:
			return nil, fmt.Errorf("unknown capability preset %q", s)
		}
	}
	arr, err := v.Array()
	if err != nil {
		return nil, fmt.Errorf("capabilities: %w", err)
	}
	caps := make([]Capability, 0, len(arr))
	for _, c := range arr {
		caps = append(caps, Capability(c.GetStringBytes()))
	}
	return caps, nil
}

func addChildren(w *World, parent *Node, children []*fastjson.Value) error {
	for _, c := range children {
		if err := addNode(w, parent, c); err != nil {
			return err
		}
	}
	return nil
}

func addNode(w *World, parent *Node, v *fastjson.Value) error {
	name := string(v.GetStringBytes("name"))
	if name == "" {
		return fmt.Errorf("tree node under %s has no name", model.FullName(parent))
	}
	class := string(v.GetStringBytes("class"))
	if class == "" {
		class = "Folder"
	}
	n := w.Add(parent, name, class)
	return addChildren(w, n, v.GetArray("children"))
}

func parseCalls(w *World, vs []*fastjson.Value, inbound bool) ([]ScriptedCall, error) {
	out := make([]ScriptedCall, 0, len(vs))
	for _, v := range vs {
		path := string(v.GetStringBytes("path"))
		target := w.Lookup(path)
		if target == nil {
			return nil, fmt.Errorf("call target %q not in tree", path)
		}
		class, ok := model.ParseEndpointClass(target.ClassName())
		if !ok {
			return nil, fmt.Errorf("call target %q is a %s, not an endpoint", path, target.ClassName())
		}
		method := class.SendMethod()
		if inbound {
			method = class.ReceiveMethod()
		} else if m := v.GetStringBytes("method"); m != nil {
			parsed, ok := model.ParseMethod(string(m))
			if !ok {
				return nil, fmt.Errorf("call on %q: unknown method %q", path, m)
			}
			method = parsed
		}
		args := make([]value.Value, 0)
		for _, a := range v.GetArray("args") {
			arg, err := jsonValue(w, a)
			if err != nil {
				return nil, fmt.Errorf("call on %q: %w", path, err)
			}
			args = append(args, arg)
		}
		out = append(out, ScriptedCall{Target: target, Method: method, Args: args})
	}
	return out, nil
}

func jsonValue(w *World, v *fastjson.Value) (value.Value, error) {
	switch v.Type() {
	case fastjson.TypeNull:
		return value.Nil{}, nil
	case fastjson.TypeTrue:
		return value.Bool(true), nil
	case fastjson.TypeFalse:
		return value.Bool(false), nil
	case fastjson.TypeNumber:
		return value.Number(v.GetFloat64()), nil
	case fastjson.TypeString:
		return value.String(v.GetStringBytes()), nil
	case fastjson.TypeArray:
		items := v.GetArray()
		vs := make([]value.Value, len(items))
		for i, item := range items {
			x, err := jsonValue(w, item)
			if err != nil {
				return nil, err
			}
			vs[i] = x
		}
		return value.List(vs...), nil
	case fastjson.TypeObject:
		return jsonObject(w, v)
	}
	return nil, fmt.Errorf("unsupported JSON value %s", v.Type())
}

func jsonObject(w *World, v *fastjson.Value) (value.Value, error) {
	obj := v.GetObject()
	if obj.Len() == 1 {
		if comps := floats(v.GetArray("$vector3")); len(comps) == 3 {
			return value.Vector3{X: comps[0], Y: comps[1], Z: comps[2]}, nil
		}
		if comps := floats(v.GetArray("$vector2")); len(comps) == 2 {
			return value.Vector2{X: comps[0], Y: comps[1]}, nil
		}
		if comps := floats(v.GetArray("$color3")); len(comps) == 3 {
			return value.Color3{R: comps[0], G: comps[1], B: comps[2]}, nil
		}
		if p := v.GetStringBytes("$node"); p != nil {
			n := w.Lookup(string(p))
			if n == nil {
				return value.NodeRef{}, nil
			}
			return value.NodeRef{Node: n}, nil
		}
		if v.Exists("$function") {
			return value.Function(), nil
		}
	}

	fields := make(map[string]value.Value, obj.Len())
	var err error
	obj.Visit(func(key []byte, item *fastjson.Value) {
		if err != nil {
			return
		}
		var x value.Value
		x, err = jsonValue(w, item)
		fields[string(key)] = x
	})
	if err != nil {
		return nil, err
	}
	return value.Map(fields), nil
}

func floats(vs []*fastjson.Value) []float64 {
	out := make([]float64, 0, len(vs))
	for _, v := range vs {
		out = append(out, v.GetFloat64())
	}
	return out
}
