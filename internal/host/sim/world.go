// Package sim is an in-memory host whose capabilities can be switched on
// one at a time. It backs the tests of every interception tier and the
// CLI demo.
package sim

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/coffersTech/callspy/internal/host"
	"github.com/coffersTech/callspy/internal/model"
	"github.com/coffersTech/callspy/internal/value"
)

var errReadOnly = errors.New("attempt to modify a readonly table")

// Call is one call that reached the far side of an endpoint.
type Call struct {
	Target *Node
	Method model.Method
	Args   []value.Value
}

// Handler answers calls that reach the far side.
type Handler func(c Call) ([]value.Value, error)

// World is the simulated host.
type World struct {
	mu   sync.Mutex
	caps map[Capability]bool

	root    *Node
	all     []*Node
	shared  map[string]map[model.Method]*slot
	table   *Table
	methods []model.Method

	dispatch host.Func
	added    []func(model.Node)
	inbound  map[*Node][]func(model.Method, []value.Value)
	handler  Handler
	received []Call

	local     *Node
	actors    []*Node
	uiRoot    *Node
	uiReady   chan struct{}
	clipboard string
}

// New builds a world with the standard services under the root.
func New(caps ...Capability) *World {
	w := &World{
		caps:    make(map[Capability]bool, len(caps)),
		shared:  make(map[string]map[model.Method]*slot),
		inbound: make(map[*Node][]func(model.Method, []value.Value)),
		uiReady: make(chan struct{}),
	}
	for _, c := range caps {
		w.caps[c] = true
	}
	w.table = &Table{w: w, readOnly: !w.caps[CapWritableTable]}
	w.dispatch = w.defaultDispatch
	w.root = w.newNode("game", model.RootClass)
	for _, svc := range []string{"Workspace", "ReplicatedStorage", "Players", "StarterGui"} {
		w.Add(w.root, svc, svc)
	}
	return w
}

func (w *World) has(c Capability) bool {
	return w.caps[c]
}

func (w *World) newNode(name, class string) *Node {
	n := &Node{w: w, name: name, class: class}
	w.mu.Lock()
	w.all = append(w.all, n)
	w.mu.Unlock()
	return n
}

// Root implements host.Host.
func (w *World) Root() model.Node {
	return w.root
}

// Service returns a top-level service node by name.
func (w *World) Service(name string) *Node {
	return w.root.Child(name)
}

// Add creates a node under parent. Nodes added to the live tree are
// announced to creation subscribers.
func (w *World) Add(parent *Node, name, class string) *Node {
	n := w.newNode(name, class)
	w.mu.Lock()
	n.parent = parent
	parent.children = append(parent.children, n)
	subs := slices.Clone(w.added)
	w.mu.Unlock()

	if model.IsAncestor(w.root, n) {
		for _, fn := range subs {
			fn(n)
		}
	}
	return n
}

// Lookup resolves a dotted path regardless of capabilities.
func (w *World) Lookup(dotted string) *Node {
	cur := w.root
	for _, seg := range model.SplitPath(dotted) {
		cur = cur.Child(seg)
		if cur == nil {
			return nil
		}
	}
	return cur
}

// SetHandler installs the far-side responder.
func (w *World) SetHandler(h Handler) {
	w.mu.Lock()
	w.handler = h
	w.mu.Unlock()
}

// Received returns every call that reached the far side, oldest first.
func (w *World) Received() []Call {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Call(nil), w.received...)
}

// Call performs a call the way game code does: through the dispatch slot,
// whatever capabilities the host exposes to instrumentation.
func (w *World) Call(target model.Node, method model.Method, args ...value.Value) ([]value.Value, error) {
	w.mu.Lock()
	w.methods = append(w.methods, method)
	dispatch := w.dispatch
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.methods = w.methods[:len(w.methods)-1]
		w.mu.Unlock()
	}()
	return dispatch(target, args)
}

// Deliver simulates the far side sending args to the endpoint n.
func (w *World) Deliver(n *Node, args ...value.Value) {
	class, ok := model.ParseEndpointClass(n.class)
	if !ok {
		return
	}
	w.mu.Lock()
	subs := slices.Clone(w.inbound[n])
	w.mu.Unlock()
	for _, fn := range subs {
		fn(class.ReceiveMethod(), args)
	}
}

// AddActor creates a per-session sub-tree under Workspace.
func (w *World) AddActor(name string, local bool) *Node {
	n := w.Add(w.Service("Workspace"), name, "Model")
	w.mu.Lock()
	w.actors = append(w.actors, n)
	if local {
		w.local = n
	}
	w.mu.Unlock()
	return n
}

// SetUIRoot creates the local UI root and releases waiters.
func (w *World) SetUIRoot() *Node {
	n := w.Add(w.Service("StarterGui"), "PlayerGui", "PlayerGui")
	w.mu.Lock()
	if w.uiRoot == nil {
		w.uiRoot = n
		close(w.uiReady)
	}
	w.mu.Unlock()
	return n
}

// ClipboardText returns the last clipboard write.
func (w *World) ClipboardText() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.clipboard
}

func (w *World) currentMethod() (model.Method, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.methods) == 0 {
		return "", false
	}
	return w.methods[len(w.methods)-1], true
}

func (w *World) defaultDispatch(self model.Node, args []value.Value) ([]value.Value, error) {
	method, ok := w.currentMethod()
	if !ok {
		return nil, errors.New("dispatch outside of a method call")
	}
	n, ok := self.(*Node)
	if !ok || n == nil {
		return nil, fmt.Errorf("attempt to index %T with %q", self, method)
	}
	s, err := w.slotFor(n, method)
	if err != nil {
		return nil, err
	}
	w.mu.Lock()
	fn := s.fn
	w.mu.Unlock()
	return fn(n, args)
}

// native is the unpatched implementation of an endpoint method.
func (w *World) native(method model.Method) host.Func {
	return func(self model.Node, args []value.Value) ([]value.Value, error) {
		n, ok := self.(*Node)
		if !ok || n == nil {
			return nil, fmt.Errorf("expected an endpoint, got %T", self)
		}
		if !n.Alive() {
			return nil, fmt.Errorf("%s has been destroyed", n.name)
		}
		if n.class != "" {
			if c, ok := model.ParseEndpointClass(n.class); !ok || c.SendMethod() != method {
				return nil, fmt.Errorf("%s is not a valid member of %s %q", method, n.class, n.name)
			}
		}
		c := Call{Target: n, Method: method, Args: append([]value.Value(nil), args...)}
		w.mu.Lock()
		w.received = append(w.received, c)
		h := w.handler
		w.mu.Unlock()
		if h != nil {
			return h(c)
		}
		return nil, nil
	}
}

func (w *World) slotFor(n *Node, method model.Method) (*slot, error) {
	class, ok := model.ParseEndpointClass(n.class)
	if !ok || class.SendMethod() != method {
		return nil, fmt.Errorf("%s is not a valid member of %s %q", method, n.class, n.name)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.caps[CapSharedFuncs] {
		byMethod := w.shared[n.class]
		if byMethod == nil {
			byMethod = make(map[model.Method]*slot)
			w.shared[n.class] = byMethod
		}
		s := byMethod[method]
		if s == nil {
			s = &slot{name: n.class + "." + string(method), fn: w.native(method)}
			byMethod[method] = s
		}
		return s, nil
	}
	if n.funcs == nil {
		n.funcs = make(map[model.Method]*slot)
	}
	s := n.funcs[method]
	if s == nil {
		s = &slot{name: n.class + "." + string(method), fn: w.native(method)}
		n.funcs[method] = s
	}
	return s, nil
}

// WaitForUIRoot blocks until SetUIRoot has been called or ctx ends.
func (w *World) WaitForUIRoot(ctx context.Context) (model.Node, error) {
	if !w.has(CapUIRoot) {
		return nil, host.ErrUnsupported
	}
	select {
	case <-w.uiReady:
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.uiRoot, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
