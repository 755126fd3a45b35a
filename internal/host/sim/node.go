package sim

import (
	"github.com/coffersTech/callspy/internal/host"
	"github.com/coffersTech/callspy/internal/model"
)

// Node is one object in the simulated tree.
type Node struct {
	w        *World
	name     string
	class    string
	parent   *Node
	children []*Node
	dead     bool
	funcs    map[model.Method]*slot
}

var _ model.Node = (*Node)(nil)

func (n *Node) Name() string      { return n.name }
func (n *Node) ClassName() string { return n.class }

func (n *Node) Alive() bool {
	n.w.mu.Lock()
	defer n.w.mu.Unlock()
	return !n.dead
}

func (n *Node) Parent() model.Node {
	n.w.mu.Lock()
	p := n.parent
	n.w.mu.Unlock()
	if p == nil {
		return nil
	}
	return p
}

// Child returns the first direct child called name, or nil.
func (n *Node) Child(name string) *Node {
	n.w.mu.Lock()
	defer n.w.mu.Unlock()
	for _, c := range n.children {
		if c.name == name {
			return c
		}
	}
	return nil
}

// Add creates a child node.
func (n *Node) Add(name, class string) *Node {
	return n.w.Add(n, name, class)
}

// Detach removes n from its parent without destroying it.
func (n *Node) Detach() {
	n.w.mu.Lock()
	defer n.w.mu.Unlock()
	n.detachLocked()
}

// Destroy detaches n and marks it and its descendants destroyed.
func (n *Node) Destroy() {
	n.w.mu.Lock()
	defer n.w.mu.Unlock()
	n.detachLocked()
	var mark func(*Node)
	mark = func(x *Node) {
		x.dead = true
		for _, c := range x.children {
			mark(c)
		}
	}
	mark(n)
}

func (n *Node) detachLocked() {
	p := n.parent
	if p == nil {
		return
	}
	for i, c := range p.children {
		if c == n {
			p.children = append(p.children[:i:i], p.children[i+1:]...)
			break
		}
	}
	n.parent = nil
}

// slot holds one function implementation; it is the host.FuncRef handed to
// instrumentation.
type slot struct {
	name string
	fn   host.Func
}

func (s *slot) Name() string { return s.name }

// Table is the root's dispatch table.
type Table struct {
	w        *World
	readOnly bool
}

// Get implements host.DispatchTable.
func (t *Table) Get(name string) (host.Func, bool) {
	if name != host.DispatchSlot {
		return nil, false
	}
	t.w.mu.Lock()
	defer t.w.mu.Unlock()
	return t.w.dispatch, true
}

// Set implements host.DispatchTable.
func (t *Table) Set(name string, fn host.Func) error {
	t.w.mu.Lock()
	defer t.w.mu.Unlock()
	if t.readOnly {
		return errReadOnly
	}
	if name != host.DispatchSlot {
		return host.ErrUnsupported
	}
	t.w.dispatch = fn
	return nil
}
