package sim

import (
	"fmt"

	"github.com/coffersTech/callspy/internal/host"
	"github.com/coffersTech/callspy/internal/model"
	"github.com/coffersTech/callspy/internal/value"
)

var (
	_ host.Host               = (*World)(nil)
	_ host.ChildFinder        = (*World)(nil)
	_ host.DescendantLister   = (*World)(nil)
	_ host.InstanceLister     = (*World)(nil)
	_ host.OrphanLister       = (*World)(nil)
	_ host.CreationNotifier   = (*World)(nil)
	_ host.MethodIntrospector = (*World)(nil)
	_ host.GlobalHooker       = (*World)(nil)
	_ host.RawTableAccessor   = (*World)(nil)
	_ host.TableAccessor      = (*World)(nil)
	_ host.MutabilityToggler  = (*World)(nil)
	_ host.MethodLookup       = (*World)(nil)
	_ host.FunctionPatcher    = (*World)(nil)
	_ host.FunctionCloner     = (*World)(nil)
	_ host.ClosureWrapper     = (*World)(nil)
	_ host.NodeFactory        = (*World)(nil)
	_ host.Invoker            = (*World)(nil)
	_ host.InboundSubscriber  = (*World)(nil)
	_ host.ActorLister        = (*World)(nil)
	_ host.Clipboard          = (*World)(nil)
	_ host.UIRootWaiter       = (*World)(nil)
)

func (w *World) FindFirstChild(parent model.Node, name string) model.Node {
	p, ok := parent.(*Node)
	if !w.has(CapChildLookup) || !ok || p == nil {
		return nil
	}
	if c := p.Child(name); c != nil {
		return c
	}
	return nil
}

func (w *World) Descendants(n model.Node) ([]model.Node, error) {
	if !w.has(CapDescendants) {
		return nil, host.ErrUnsupported
	}
	start, ok := n.(*Node)
	if !ok {
		return nil, fmt.Errorf("foreign node %T", n)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []model.Node
	var walk func(*Node)
	walk = func(x *Node) {
		for _, c := range x.children {
			out = append(out, c)
			walk(c)
		}
	}
	walk(start)
	return out, nil
}

func (w *World) AllInstances() ([]model.Node, error) {
	if !w.has(CapAllInstances) {
		return nil, host.ErrUnsupported
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]model.Node, 0, len(w.all))
	for _, n := range w.all {
		if !n.dead {
			out = append(out, n)
		}
	}
	return out, nil
}

func (w *World) OrphanedInstances() ([]model.Node, error) {
	if !w.has(CapOrphans) {
		return nil, host.ErrUnsupported
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []model.Node
	for _, n := range w.all {
		if !n.dead && n.parent == nil && n != w.root {
			out = append(out, n)
		}
	}
	return out, nil
}

func (w *World) OnNodeAdded(fn func(model.Node)) error {
	if !w.has(CapCreationNotify) {
		return host.ErrUnsupported
	}
	w.mu.Lock()
	w.added = append(w.added, fn)
	w.mu.Unlock()
	return nil
}

func (w *World) CurrentMethod() (model.Method, error) {
	if !w.has(CapIntrospection) {
		return "", host.ErrUnsupported
	}
	m, ok := w.currentMethod()
	if !ok {
		return "", fmt.Errorf("no call in progress")
	}
	return m, nil
}

func (w *World) HookDispatch(fn host.Func) (host.Func, error) {
	if !w.has(CapGlobalHook) {
		return nil, host.ErrUnsupported
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	prev := w.dispatch
	w.dispatch = fn
	return prev, nil
}

func (w *World) RawDispatchTable(n model.Node) (host.DispatchTable, error) {
	if !w.has(CapRawTable) {
		return nil, host.ErrUnsupported
	}
	if n != model.Node(w.root) {
		return nil, fmt.Errorf("%s has no dispatch table", n.Name())
	}
	return w.table, nil
}

func (w *World) DispatchTable(n model.Node) (host.DispatchTable, error) {
	if !w.has(CapTable) {
		return nil, host.ErrUnsupported
	}
	if n != model.Node(w.root) {
		return nil, fmt.Errorf("%s has no dispatch table", n.Name())
	}
	return w.table, nil
}

func (w *World) SetReadOnly(t host.DispatchTable, readOnly bool) error {
	if !w.has(CapToggle) {
		return host.ErrUnsupported
	}
	tbl, ok := t.(*Table)
	if !ok {
		return fmt.Errorf("foreign table %T", t)
	}
	w.mu.Lock()
	tbl.readOnly = readOnly
	w.mu.Unlock()
	return nil
}

func (w *World) LookupMethod(n model.Node, method model.Method) (host.FuncRef, error) {
	if !w.has(CapMethodLookup) {
		return nil, host.ErrUnsupported
	}
	node, ok := n.(*Node)
	if !ok || node == nil {
		return nil, fmt.Errorf("foreign node %T", n)
	}
	s, err := w.slotFor(node, method)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (w *World) PatchFunction(ref host.FuncRef, fn host.Func) (host.Func, error) {
	if !w.has(CapPatch) {
		return nil, host.ErrUnsupported
	}
	s, ok := ref.(*slot)
	if !ok {
		return nil, fmt.Errorf("foreign function reference %T", ref)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	orig := s.fn
	s.fn = fn
	return orig, nil
}

func (w *World) CloneFunction(fn host.Func) (host.Func, error) {
	if !w.has(CapClone) {
		return nil, host.ErrUnsupported
	}
	return func(self model.Node, args []value.Value) ([]value.Value, error) {
		return fn(self, args)
	}, nil
}

func (w *World) WrapClosure(fn host.Func) (host.Func, error) {
	if !w.has(CapWrap) {
		return nil, host.ErrUnsupported
	}
	return func(self model.Node, args []value.Value) ([]value.Value, error) {
		return fn(self, args)
	}, nil
}

func (w *World) NewNode(className string) (model.Node, error) {
	if !w.has(CapFactory) {
		return nil, host.ErrUnsupported
	}
	return w.newNode(className, className), nil
}

func (w *World) Invoke(target model.Node, method model.Method, args []value.Value) ([]value.Value, error) {
	if !w.has(CapInvoke) {
		return nil, host.ErrUnsupported
	}
	return w.Call(target, method, args...)
}

func (w *World) OnInbound(n model.Node, fn func(model.Method, []value.Value)) error {
	if !w.has(CapInbound) {
		return host.ErrUnsupported
	}
	node, ok := n.(*Node)
	if !ok {
		return fmt.Errorf("foreign node %T", n)
	}
	w.mu.Lock()
	w.inbound[node] = append(w.inbound[node], fn)
	w.mu.Unlock()
	return nil
}

func (w *World) LocalActor() model.Node {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.caps[CapActors] || w.local == nil {
		return nil
	}
	return w.local
}

func (w *World) Actors() []model.Node {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.caps[CapActors] {
		return nil
	}
	out := make([]model.Node, len(w.actors))
	for i, a := range w.actors {
		out[i] = a
	}
	return out
}

func (w *World) SetClipboard(text string) error {
	if !w.has(CapClipboard) {
		return host.ErrUnsupported
	}
	w.mu.Lock()
	w.clipboard = text
	w.mu.Unlock()
	return nil
}
