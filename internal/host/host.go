// Package host declares the capabilities a host runtime may expose. Only
// Host itself is mandatory; every other interface is probed with a type
// assertion and its absence selects a weaker interception strategy.
package host

import (
	"context"
	"errors"

	"github.com/coffersTech/callspy/internal/model"
	"github.com/coffersTech/callspy/internal/value"
)

// ErrUnsupported is returned by a capability method the host implements
// but cannot honour at runtime. Callers treat it like a missing interface.
var ErrUnsupported = errors.New("host capability not supported")

// Func is the shape of every interceptable call: the receiving node and the
// positional arguments, returning results or a failure.
type Func func(self model.Node, args []value.Value) ([]value.Value, error)

// Host is the baseline: access to the tree root.
type Host interface {
	Root() model.Node
}

// ChildFinder looks up a direct child by name.
type ChildFinder interface {
	FindFirstChild(parent model.Node, name string) model.Node
}

// DescendantLister enumerates every node below n.
type DescendantLister interface {
	Descendants(n model.Node) ([]model.Node, error)
}

// InstanceLister enumerates every node the host knows about, in or out of
// the tree.
type InstanceLister interface {
	AllInstances() ([]model.Node, error)
}

// OrphanLister enumerates nodes that have been detached from the tree but
// are still alive.
type OrphanLister interface {
	OrphanedInstances() ([]model.Node, error)
}

// CreationNotifier delivers every node added to the tree after subscription.
type CreationNotifier interface {
	OnNodeAdded(fn func(model.Node)) error
}

// MethodIntrospector reports the method name of the call currently passing
// through the dispatch slot.
type MethodIntrospector interface {
	CurrentMethod() (model.Method, error)
}

// GlobalHooker atomically swaps the graph-wide dispatch function and
// returns the previous one.
type GlobalHooker interface {
	HookDispatch(fn Func) (Func, error)
}

// DispatchSlot is the name of the interception slot in a dispatch table.
const DispatchSlot = "__namecall"

// DispatchTable is the root object's polymorphic dispatch table.
type DispatchTable interface {
	Get(slot string) (Func, bool)
	Set(slot string, fn Func) error
}

// RawTableAccessor reads the raw dispatch table, bypassing protection.
type RawTableAccessor interface {
	RawDispatchTable(n model.Node) (DispatchTable, error)
}

// TableAccessor reads the dispatch table through the ordinary accessor.
type TableAccessor interface {
	DispatchTable(n model.Node) (DispatchTable, error)
}

// MutabilityToggler flips a table between read-only and writable.
type MutabilityToggler interface {
	SetReadOnly(t DispatchTable, readOnly bool) error
}

// FuncRef names one function implementation, as obtained from a node.
type FuncRef interface {
	Name() string
}

// MethodLookup obtains the function implementing method on n.
type MethodLookup interface {
	LookupMethod(n model.Node, method model.Method) (FuncRef, error)
}

// FunctionPatcher replaces a function implementation and returns the
// original.
type FunctionPatcher interface {
	PatchFunction(ref FuncRef, fn Func) (Func, error)
}

// FunctionCloner copies a function so the copy survives later patches.
type FunctionCloner interface {
	CloneFunction(fn Func) (Func, error)
}

// ClosureWrapper makes a closure compatible with native call sites.
type ClosureWrapper interface {
	WrapClosure(fn Func) (Func, error)
}

// NodeFactory constructs a new, parentless node of the given class.
type NodeFactory interface {
	NewNode(className string) (model.Node, error)
}

// Invoker calls a method on a node through the host's normal dispatch path,
// so installed interceptions observe it.
type Invoker interface {
	Invoke(target model.Node, method model.Method, args []value.Value) ([]value.Value, error)
}

// InboundSubscriber delivers boundary-originated calls arriving at an
// endpoint.
type InboundSubscriber interface {
	OnInbound(n model.Node, fn func(method model.Method, args []value.Value)) error
}

// ActorLister exposes the per-session sub-trees of every actor.
type ActorLister interface {
	LocalActor() model.Node
	Actors() []model.Node
}

// Clipboard writes text to the user's clipboard.
type Clipboard interface {
	SetClipboard(text string) error
}

// UIRootWaiter blocks until the local session's UI root exists.
type UIRootWaiter interface {
	WaitForUIRoot(ctx context.Context) (model.Node, error)
}

// Resolve walks dotted segments from the root by child lookup. It fails
// closed on the first missing segment and returns the index of that segment.
func Resolve(h Host, path []string) (model.Node, int, bool) {
	finder, ok := h.(ChildFinder)
	if !ok {
		return nil, 0, false
	}
	cur := h.Root()
	for i, seg := range path {
		next := finder.FindFirstChild(cur, seg)
		if next == nil {
			return nil, i, false
		}
		cur = next
	}
	return cur, len(path), true
}
