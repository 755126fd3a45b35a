package model

import "strings"

// RootClass is the class name of the tree root. The root never appears as a
// path segment.
const RootClass = "DataModel"

// Node is a reference to one object in the host tree. Implementations must be
// comparable (pointer types); identity filters and hooked sets key on it.
type Node interface {
	Name() string
	ClassName() string
	Parent() Node
	// Alive reports whether the node has not been destroyed.
	Alive() bool
}

// EndpointClass is one of the recognized call channel classes.
type EndpointClass string

const (
	RemoteEvent           EndpointClass = "RemoteEvent"
	UnreliableRemoteEvent EndpointClass = "UnreliableRemoteEvent"
	RemoteFunction        EndpointClass = "RemoteFunction"
	BindableEvent         EndpointClass = "BindableEvent"
	BindableFunction      EndpointClass = "BindableFunction"
)

// EndpointClasses lists every recognized class in a stable order.
var EndpointClasses = []EndpointClass{
	RemoteEvent,
	UnreliableRemoteEvent,
	RemoteFunction,
	BindableEvent,
	BindableFunction,
}

// ParseEndpointClass maps a reported class name to an EndpointClass.
func ParseEndpointClass(name string) (EndpointClass, bool) {
	for _, c := range EndpointClasses {
		if string(c) == name {
			return c, true
		}
	}
	return "", false
}

// CrossesBoundary is false for the purely local analogues.
func (c EndpointClass) CrossesBoundary() bool {
	return c == RemoteEvent || c == UnreliableRemoteEvent || c == RemoteFunction
}

// SendMethod is the outbound method an endpoint of this class is called with.
func (c EndpointClass) SendMethod() Method {
	switch c {
	case RemoteFunction:
		return InvokeServer
	case BindableEvent:
		return Fire
	case BindableFunction:
		return Invoke
	default:
		return FireServer
	}
}

// ReceiveMethod is the inbound delivery name for this class.
func (c EndpointClass) ReceiveMethod() Method {
	switch c {
	case RemoteFunction:
		return OnClientInvoke
	case BindableEvent:
		return Event
	case BindableFunction:
		return OnInvoke
	default:
		return OnClientEvent
	}
}

// Method is one of the small enumerated set of endpoint methods.
type Method string

const (
	FireServer     Method = "FireServer"
	InvokeServer   Method = "InvokeServer"
	Fire           Method = "Fire"
	Invoke         Method = "Invoke"
	OnClientEvent  Method = "OnClientEvent"
	OnClientInvoke Method = "OnClientInvoke"
	Event          Method = "Event"
	OnInvoke       Method = "OnInvoke"
)

var methods = map[Method]bool{
	FireServer: true, InvokeServer: true, Fire: true, Invoke: true,
	OnClientEvent: false, OnClientInvoke: false, Event: false, OnInvoke: false,
}

// ParseMethod accepts only members of the enumeration.
func ParseMethod(s string) (Method, bool) {
	m := Method(s)
	if _, ok := methods[m]; !ok {
		return "", false
	}
	return m, true
}

// IsSend reports whether m is an outbound (send-form) method.
func (m Method) IsSend() bool {
	return methods[m]
}

// Direction tells whether a call left the local side or arrived from the
// boundary.
type Direction uint8

const (
	Outbound Direction = iota
	Inbound
)

func (d Direction) String() string {
	if d == Inbound {
		return "inbound"
	}
	return "outbound"
}

// CallRecord is the structured description of one observed call. It is a
// value type; NewCallRecord copies the path so later mutation of the caller's
// slice cannot leak in.
type CallRecord struct {
	Class     EndpointClass
	Path      []string
	Method    Method
	Direction Direction
	ArgsText  string
}

// NewCallRecord builds a record from its parts.
func NewCallRecord(class EndpointClass, path []string, method Method, dir Direction, argsText string) CallRecord {
	p := make([]string, len(path))
	copy(p, path)
	return CallRecord{
		Class:     class,
		Path:      p,
		Method:    method,
		Direction: dir,
		ArgsText:  argsText,
	}
}

// DottedPath joins the path segments with dots.
func (r CallRecord) DottedPath() string {
	return strings.Join(r.Path, ".")
}

// PathOf returns the name segments from below the root down to n. A node
// whose ancestry does not reach the root (orphaned) yields its partial chain.
func PathOf(n Node) []string {
	var segs []string
	for cur := n; cur != nil; cur = cur.Parent() {
		if cur.Parent() == nil && cur.ClassName() == RootClass {
			break
		}
		segs = append(segs, cur.Name())
	}
	for i, j := 0, len(segs)-1; i < j; i, j = i+1, j-1 {
		segs[i], segs[j] = segs[j], segs[i]
	}
	return segs
}

// FullName is the dotted path of n.
func FullName(n Node) string {
	return strings.Join(PathOf(n), ".")
}

// SplitPath splits a dotted path into segments, dropping empty ones.
func SplitPath(dotted string) []string {
	parts := strings.Split(dotted, ".")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// IsAncestor reports whether anc is n or one of n's ancestors.
func IsAncestor(anc, n Node) bool {
	for cur := n; cur != nil; cur = cur.Parent() {
		if cur == anc {
			return true
		}
	}
	return false
}
