package sim

// Capability switches one host primitive on.
type Capability string

const (
	CapChildLookup    Capability = "child-lookup"
	CapDescendants    Capability = "descendants"
	CapAllInstances   Capability = "all-instances"
	CapOrphans        Capability = "orphans"
	CapCreationNotify Capability = "creation-notify"
	CapIntrospection  Capability = "method-introspection"
	CapGlobalHook     Capability = "global-hook"
	CapRawTable       Capability = "raw-table"
	CapToggle         Capability = "mutability-toggle"
	CapTable          Capability = "table"
	// CapWritableTable leaves the dispatch table unprotected, so writes
	// through the ordinary accessor succeed.
	CapWritableTable Capability = "writable-table"
	CapMethodLookup  Capability = "method-lookup"
	CapPatch         Capability = "function-patch"
	// CapSharedFuncs makes every instance of a class share one function
	// implementation, so patching it through one instance is global.
	CapSharedFuncs Capability = "shared-functions"
	CapClone       Capability = "function-clone"
	CapWrap        Capability = "closure-wrap"
	CapFactory     Capability = "node-factory"
	CapInvoke      Capability = "invoke"
	CapInbound     Capability = "inbound"
	CapActors      Capability = "actors"
	CapClipboard   Capability = "clipboard"
	CapUIRoot      Capability = "ui-root"
)

// AllCapabilities is a fully featured host.
func AllCapabilities() []Capability {
	return []Capability{
		CapChildLookup, CapDescendants, CapAllInstances, CapOrphans,
		CapCreationNotify, CapIntrospection, CapGlobalHook, CapRawTable,
		CapToggle, CapTable, CapMethodLookup, CapPatch, CapSharedFuncs,
		CapClone, CapWrap, CapFactory, CapInvoke, CapInbound, CapActors,
		CapClipboard, CapUIRoot,
	}
}

// WeakestTier exposes only what per-instance patching needs: enumeration,
// creation notifications, and a non-global function patch.
func WeakestTier() []Capability {
	return []Capability{
		CapChildLookup, CapDescendants, CapAllInstances, CapOrphans,
		CapCreationNotify, CapMethodLookup, CapPatch, CapFactory, CapInvoke,
		CapInbound, CapActors, CapClipboard,
	}
}

// Without returns caps minus the listed ones.
func Without(caps []Capability, drop ...Capability) []Capability {
	skip := make(map[Capability]bool, len(drop))
	for _, d := range drop {
		skip[d] = true
	}
	out := make([]Capability, 0, len(caps))
	for _, c := range caps {
		if !skip[c] {
			out = append(out, c)
		}
	}
	return out
}
