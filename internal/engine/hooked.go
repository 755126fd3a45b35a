package engine

import (
	"sync"

	"github.com/coffersTech/callspy/internal/model"
)

// HookedSet records which nodes already carry an installed hook. Claim is
// the only way in, so two racing installers for the same node cannot both
// win.
type HookedSet struct {
	mu    sync.Mutex
	nodes map[model.Node]struct{}
}

// NewHookedSet returns an empty set.
func NewHookedSet() *HookedSet {
	return &HookedSet{nodes: make(map[model.Node]struct{})}
}

// Claim marks n as hooked. It returns false if n was already claimed.
func (hs *HookedSet) Claim(n model.Node) bool {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	if _, ok := hs.nodes[n]; ok {
		return false
	}
	hs.nodes[n] = struct{}{}
	return true
}

// Release undoes a Claim after a failed install.
func (hs *HookedSet) Release(n model.Node) {
	hs.mu.Lock()
	delete(hs.nodes, n)
	hs.mu.Unlock()
}

// Has reports whether n is claimed.
func (hs *HookedSet) Has(n model.Node) bool {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	_, ok := hs.nodes[n]
	return ok
}

// Len returns the number of claimed nodes.
func (hs *HookedSet) Len() int {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	return len(hs.nodes)
}
