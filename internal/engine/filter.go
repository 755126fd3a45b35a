package engine

import (
	"strings"
	"sync"

	"github.com/coffersTech/callspy/internal/host"
	"github.com/coffersTech/callspy/internal/model"
)

// Verdict is the filter decision for one node.
type Verdict uint8

const (
	Allow Verdict = iota
	Excluded
	Blocked
)

func (v Verdict) String() string {
	switch v {
	case Excluded:
		return "excluded"
	case Blocked:
		return "blocked"
	default:
		return "allow"
	}
}

// FilterSet holds name patterns and node identities that suppress
// recording. Name patterns match by substring of the node's own name.
type FilterSet struct {
	mu sync.RWMutex

	excludedNames map[string]struct{}
	blockedNames  map[string]struct{}
	excludedNodes map[model.Node]struct{}
	blockedNodes  map[model.Node]struct{}
}

// NewFilterSet returns an empty set.
func NewFilterSet() *FilterSet {
	fs := &FilterSet{}
	fs.reset()
	return fs
}

func (fs *FilterSet) reset() {
	fs.excludedNames = make(map[string]struct{})
	fs.blockedNames = make(map[string]struct{})
	fs.excludedNodes = make(map[model.Node]struct{})
	fs.blockedNodes = make(map[model.Node]struct{})
}

// ExcludeName adds a name pattern to the exclusion set.
func (fs *FilterSet) ExcludeName(pattern string) {
	if pattern == "" {
		return
	}
	fs.mu.Lock()
	fs.excludedNames[pattern] = struct{}{}
	fs.mu.Unlock()
}

// BlockName adds a name pattern to the block set.
func (fs *FilterSet) BlockName(pattern string) {
	if pattern == "" {
		return
	}
	fs.mu.Lock()
	fs.blockedNames[pattern] = struct{}{}
	fs.mu.Unlock()
}

// ExcludeNode adds a node identity to the exclusion set.
func (fs *FilterSet) ExcludeNode(n model.Node) {
	if n == nil {
		return
	}
	fs.mu.Lock()
	fs.excludedNodes[n] = struct{}{}
	fs.mu.Unlock()
}

// BlockNode adds a node identity to the block set.
func (fs *FilterSet) BlockNode(n model.Node) {
	if n == nil {
		return
	}
	fs.mu.Lock()
	fs.blockedNodes[n] = struct{}{}
	fs.mu.Unlock()
}

// ClearAll empties all four sets in one step.
func (fs *FilterSet) ClearAll() {
	fs.mu.Lock()
	fs.reset()
	fs.mu.Unlock()
}

// Size returns the total number of patterns and identities held.
func (fs *FilterSet) Size() int {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return len(fs.excludedNames) + len(fs.blockedNames) + len(fs.excludedNodes) + len(fs.blockedNodes)
}

// Check returns the verdict for n. Exclusion is checked before blocking.
func (fs *FilterSet) Check(n model.Node) Verdict {
	name := n.Name()

	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if _, ok := fs.excludedNodes[n]; ok {
		return Excluded
	}
	if matchesAny(fs.excludedNames, name) {
		return Excluded
	}
	if _, ok := fs.blockedNodes[n]; ok {
		return Blocked
	}
	if matchesAny(fs.blockedNames, name) {
		return Blocked
	}
	return Allow
}

func matchesAny(patterns map[string]struct{}, name string) bool {
	for p := range patterns {
		if strings.Contains(name, p) {
			return true
		}
	}
	return false
}

// Classify reports the endpoint class of n, or false when n is not a
// recognized endpoint.
func Classify(n model.Node) (model.EndpointClass, bool) {
	if n == nil {
		return "", false
	}
	return model.ParseEndpointClass(n.ClassName())
}

// ActorFilter rejects nodes living inside another session's sub-tree.
// Without an actor listing capability nothing is foreign.
type ActorFilter struct {
	actors host.ActorLister
}

// NewActorFilter probes h for host.ActorLister.
func NewActorFilter(h host.Host) *ActorFilter {
	al, _ := h.(host.ActorLister)
	return &ActorFilter{actors: al}
}

// IsForeign reports whether n or one of its ancestors is an actor root
// other than the local one.
func (af *ActorFilter) IsForeign(n model.Node) bool {
	if af == nil || af.actors == nil {
		return false
	}
	local := af.actors.LocalActor()
	for _, a := range af.actors.Actors() {
		if a == nil || a == local {
			continue
		}
		if model.IsAncestor(a, n) {
			return true
		}
	}
	return false
}
