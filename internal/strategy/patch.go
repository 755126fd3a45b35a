package strategy

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/coffersTech/callspy/internal/engine"
	"github.com/coffersTech/callspy/internal/host"
	"github.com/coffersTech/callspy/internal/model"
)

// patchedRef is one function replaced during installation, kept so a
// failed self-test can put it back.
type patchedRef struct {
	ref  host.FuncRef
	orig host.Func
}

// callSitePatch patches the shared send function of each endpoint class,
// reached through a freshly constructed probe instance, and then proves the
// patch is global by calling a second, independent instance.
type callSitePatch struct{}

func (callSitePatch) Name() string { return NameCallSitePatch }

func (cs callSitePatch) Install(ctx context.Context, env *Env) error {
	ml, ok := env.Host.(host.MethodLookup)
	if !ok {
		return missing("MethodLookup")
	}
	fp, ok := env.Host.(host.FunctionPatcher)
	if !ok {
		return missing("FunctionPatcher")
	}
	nf, ok := env.Host.(host.NodeFactory)
	if !ok {
		return missing("NodeFactory")
	}
	if _, ok := env.Host.(host.Invoker); !ok {
		return missing("Invoker")
	}

	var done []patchedRef
	for _, class := range model.EndpointClasses {
		probe, err := nf.NewNode(string(class))
		if err != nil {
			restore(fp, done)
			return hostErr("construct probe "+string(class), err)
		}
		method := class.SendMethod()
		ref, err := ml.LookupMethod(probe, method)
		if err != nil {
			restore(fp, done)
			return hostErr("look up "+string(class)+"."+string(method), err)
		}
		fwd := &forwarder{}
		prev, err := fp.PatchFunction(ref, wrapClosure(env, env.Session.Hook(fwd.call, method)))
		if err != nil {
			restore(fp, done)
			return hostErr("patch "+ref.Name(), err)
		}
		fwd.set(preserve(env, prev))
		done = append(done, patchedRef{ref: ref, orig: prev})
	}

	if v := cs.Verify(ctx, env); !v.Verified {
		restore(fp, done)
		return fmt.Errorf("%w: %s", ErrSelfTestFailed, v.Reason)
	}
	return nil
}

// Verification is the result of the call-site self-test.
type Verification struct {
	Verified bool
	Reason   string
}

// Verify constructs an independent probe endpoint, arms the session's side
// channel for it and calls it through the host's normal dispatch path. The
// patch is only trusted when the hook observed that call.
func (callSitePatch) Verify(_ context.Context, env *Env) Verification {
	nf, ok := env.Host.(host.NodeFactory)
	if !ok {
		return Verification{Reason: "no node factory"}
	}
	inv, ok := env.Host.(host.Invoker)
	if !ok {
		return Verification{Reason: "no invoker"}
	}

	probe, err := nf.NewNode(string(model.RemoteEvent))
	if err != nil {
		return Verification{Reason: "construct probe: " + err.Error()}
	}
	p := env.Session.ArmProbe(probe)
	defer env.Session.DisarmProbe()

	_, callErr := inv.Invoke(probe, model.RemoteEvent.SendMethod(), nil)
	if p.Fired() {
		return Verification{Verified: true}
	}
	reason := "probe call did not pass through the patched function"
	if callErr != nil {
		reason += ": " + callErr.Error()
	}
	return Verification{Reason: reason}
}

func restore(fp host.FunctionPatcher, done []patchedRef) {
	for i := len(done) - 1; i >= 0; i-- {
		_, _ = fp.PatchFunction(done[i].ref, done[i].orig)
	}
}

// perInstancePatch patches every endpoint it can enumerate one by one and
// keeps patching endpoints as they are created.
type perInstancePatch struct{}

func (perInstancePatch) Name() string { return NamePerInstance }

func (perInstancePatch) Install(_ context.Context, env *Env) error {
	ml, ok := env.Host.(host.MethodLookup)
	if !ok {
		return missing("MethodLookup")
	}
	fp, ok := env.Host.(host.FunctionPatcher)
	if !ok {
		return missing("FunctionPatcher")
	}
	nodes, err := enumerate(env.Host)
	if err != nil {
		return err
	}

	ip := &instancePatcher{env: env, lookup: ml, patcher: fp, refs: make(map[host.FuncRef]struct{})}
	var failed int
	for _, n := range nodes {
		if err := ip.patch(n); err != nil {
			if errors.Is(err, ErrCapabilityMissing) {
				return err
			}
			failed++
			env.Logger.Debug("endpoint patch failed", "path", model.FullName(n), "err", err)
		}
	}

	if cn, ok := env.Host.(host.CreationNotifier); ok {
		err := cn.OnNodeAdded(func(n model.Node) {
			if err := ip.patch(n); err != nil {
				env.Logger.Warn("late endpoint patch failed", "path", model.FullName(n), "err", err)
			}
		})
		if err != nil {
			env.Logger.Warn("endpoints created later will not be patched", "err", err)
		}
	}

	env.Logger.Info("per-instance patch applied", "hooked", env.Session.Hooked.Len(), "failed", failed)
	return nil
}

// instancePatcher installs at most one hook per node and per function.
type instancePatcher struct {
	env     *Env
	lookup  host.MethodLookup
	patcher host.FunctionPatcher

	mu   sync.Mutex
	refs map[host.FuncRef]struct{}
}

func (ip *instancePatcher) patch(n model.Node) error {
	if n == nil || !n.Alive() {
		return nil
	}
	s := ip.env.Session
	if s.Actors.IsForeign(n) {
		return nil
	}
	class, ok := engine.Classify(n)
	if !ok {
		return nil
	}
	if !s.Hooked.Claim(n) {
		return nil
	}

	method := class.SendMethod()
	ref, err := ip.lookup.LookupMethod(n, method)
	if err != nil {
		s.Hooked.Release(n)
		return hostErr("look up "+string(method), err)
	}

	// Instances sharing one implementation get one hook.
	ip.mu.Lock()
	if _, seen := ip.refs[ref]; seen {
		ip.mu.Unlock()
		return nil
	}
	ip.refs[ref] = struct{}{}
	ip.mu.Unlock()

	fwd := &forwarder{}
	prev, err := ip.patcher.PatchFunction(ref, wrapClosure(ip.env, s.Hook(fwd.call, method)))
	if err != nil {
		ip.mu.Lock()
		delete(ip.refs, ref)
		ip.mu.Unlock()
		s.Hooked.Release(n)
		return hostErr("patch "+ref.Name(), err)
	}
	fwd.set(preserve(ip.env, prev))
	endpointsHooked.Inc()
	return nil
}

// enumerate gathers every node reachable through the host's enumeration
// primitives, deduplicated by identity. It fails only when none of them
// is usable.
func enumerate(h host.Host) ([]model.Node, error) {
	var (
		out     []model.Node
		seen    = make(map[model.Node]struct{})
		usable  bool
		lastErr error
	)
	add := func(nodes []model.Node, err error) {
		if err != nil {
			if !errors.Is(err, host.ErrUnsupported) {
				usable = true
				lastErr = err
			}
			return
		}
		usable = true
		for _, n := range nodes {
			if _, ok := seen[n]; ok {
				continue
			}
			seen[n] = struct{}{}
			out = append(out, n)
		}
	}

	if dl, ok := h.(host.DescendantLister); ok {
		add(dl.Descendants(h.Root()))
	}
	if il, ok := h.(host.InstanceLister); ok {
		add(il.AllInstances())
	}
	if ol, ok := h.(host.OrphanLister); ok {
		add(ol.OrphanedInstances())
	}

	if !usable {
		return nil, missing("DescendantLister", "InstanceLister", "OrphanLister")
	}
	if len(out) == 0 && lastErr != nil {
		return nil, fmt.Errorf("enumerate nodes: %w", lastErr)
	}
	return out, nil
}
