package strategy

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/coffersTech/callspy/internal/host"
	"github.com/coffersTech/callspy/internal/model"
	"github.com/coffersTech/callspy/internal/value"
)

var errNoOriginal = errors.New("original dispatch not yet captured")

// forwarder lets a hook be built before the original it forwards to is
// known. Hosts that swap and return the previous function in one call
// need this.
type forwarder struct {
	next atomic.Pointer[host.Func]
}

func (f *forwarder) set(fn host.Func) {
	f.next.Store(&fn)
}

func (f *forwarder) call(self model.Node, args []value.Value) ([]value.Value, error) {
	fn := f.next.Load()
	if fn == nil || *fn == nil {
		return nil, errNoOriginal
	}
	return (*fn)(self, args)
}

// introspector returns the host's method introspection after checking that
// it actually answers.
func introspector(h host.Host) (host.MethodIntrospector, error) {
	mi, ok := h.(host.MethodIntrospector)
	if !ok {
		return nil, missing("MethodIntrospector")
	}
	if _, err := mi.CurrentMethod(); errors.Is(err, host.ErrUnsupported) {
		return nil, hostErr("current method", err)
	}
	return mi, nil
}

// globalHook swaps the graph-wide dispatch function.
type globalHook struct{}

func (globalHook) Name() string { return NameGlobalHook }

func (globalHook) Install(_ context.Context, env *Env) error {
	gh, ok := env.Host.(host.GlobalHooker)
	if !ok {
		return missing("GlobalHooker")
	}
	mi, err := introspector(env.Host)
	if err != nil {
		return err
	}

	fwd := &forwarder{}
	hook := wrapClosure(env, env.Session.DispatchHook(fwd.call, mi))
	prev, err := gh.HookDispatch(hook)
	if err != nil {
		return hostErr("hook dispatch", err)
	}
	if prev == nil {
		// Nothing to forward to: every call would fail, so put it back.
		if _, err := gh.HookDispatch(prev); err != nil {
			env.Logger.Error("could not remove dispatch hook", "err", err)
		}
		return fmt.Errorf("hook dispatch: %w", errNoOriginal)
	}
	fwd.set(preserve(env, prev))
	return nil
}

// tableRewrite unlocks the raw dispatch table, overwrites the dispatch
// slot and locks it again.
type tableRewrite struct{}

func (tableRewrite) Name() string { return NameTableRewrite }

func (tableRewrite) Install(_ context.Context, env *Env) (err error) {
	raw, ok := env.Host.(host.RawTableAccessor)
	if !ok {
		return missing("RawTableAccessor")
	}
	toggler, ok := env.Host.(host.MutabilityToggler)
	if !ok {
		return missing("MutabilityToggler")
	}
	mi, err := introspector(env.Host)
	if err != nil {
		return err
	}

	tbl, err := raw.RawDispatchTable(env.Host.Root())
	if err != nil {
		return hostErr("raw dispatch table", err)
	}
	orig, ok := tbl.Get(host.DispatchSlot)
	if !ok || orig == nil {
		return errors.New("dispatch slot is empty")
	}
	if err := toggler.SetReadOnly(tbl, false); err != nil {
		return hostErr("make table writable", err)
	}
	defer func() {
		if rerr := toggler.SetReadOnly(tbl, true); rerr != nil && err == nil {
			err = hostErr("restore read-only", rerr)
		}
	}()

	hook := wrapClosure(env, env.Session.DispatchHook(preserve(env, orig), mi))
	if err := tbl.Set(host.DispatchSlot, hook); err != nil {
		return hostErr("write dispatch slot", err)
	}
	return nil
}

// tableReadOnly writes the dispatch slot through the ordinary accessor. It
// only works on hosts that leave the table unprotected.
type tableReadOnly struct{}

func (tableReadOnly) Name() string { return NameTableReadOnly }

func (tableReadOnly) Install(_ context.Context, env *Env) error {
	ta, ok := env.Host.(host.TableAccessor)
	if !ok {
		return missing("TableAccessor")
	}
	mi, err := introspector(env.Host)
	if err != nil {
		return err
	}

	tbl, err := ta.DispatchTable(env.Host.Root())
	if err != nil {
		return hostErr("dispatch table", err)
	}
	orig, ok := tbl.Get(host.DispatchSlot)
	if !ok || orig == nil {
		return errors.New("dispatch slot is empty")
	}
	hook := wrapClosure(env, env.Session.DispatchHook(preserve(env, orig), mi))
	if err := tbl.Set(host.DispatchSlot, hook); err != nil {
		return hostErr("write dispatch slot", err)
	}
	return nil
}

// preserve clones fn when the host can, so the hook keeps a stable copy of
// the original even if the slot is patched again later.
func preserve(env *Env, fn host.Func) host.Func {
	fc, ok := env.Host.(host.FunctionCloner)
	if !ok || fn == nil {
		return fn
	}
	clone, err := fc.CloneFunction(fn)
	if err != nil {
		return fn
	}
	return clone
}

// wrapClosure makes the hook call-site compatible when the host offers it.
func wrapClosure(env *Env, fn host.Func) host.Func {
	cw, ok := env.Host.(host.ClosureWrapper)
	if !ok {
		return fn
	}
	wrapped, err := cw.WrapClosure(fn)
	if err != nil {
		return fn
	}
	return wrapped
}
