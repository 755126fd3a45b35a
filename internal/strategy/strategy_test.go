package strategy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coffersTech/callspy/internal/engine"
	"github.com/coffersTech/callspy/internal/host"
	"github.com/coffersTech/callspy/internal/host/sim"
	"github.com/coffersTech/callspy/internal/model"
	"github.com/coffersTech/callspy/internal/value"
)

func quietSession(h host.Host) *engine.Session {
	return engine.NewSession(h, engine.Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
}

func setup(t *testing.T, caps []sim.Capability) (*sim.World, *sim.Node, *engine.Session, Result) {
	t.Helper()
	w := sim.New(caps...)
	remote := w.Service("ReplicatedStorage").Add("Buy", "RemoteEvent")
	s := quietSession(w)
	res := NewSelector(w, s).Install(context.Background())
	return w, remote, s, res
}

func TestFullHostUsesGlobalHook(t *testing.T) {
	w, remote, s, res := setup(t, sim.AllCapabilities())

	require.True(t, res.Installed)
	assert.Equal(t, NameGlobalHook, res.Strategy)
	assert.Len(t, res.Outcomes, 1)

	_, err := w.Call(remote, model.FireServer, value.Number(1))
	require.NoError(t, err)
	assert.Equal(t, []string{`[RemoteEvent] ReplicatedStorage.Buy  :FireServer(1)`}, s.Logs())
	assert.Len(t, w.Received(), 1)
}

func TestWeakestTierFallsBackToPerInstance(t *testing.T) {
	w, remote, s, res := setup(t, sim.WeakestTier())

	require.True(t, res.Installed)
	assert.Equal(t, NamePerInstance, res.Strategy)
	require.Len(t, res.Outcomes, 5)
	for _, o := range res.Outcomes[:4] {
		assert.False(t, o.Installed, o.Name)
		assert.NotEmpty(t, o.Reason, o.Name)
	}
	assert.Contains(t, res.Outcomes[3].Reason, ErrSelfTestFailed.Error())
	assert.Len(t, res.Reasons(), 4)
	assert.NoError(t, res.Err())

	_, err := w.Call(remote, model.FireServer, value.String("a"))
	require.NoError(t, err)
	assert.Equal(t, []string{`[RemoteEvent] ReplicatedStorage.Buy  :FireServer("a")`}, s.Logs())
	assert.True(t, s.Hooked.Has(remote))
}

func TestLateEndpointsAreDiscoveredAndPatched(t *testing.T) {
	w, _, s, res := setup(t, sim.WeakestTier())
	require.Equal(t, NamePerInstance, res.Strategy)

	late := w.Service("ReplicatedStorage").Add("Late", "RemoteFunction")
	_, err := w.Call(late, model.InvokeServer)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"[NEW RemoteFunction] ReplicatedStorage.Late",
		"[RemoteFunction] ReplicatedStorage.Late  :InvokeServer()",
	}, s.Logs())
}

func TestInboundDeliveriesAreRecorded(t *testing.T) {
	w, remote, s, _ := setup(t, sim.WeakestTier())

	w.Deliver(remote, value.String("welcome"))
	assert.Equal(t, []string{`<- [RemoteEvent] ReplicatedStorage.Buy  :OnClientEvent("welcome")`}, s.Logs())
	assert.True(t, s.Inbound.Has(remote))
}

func TestInstallRunsOnce(t *testing.T) {
	w := sim.New(sim.WeakestTier()...)
	remote := w.Service("ReplicatedStorage").Add("Buy", "RemoteEvent")
	s := quietSession(w)
	sel := NewSelector(w, s)

	first := sel.Install(context.Background())
	second := sel.Install(context.Background())
	assert.Equal(t, first, second)
	assert.Equal(t, first, sel.Result())

	_, err := w.Call(remote, model.FireServer)
	require.NoError(t, err)
	w.Deliver(remote)
	assert.Len(t, s.Logs(), 2)
}

func TestReadOnlyTableWithoutToggleFallsThrough(t *testing.T) {
	caps := sim.Without(sim.AllCapabilities(), sim.CapGlobalHook, sim.CapToggle)
	w, remote, s, res := setup(t, caps)

	require.True(t, res.Installed)
	assert.Equal(t, NameCallSitePatch, res.Strategy)
	require.Len(t, res.Outcomes, 4)
	assert.Contains(t, res.Outcomes[1].Reason, ErrCapabilityMissing.Error())
	assert.Contains(t, res.Outcomes[2].Reason, "readonly")

	_, err := w.Call(remote, model.FireServer)
	require.NoError(t, err)
	assert.Len(t, s.Logs(), 1)
}

func TestTableRewriteRestoresReadOnly(t *testing.T) {
	caps := sim.Without(sim.AllCapabilities(), sim.CapGlobalHook)
	w, remote, s, res := setup(t, caps)
	require.Equal(t, NameTableRewrite, res.Strategy)

	tbl, err := w.DispatchTable(w.Root())
	require.NoError(t, err)
	assert.Error(t, tbl.Set(host.DispatchSlot, nil))

	_, err = w.Call(remote, model.FireServer, value.Bool(false))
	require.NoError(t, err)
	assert.Equal(t, []string{`[RemoteEvent] ReplicatedStorage.Buy  :FireServer(false)`}, s.Logs())
}

func TestWritableTableUsesOrdinaryAccessor(t *testing.T) {
	caps := append(sim.Without(sim.AllCapabilities(), sim.CapGlobalHook, sim.CapRawTable), sim.CapWritableTable)
	w, remote, s, res := setup(t, caps)
	require.Equal(t, NameTableReadOnly, res.Strategy)

	_, err := w.Call(remote, model.FireServer)
	require.NoError(t, err)
	assert.Len(t, s.Logs(), 1)
}

func TestSelfTestRestoresOriginals(t *testing.T) {
	caps := sim.Without(sim.WeakestTier(), sim.CapDescendants, sim.CapAllInstances, sim.CapOrphans)
	w, remote, s, res := setup(t, caps)

	assert.False(t, res.Installed)
	assert.Contains(t, res.Outcomes[3].Reason, ErrSelfTestFailed.Error())
	assert.True(t, errors.Is(res.Err(), ErrAllFailed))

	// No hook left behind on the probe's slot or anywhere else.
	_, err := w.Call(remote, model.FireServer)
	require.NoError(t, err)
	assert.Empty(t, s.Logs())
}

type rootOnly struct{ root model.Node }

func (h rootOnly) Root() model.Node { return h.root }

func TestBareHostFailsEveryStrategy(t *testing.T) {
	h := rootOnly{root: sim.New().Root()}
	res := NewSelector(h, quietSession(h)).Install(context.Background())

	assert.False(t, res.Installed)
	assert.Empty(t, res.Strategy)
	require.Len(t, res.Outcomes, 5)
	for _, o := range res.Outcomes {
		assert.Contains(t, o.Reason, ErrCapabilityMissing.Error(), o.Name)
	}
	err := res.Err()
	assert.True(t, errors.Is(err, ErrAllFailed))
	assert.Contains(t, err.Error(), NamePerInstance)
}

type panicky struct{}

func (panicky) Name() string { return "panicky" }

func (panicky) Install(context.Context, *Env) error { panic("host exploded") }

func TestPanickingStrategyIsContained(t *testing.T) {
	w := sim.New(sim.WeakestTier()...)
	s := quietSession(w)
	res := NewSelector(w, s, panicky{}, perInstancePatch{}).Install(context.Background())

	require.Len(t, res.Outcomes, 2)
	assert.Equal(t, "panic: host exploded", res.Outcomes[0].Reason)
	assert.True(t, res.Installed)
	assert.Equal(t, NamePerInstance, res.Strategy)
}

func TestPerInstanceSkipsOtherActors(t *testing.T) {
	w := sim.New(sim.WeakestTier()...)
	w.AddActor("Me", true)
	other := w.AddActor("Other", false)
	mine := w.Service("ReplicatedStorage").Add("Buy", "RemoteEvent")
	theirs := other.Add("Ping", "RemoteEvent")

	s := quietSession(w)
	res := NewSelector(w, s).Install(context.Background())
	require.Equal(t, NamePerInstance, res.Strategy)

	assert.True(t, s.Hooked.Has(mine))
	assert.False(t, s.Hooked.Has(theirs))
	assert.False(t, s.Inbound.Has(theirs))
}

func TestVerifyDetectsPerInstanceFunctions(t *testing.T) {
	shared := sim.New(sim.CapMethodLookup, sim.CapPatch, sim.CapSharedFuncs, sim.CapFactory, sim.CapInvoke)
	env := &Env{Host: shared, Session: quietSession(shared), Logger: slog.Default()}
	require.NoError(t, callSitePatch{}.Install(context.Background(), env))

	perInstance := sim.New(sim.CapMethodLookup, sim.CapPatch, sim.CapFactory, sim.CapInvoke)
	env = &Env{Host: perInstance, Session: quietSession(perInstance), Logger: slog.Default()}
	v := callSitePatch{}.Verify(context.Background(), env)
	assert.False(t, v.Verified)
	assert.NotEmpty(t, v.Reason)
}

func TestTotalFailureLeavesSessionInert(t *testing.T) {
	caps := []sim.Capability{sim.CapChildLookup, sim.CapDescendants, sim.CapCreationNotify, sim.CapInbound}
	w, remote, s, res := setup(t, caps)
	require.False(t, res.Installed)

	w.Deliver(remote, value.String("hi"))
	w.Service("ReplicatedStorage").Add("Late", "RemoteEvent")

	assert.Empty(t, s.Logs())
	assert.False(t, s.Inbound.Has(remote))
}

// announcing hands out the creation callbacks so a test can announce a
// node the strategy already enumerated.
type announcing struct {
	*sim.World
	added []func(model.Node)
}

func (a *announcing) OnNodeAdded(fn func(model.Node)) error {
	a.added = append(a.added, fn)
	return a.World.OnNodeAdded(fn)
}

func TestPerInstancePatchIsIdempotent(t *testing.T) {
	w := sim.New(sim.WeakestTier()...)
	remote := w.Service("ReplicatedStorage").Add("Buy", "RemoteEvent")
	s := quietSession(w)
	env := &Env{Host: w, Session: s, Logger: slog.Default()}
	ip := &instancePatcher{env: env, lookup: w, patcher: w, refs: make(map[host.FuncRef]struct{})}

	require.NoError(t, ip.patch(remote))
	require.NoError(t, ip.patch(remote))
	assert.Equal(t, 1, s.Hooked.Len())

	_, err := w.Call(remote, model.FireServer, value.Number(1))
	require.NoError(t, err)
	assert.Equal(t, []string{`[RemoteEvent] ReplicatedStorage.Buy  :FireServer(1)`}, s.Logs())
}

func TestEnumeratedAndAnnouncedNodeIsHookedOnce(t *testing.T) {
	h := &announcing{World: sim.New(sim.WeakestTier()...)}
	remote := h.Service("ReplicatedStorage").Add("Buy", "RemoteEvent")
	s := quietSession(h)
	env := &Env{Host: h, Session: s, Logger: slog.Default()}
	require.NoError(t, perInstancePatch{}.Install(context.Background(), env))
	require.Len(t, h.added, 1)

	h.added[0](remote)
	h.added[0](remote)

	_, err := h.Call(remote, model.FireServer, value.String("x"))
	require.NoError(t, err)
	assert.Equal(t, []string{`[RemoteEvent] ReplicatedStorage.Buy  :FireServer("x")`}, s.Logs())
	assert.Len(t, h.Received(), 1)
}

// noPrevDispatch accepts a dispatch hook but has nothing to return as the
// previous one.
type noPrevDispatch struct {
	*sim.World
	hooks []host.Func
}

func (h *noPrevDispatch) HookDispatch(fn host.Func) (host.Func, error) {
	h.hooks = append(h.hooks, fn)
	return nil, nil
}

func TestGlobalHookWithoutOriginalFailsClosed(t *testing.T) {
	h := &noPrevDispatch{World: sim.New(sim.AllCapabilities()...)}
	remote := h.Service("ReplicatedStorage").Add("Buy", "RemoteEvent")
	s := quietSession(h)

	res := NewSelector(h, s, globalHook{}, perInstancePatch{}).Install(context.Background())
	require.Len(t, res.Outcomes, 2)
	assert.False(t, res.Outcomes[0].Installed)
	assert.Contains(t, res.Outcomes[0].Reason, errNoOriginal.Error())
	require.Len(t, h.hooks, 2)
	assert.NotNil(t, h.hooks[0])
	assert.Nil(t, h.hooks[1])

	require.Equal(t, NamePerInstance, res.Strategy)
	_, err := h.Call(remote, model.FireServer)
	require.NoError(t, err)
	assert.Len(t, s.Logs(), 1)
}

func TestResultIsSafeDuringInstall(t *testing.T) {
	w := sim.New(sim.WeakestTier()...)
	w.Service("ReplicatedStorage").Add("Buy", "RemoteEvent")
	sel := NewSelector(w, quietSession(w))

	done := make(chan Result)
	go func() { done <- sel.Install(context.Background()) }()
	for i := 0; i < 100; i++ {
		r := sel.Result()
		if r.Installed {
			assert.Equal(t, NamePerInstance, r.Strategy)
		}
	}
	assert.Equal(t, <-done, sel.Result())
}
