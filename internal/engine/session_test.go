package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coffersTech/callspy/internal/codec"
	"github.com/coffersTech/callspy/internal/host/sim"
	"github.com/coffersTech/callspy/internal/model"
	"github.com/coffersTech/callspy/internal/value"
)

func newTestSession(t *testing.T, capacity int) (*Session, *sim.World, *sim.Node) {
	t.Helper()
	w := sim.New(sim.AllCapabilities()...)
	remote := w.Service("ReplicatedStorage").Add("Buy", "RemoteEvent")
	return NewSession(w, Options{Capacity: capacity}), w, remote
}

func TestRecordRendersCanonicalLine(t *testing.T) {
	s, _, remote := newTestSession(t, 0)

	ok := s.Record(remote, model.FireServer, value.Values(1, "x"), model.Outbound)
	require.True(t, ok)
	assert.Equal(t, []string{`[RemoteEvent] ReplicatedStorage.Buy  :FireServer(1, "x")`}, s.Logs())

	ok = s.Record(remote, model.OnClientEvent, value.Values(true), model.Inbound)
	require.True(t, ok)
	assert.Equal(t, `<- [RemoteEvent] ReplicatedStorage.Buy  :OnClientEvent(true)`, s.Logs()[1])
}

func TestRecordGates(t *testing.T) {
	w := sim.New(sim.AllCapabilities()...)
	rs := w.Service("ReplicatedStorage")
	w.AddActor("Me", true)
	other := w.AddActor("Other", false)

	remote := rs.Add("Buy", "RemoteEvent")
	folder := rs.Add("Shop", "Folder")
	foreign := other.Add("Ping", "RemoteEvent")
	excluded := rs.Add("HeartbeatSync", "RemoteEvent")
	blocked := rs.Add("Chat", "RemoteFunction")

	tests := []struct {
		name   string
		setup  func(s *Session)
		target model.Node
		method model.Method
		reason string
	}{
		{"inactive", func(s *Session) { s.SetActive(false) }, remote, model.FireServer, SkipInactive},
		{"not an endpoint", nil, folder, model.FireServer, SkipClass},
		{"wrong method", nil, remote, model.InvokeServer, SkipMethod},
		{"other actor", nil, foreign, model.FireServer, SkipForeign},
		{"excluded by name", func(s *Session) { s.Filters.ExcludeName("Heartbeat") }, excluded, model.FireServer, SkipExcluded},
		{"blocked by identity", func(s *Session) { s.Filters.BlockNode(blocked) }, blocked, model.InvokeServer, SkipBlocked},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSession(w, Options{})
			if tt.setup != nil {
				tt.setup(s)
			}
			assert.False(t, s.Record(tt.target, tt.method, nil, model.Outbound))
			assert.Empty(t, s.Logs())
			assert.Equal(t, int64(1), s.Stats().Skipped[tt.reason])
		})
	}
}

func TestLogIsBoundedFIFO(t *testing.T) {
	const k = 10
	s, _, remote := newTestSession(t, k)

	for i := 0; i < k+5; i++ {
		s.Record(remote, model.FireServer, value.Values(i), model.Outbound)
	}

	logs := s.Logs()
	require.Len(t, logs, k)
	assert.Equal(t, `[RemoteEvent] ReplicatedStorage.Buy  :FireServer(5)`, logs[0])
	assert.Equal(t, `[RemoteEvent] ReplicatedStorage.Buy  :FireServer(14)`, logs[k-1])
	assert.Equal(t, int64(5), s.Log.Evicted())
}

func TestFilteringIsForwardOnly(t *testing.T) {
	s, _, remote := newTestSession(t, 0)

	s.Filters.ExcludeName("Bu")
	s.Record(remote, model.FireServer, value.Values(1), model.Outbound)
	s.Record(remote, model.FireServer, value.Values(2), model.Outbound)
	assert.Empty(t, s.Logs())

	s.Filters.ClearAll()
	s.Record(remote, model.FireServer, value.Values(3), model.Outbound)
	assert.Equal(t, []string{`[RemoteEvent] ReplicatedStorage.Buy  :FireServer(3)`}, s.Logs())
}

func TestClearAllClearsEverySet(t *testing.T) {
	fs := NewFilterSet()
	w := sim.New()
	n := w.Service("Workspace").Add("Ping", "RemoteEvent")

	fs.ExcludeName("x")
	fs.BlockName("y")
	fs.ExcludeNode(n)
	fs.BlockNode(n)
	assert.Equal(t, 4, fs.Size())

	fs.ClearAll()
	assert.Equal(t, 0, fs.Size())
	assert.Equal(t, Allow, fs.Check(n))
}

func TestForwardIsTransparent(t *testing.T) {
	s, _, remote := newTestSession(t, 0)
	wantErr := errors.New("server rejected")
	args := value.Values(1, "two")

	var gotArgs []value.Value
	orig := func(self model.Node, a []value.Value) ([]value.Value, error) {
		gotArgs = a
		return value.Values("result"), wantErr
	}

	res, err := s.Hook(orig, model.FireServer)(remote, args)
	assert.Same(t, wantErr, err)
	assert.Equal(t, value.Values("result"), res)
	assert.Equal(t, args, gotArgs)
	assert.Len(t, s.Logs(), 1)

	// Same result while paused.
	s.SetActive(false)
	res, err = s.Hook(orig, model.FireServer)(remote, args)
	assert.Same(t, wantErr, err)
	assert.Equal(t, value.Values("result"), res)
	assert.Len(t, s.Logs(), 1)
}

func TestForwardIsReentrant(t *testing.T) {
	s, w, outer := newTestSession(t, 0)
	inner := w.Service("ReplicatedStorage").Add("Log", "BindableEvent")

	innerHook := s.Hook(func(model.Node, []value.Value) ([]value.Value, error) {
		return nil, nil
	}, model.Fire)
	outerHook := s.Hook(func(model.Node, []value.Value) ([]value.Value, error) {
		return innerHook(inner, value.Values("nested"))
	}, model.FireServer)

	// A listener reading the log from inside notification must not deadlock.
	var seen int
	s.Subscribe(func(string) { seen = len(s.Logs()) })

	_, err := outerHook(outer, value.Values("top"))
	require.NoError(t, err)
	assert.Equal(t, []string{
		`[RemoteEvent] ReplicatedStorage.Buy  :FireServer("top")`,
		`[BindableEvent] ReplicatedStorage.Log  :Fire("nested")`,
	}, s.Logs())
	assert.Equal(t, 2, seen)
}

type panickyNode struct{}

func (panickyNode) Name() string       { panic("name unavailable") }
func (panickyNode) ClassName() string  { return "RemoteEvent" }
func (panickyNode) Parent() model.Node { return nil }
func (panickyNode) Alive() bool        { return true }

type rootOnly struct{ root model.Node }

func (h rootOnly) Root() model.Node { return h.root }

func TestForwardSurvivesRecordingPanic(t *testing.T) {
	s := NewSession(rootOnly{}, Options{})
	called := false
	_, err := s.Hook(func(model.Node, []value.Value) ([]value.Value, error) {
		called = true
		return nil, nil
	}, model.FireServer)(&panickyNode{}, nil)

	assert.NoError(t, err)
	assert.True(t, called)
	assert.Empty(t, s.Logs())
	assert.Equal(t, int64(1), s.Stats().Skipped[SkipPanic])
}

func TestProbeIsSwallowed(t *testing.T) {
	s, _, remote := newTestSession(t, 0)
	p := s.ArmProbe(remote)

	s.Record(remote, model.FireServer, nil, model.Outbound)
	assert.True(t, p.Fired())
	assert.Empty(t, s.Logs())

	s.DisarmProbe()
	s.Record(remote, model.FireServer, nil, model.Outbound)
	assert.Len(t, s.Logs(), 1)
}

func TestPushLogAndSearch(t *testing.T) {
	s, w, remote := newTestSession(t, 0)
	fn := w.Service("ReplicatedStorage").Add("GetPrice", "RemoteFunction")

	s.Record(remote, model.FireServer, value.Values("sword"), model.Outbound)
	s.Record(fn, model.InvokeServer, value.Values("sword"), model.Outbound)
	s.Record(remote, model.OnClientEvent, value.Values("ok"), model.Inbound)
	s.Info("replay failed")
	s.PushLog("garbage")

	rows, err := s.Search("class:RemoteEvent", 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, codec.Inbound, rows[0].Kind)
	assert.Equal(t, codec.Fired, rows[1].Kind)

	rows, err = s.Search(`dir:outbound AND args~sword`, 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Contains(t, rows[0].Line(), "GetPrice")

	rows, err = s.Search("kind:unparsed OR kind:info", 0)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	_, err = s.Search("(class:RemoteEvent", 0)
	assert.Error(t, err)
}

func TestSubscribeAndUnsubscribe(t *testing.T) {
	s, _, remote := newTestSession(t, 0)
	var got []string
	cancel := s.Subscribe(func(line string) { got = append(got, line) })

	s.Record(remote, model.FireServer, nil, model.Outbound)
	cancel()
	s.Record(remote, model.FireServer, nil, model.Outbound)

	assert.Equal(t, []string{`[RemoteEvent] ReplicatedStorage.Buy  :FireServer()`}, got)
}

func TestDiscoveredRow(t *testing.T) {
	s, w, _ := newTestSession(t, 0)
	n := w.Service("ReplicatedStorage").Add("Late", "UnreliableRemoteEvent")

	assert.True(t, s.Discovered(model.UnreliableRemoteEvent, n))
	assert.Equal(t, []string{"[NEW UnreliableRemoteEvent] ReplicatedStorage.Late"}, s.Logs())

	s.Filters.ExcludeNode(n)
	assert.False(t, s.Discovered(model.UnreliableRemoteEvent, n))
}

func TestStats(t *testing.T) {
	s, _, remote := newTestSession(t, 3)
	for i := 0; i < 4; i++ {
		s.Record(remote, model.FireServer, value.Values(i), model.Outbound)
	}
	s.Info(fmt.Sprintf("%d calls", 4))

	st := s.Stats()
	assert.Equal(t, int64(4), st.Recorded)
	assert.Equal(t, 3, st.Lines)
	assert.Equal(t, int64(2), st.Evicted)
	assert.Equal(t, 2, st.KindDist["fired"])
	assert.Equal(t, 1, st.KindDist["info"])
	assert.Equal(t, 2, st.TopPaths["ReplicatedStorage.Buy"])
	assert.NotEmpty(t, st.SessionID)
}
