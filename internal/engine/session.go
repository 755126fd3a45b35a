package engine

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/coffersTech/callspy/internal/codec"
	"github.com/coffersTech/callspy/internal/host"
	"github.com/coffersTech/callspy/internal/model"
	"github.com/coffersTech/callspy/internal/pkg/spyql"
	"github.com/coffersTech/callspy/internal/value"
)

// Options configures a Session.
type Options struct {
	Capacity int
	MaxDepth int
	Logger   *slog.Logger
}

// Session owns every piece of mutable spy state: the log, the filters, the
// hooked sets and the recording gate. Hooks installed by any strategy call
// back into one Session.
type Session struct {
	ID string

	Log     *CallLog
	Filters *FilterSet
	Hooked  *HookedSet // nodes carrying an outbound hook
	Inbound *HookedSet // nodes with an inbound subscription
	Actors  *ActorFilter

	enc    *value.Encoder
	logger *slog.Logger
	active atomic.Bool
	probe  atomic.Pointer[Probe]

	mu        sync.Mutex
	listeners map[int]func(string)
	nextSub   int

	recorded atomic.Int64
	skipMu   sync.Mutex
	skipped  map[string]int64
}

// NewSession creates a session bound to h. Recording starts active.
func NewSession(h host.Host, opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.NewString()
	s := &Session{
		ID:        id,
		Log:       NewCallLog(opts.Capacity),
		Filters:   NewFilterSet(),
		Hooked:    NewHookedSet(),
		Inbound:   NewHookedSet(),
		Actors:    NewActorFilter(h),
		enc:       value.NewEncoder(opts.MaxDepth),
		logger:    logger.With("session", id),
		listeners: make(map[int]func(string)),
		skipped:   make(map[string]int64),
	}
	s.active.Store(true)
	return s
}

// Logger returns the session-scoped logger.
func (s *Session) Logger() *slog.Logger {
	return s.logger
}

// SetActive opens or closes the recording gate. Installed hooks stay in
// place either way.
func (s *Session) SetActive(on bool) {
	s.active.Store(on)
	s.logger.Debug("recording gate changed", "active", on)
}

// Active reports the recording gate.
func (s *Session) Active() bool {
	return s.active.Load()
}

// Record runs the recording gates for one intercepted call and, when they
// all pass, appends the rendered line. It reports whether a line was
// written. Record never forwards; see Forward.
func (s *Session) Record(target model.Node, method model.Method, args []value.Value, dir model.Direction) bool {
	if p := s.probe.Load(); p != nil && target != nil && target == p.node {
		p.fired.Store(true)
		return false
	}
	if !s.active.Load() {
		return s.skip(SkipInactive)
	}
	class, ok := Classify(target)
	if !ok {
		return s.skip(SkipClass)
	}
	want := class.SendMethod()
	if dir == model.Inbound {
		want = class.ReceiveMethod()
	}
	if method != want {
		return s.skip(SkipMethod)
	}
	if s.Actors.IsForeign(target) {
		return s.skip(SkipForeign)
	}
	switch s.Filters.Check(target) {
	case Excluded:
		return s.skip(SkipExcluded)
	case Blocked:
		return s.skip(SkipBlocked)
	}

	rec := model.NewCallRecord(class, model.PathOf(target), method, dir, s.enc.EncodeArgs(args))
	kind := codec.Fired
	if dir == model.Inbound {
		kind = codec.Inbound
	}
	s.append(kind, codec.Encode(rec))

	s.recorded.Add(1)
	callsRecorded.WithLabelValues(string(class), dir.String()).Inc()
	return true
}

func (s *Session) skip(reason string) bool {
	s.skipMu.Lock()
	s.skipped[reason]++
	s.skipMu.Unlock()
	callsSkipped.WithLabelValues(reason).Inc()
	return false
}

// safeRecord isolates the caller from any failure while recording.
func (s *Session) safeRecord(target model.Node, method model.Method, args []value.Value, dir model.Direction) {
	defer func() {
		if r := recover(); r != nil {
			s.skip(SkipPanic)
			s.logger.Warn("recording failed", "method", method, "panic", fmt.Sprint(r))
		}
	}()
	s.Record(target, method, args, dir)
}

// Forward records the call and then invokes orig with the same target and
// arguments, returning its results and error untouched. No lock is held
// while orig runs.
func (s *Session) Forward(orig host.Func, target model.Node, method model.Method, args []value.Value) ([]value.Value, error) {
	s.safeRecord(target, method, args, model.Outbound)
	return orig(target, args)
}

// Hook wraps the implementation of one known method.
func (s *Session) Hook(orig host.Func, method model.Method) host.Func {
	return func(self model.Node, args []value.Value) ([]value.Value, error) {
		return s.Forward(orig, self, method, args)
	}
}

// DispatchHook wraps a shared dispatch function that serves every method.
// The method name is read from mi on each call.
func (s *Session) DispatchHook(orig host.Func, mi host.MethodIntrospector) host.Func {
	return func(self model.Node, args []value.Value) ([]value.Value, error) {
		method, err := mi.CurrentMethod()
		if err != nil {
			s.skip(SkipMethod)
			return orig(self, args)
		}
		return s.Forward(orig, self, method, args)
	}
}

// RecordInbound records a delivery that arrived at n from across the
// boundary.
func (s *Session) RecordInbound(n model.Node, method model.Method, args []value.Value) {
	s.safeRecord(n, method, args, model.Inbound)
}

// Discovered appends a DiscoveredLater row for an endpoint that appeared
// after installation. The recording gate and the filters apply as for
// calls.
func (s *Session) Discovered(class model.EndpointClass, n model.Node) bool {
	if !s.active.Load() || s.Filters.Check(n) != Allow {
		return false
	}
	s.append(codec.DiscoveredLater, codec.Discovered(class, model.PathOf(n)))
	return true
}

// Info appends an Informational row.
func (s *Session) Info(text string) {
	s.append(codec.Informational, codec.Info(text))
}

// PushLog appends an externally produced line. Its kind is decided by
// decoding it; lines matching no grammar are kept as Unparsed.
func (s *Session) PushLog(line string) {
	e, _ := codec.Decode(line)
	s.append(e.Kind, line)
}

func (s *Session) append(kind codec.Kind, line string) {
	s.Log.Append(kind, line)

	s.mu.Lock()
	fns := make([]func(string), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(line)
	}
}

// Subscribe registers fn to receive every appended line. The returned
// function removes the subscription.
func (s *Session) Subscribe(fn func(line string)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Logs returns the stored lines, oldest first.
func (s *Session) Logs() []string {
	return s.Log.Lines()
}

// ClearLogs drops every stored line.
func (s *Session) ClearLogs() {
	s.Log.Reset()
}

// Search parses query and returns matching rows, newest first. An empty
// query matches every row.
func (s *Session) Search(query string, limit int) ([]LogRow, error) {
	var node spyql.Node
	if strings.TrimSpace(query) != "" {
		var err error
		if node, err = spyql.Parse(query); err != nil {
			return nil, fmt.Errorf("parse query: %w", err)
		}
	}
	return s.Log.Search(Filter{}, node, limit), nil
}

// Probe is a one-shot side channel that fires when the hook observes a
// specific node.
type Probe struct {
	node  model.Node
	fired atomic.Bool
}

// Fired reports whether the hook saw the probe node.
func (p *Probe) Fired() bool {
	return p.fired.Load()
}

// ArmProbe starts watching for n. Calls on n are swallowed by the recorder
// while armed and never reach the log.
func (s *Session) ArmProbe(n model.Node) *Probe {
	p := &Probe{node: n}
	s.probe.Store(p)
	return p
}

// DisarmProbe stops watching.
func (s *Session) DisarmProbe() {
	s.probe.Store(nil)
}
