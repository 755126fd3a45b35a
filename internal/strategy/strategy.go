// Package strategy attaches the dispatch hook to whatever interception
// mechanism the host exposes. Strategies are tried strongest first; the
// first one that installs wins and the rest are never attempted.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/coffersTech/callspy/internal/engine"
	"github.com/coffersTech/callspy/internal/host"
)

var (
	// ErrCapabilityMissing means the host lacks a primitive the strategy
	// needs. It is the expected failure of every tier the host cannot serve.
	ErrCapabilityMissing = errors.New("capability missing")
	// ErrSelfTestFailed means the hook was installed but an independent
	// probe call did not pass through it.
	ErrSelfTestFailed = errors.New("self-test failed")
	// ErrAllFailed is returned when no strategy installed.
	ErrAllFailed = errors.New("no interception strategy succeeded")
)

// Strategy names, in selection order.
const (
	NameGlobalHook    = "managed-global-hook"
	NameTableRewrite  = "dispatch-table-rewrite"
	NameTableReadOnly = "dispatch-table-readonly"
	NameCallSitePatch = "call-site-patch"
	NamePerInstance   = "per-instance-patch"
)

// Env is what a strategy installs into.
type Env struct {
	Host    host.Host
	Session *engine.Session
	Logger  *slog.Logger
}

// Strategy is one interception technique.
type Strategy interface {
	Name() string
	Install(ctx context.Context, env *Env) error
}

// Outcome is the result of one attempt.
type Outcome struct {
	Name      string `json:"name"`
	Installed bool   `json:"installed"`
	Reason    string `json:"reason,omitempty"`
}

// Result is the selector's verdict.
type Result struct {
	Installed bool      `json:"installed"`
	Strategy  string    `json:"strategy,omitempty"`
	Outcomes  []Outcome `json:"outcomes"`
}

// Reasons lists the failure reason of every failed attempt, prefixed with
// the strategy name.
func (r Result) Reasons() []string {
	var out []string
	for _, o := range r.Outcomes {
		if !o.Installed {
			out = append(out, o.Name+": "+o.Reason)
		}
	}
	return out
}

// Err returns ErrAllFailed, with every reason attached, when nothing
// installed.
func (r Result) Err() error {
	if r.Installed {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrAllFailed, strings.Join(r.Reasons(), "; "))
}

// Default returns the built-in strategies in selection order.
func Default() []Strategy {
	return []Strategy{
		globalHook{},
		tableRewrite{},
		tableReadOnly{},
		callSitePatch{},
		perInstancePatch{},
	}
}

// Selector runs the strategies once.
type Selector struct {
	env        *Env
	strategies []Strategy

	once   sync.Once
	mu     sync.Mutex
	result Result
}

// NewSelector binds a selector to a host and session. With no strategies
// given, Default is used.
func NewSelector(h host.Host, s *engine.Session, strategies ...Strategy) *Selector {
	if len(strategies) == 0 {
		strategies = Default()
	}
	return &Selector{
		env: &Env{
			Host:    h,
			Session: s,
			Logger:  s.Logger().With("component", "strategy"),
		},
		strategies: strategies,
	}
}

// Install tries each strategy in order until one succeeds, then starts
// endpoint discovery. Later calls return the first result unchanged.
func (sel *Selector) Install(ctx context.Context) Result {
	sel.once.Do(func() {
		res := sel.install(ctx)
		sel.mu.Lock()
		sel.result = res
		sel.mu.Unlock()
	})
	return sel.Result()
}

// Result returns the outcome of Install, or the zero Result while it has
// not finished.
func (sel *Selector) Result() Result {
	sel.mu.Lock()
	defer sel.mu.Unlock()
	return sel.result
}

func (sel *Selector) install(ctx context.Context) Result {
	ctx, span := tracer.Start(ctx, "strategy.Select")
	defer span.End()

	var res Result
	for _, st := range sel.strategies {
		err := sel.attempt(ctx, st)
		o := Outcome{Name: st.Name(), Installed: err == nil}
		if err != nil {
			o.Reason = err.Error()
		}
		res.Outcomes = append(res.Outcomes, o)
		if err == nil {
			res.Installed = true
			res.Strategy = st.Name()
			break
		}
	}

	if !res.Installed {
		sel.env.Logger.Error("no interception strategy succeeded", "reasons", res.Reasons())
		span.SetStatus(codes.Error, "all strategies failed")
		return res
	}
	sel.env.Logger.Info("interception installed", "strategy", res.Strategy, "attempts", len(res.Outcomes))
	span.SetAttributes(attribute.String("strategy", res.Strategy))

	watchEndpoints(sel.env)
	return res
}

// attempt runs one strategy inside a recover boundary.
func (sel *Selector) attempt(ctx context.Context, st Strategy) (err error) {
	name := st.Name()
	ctx, span := tracer.Start(ctx, "strategy.Attempt",
		trace.WithAttributes(attribute.String("strategy", name)),
	)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		result := "installed"
		if err != nil {
			result = "failed"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			sel.env.Logger.Debug("strategy failed", "strategy", name, "err", err)
		}
		span.SetAttributes(attribute.Bool("installed", err == nil))
		strategyAttempts.WithLabelValues(name, result).Inc()
		span.End()
	}()

	return st.Install(ctx, sel.env)
}

// missing builds an ErrCapabilityMissing naming the absent interfaces.
func missing(names ...string) error {
	return fmt.Errorf("%w: %s", ErrCapabilityMissing, strings.Join(names, ", "))
}

// hostErr maps a runtime ErrUnsupported onto ErrCapabilityMissing.
func hostErr(op string, err error) error {
	if errors.Is(err, host.ErrUnsupported) {
		return fmt.Errorf("%w: %s: %v", ErrCapabilityMissing, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
