package replay

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/coffersTech/callspy/internal/engine"
	"github.com/coffersTech/callspy/internal/host"
	"github.com/coffersTech/callspy/internal/model"
	"github.com/coffersTech/callspy/internal/pkg/argtext"
	"github.com/coffersTech/callspy/internal/value"
)

var tracer = otel.Tracer("callspy.replay")

// replaysTotal counts executed replays by result
var replaysTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "callspy_replays_total",
	Help: "Total replay executions by result",
}, []string{"result"})

// Executor repeats logged calls against the live host. Failures are
// written to the session log as informational rows as well as returned.
type Executor struct {
	host    host.Host
	session *engine.Session
	logger  *slog.Logger
}

// NewExecutor binds an executor to a host and the session whose log
// receives diagnostics.
func NewExecutor(h host.Host, s *engine.Session) *Executor {
	return &Executor{
		host:    h,
		session: s,
		logger:  s.Logger().With("component", "replay"),
	}
}

// Execute decodes line, resolves its target, evaluates its arguments and
// invokes the replay method with them. It never panics.
func (x *Executor) Execute(ctx context.Context, line string) (err error) {
	ctx, span := tracer.Start(ctx, "replay.Execute")
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("replay panicked: %v", r)
		}
		result := "ok"
		if err != nil {
			result = "failed"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			x.logger.Warn("replay failed", "err", err)
			x.session.Info("replay failed: " + err.Error())
		}
		replaysTotal.WithLabelValues(result).Inc()
		span.End()
	}()

	e, err := decodeActionable(line)
	if err != nil {
		return err
	}
	span.SetAttributes(
		attribute.String("replay.path", e.DottedPath()),
		attribute.String("replay.method", string(e.ReplayMethod)),
	)

	target, err := x.resolve(e.DottedPath())
	if err != nil {
		return err
	}

	rewritten, err := argtext.Rewrite(e.ArgsText)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEvaluation, err)
	}
	args, err := argtext.EvalText(rewritten, x.resolve)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEvaluation, err)
	}

	inv, ok := x.host.(host.Invoker)
	if !ok {
		return fmt.Errorf("invoke %s: %w", e.ReplayMethod, host.ErrUnsupported)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	results, err := x.invoke(ctx, inv, target, e.ReplayMethod, args)
	if err != nil {
		return fmt.Errorf("invoke %s on %s: %w", e.ReplayMethod, e.DottedPath(), err)
	}
	x.logger.Debug("replayed call", "path", e.DottedPath(), "method", e.ReplayMethod, "results", len(results))
	return nil
}

func (x *Executor) invoke(ctx context.Context, inv host.Invoker, target model.Node, method model.Method, args []value.Value) ([]value.Value, error) {
	_, span := tracer.Start(ctx, "replay.Invoke", trace.WithAttributes(attribute.Int("replay.args", len(args))))
	defer span.End()
	return inv.Invoke(target, method, args)
}

// resolve walks path from the root. It fails closed on the first missing
// segment.
func (x *Executor) resolve(path string) (model.Node, error) {
	segs := model.SplitPath(path)
	if len(segs) == 0 {
		return nil, fmt.Errorf("%w: empty path", ErrResolution)
	}
	if _, ok := x.host.(host.ChildFinder); !ok {
		return nil, fmt.Errorf("%w: %w", ErrResolution, host.ErrUnsupported)
	}
	n, idx, ok := host.Resolve(x.host, segs)
	if !ok {
		return nil, fmt.Errorf("%w: %s: missing segment %q", ErrResolution, path, segs[idx])
	}
	return n, nil
}
