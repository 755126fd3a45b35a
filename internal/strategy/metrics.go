package strategy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("callspy.strategy")

var (
	// strategyAttempts counts install attempts by strategy and result
	strategyAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "callspy_strategy_attempts_total",
		Help: "Total interception strategy attempts by strategy and result",
	}, []string{"strategy", "result"})

	endpointsHooked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "callspy_endpoints_hooked_total",
		Help: "Total endpoint nodes patched individually",
	})
)
