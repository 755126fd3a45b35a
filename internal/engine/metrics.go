package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// callsRecorded counts accepted calls by endpoint class and direction
	callsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "callspy_calls_recorded_total",
		Help: "Total intercepted calls written to the log",
	}, []string{"class", "direction"})

	// callsSkipped counts calls the hook forwarded without recording
	callsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "callspy_calls_skipped_total",
		Help: "Total intercepted calls not recorded, by reason",
	}, []string{"reason"})

	logEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "callspy_log_evictions_total",
		Help: "Total log lines evicted by the capacity bound",
	})
)

// Skip reasons reported on callspy_calls_skipped_total.
const (
	SkipInactive = "inactive"
	SkipClass    = "class"
	SkipMethod   = "method"
	SkipForeign  = "foreign"
	SkipExcluded = "excluded"
	SkipBlocked  = "blocked"
	SkipPanic    = "panic"
)
