package registry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are pure observability — they never gate control flow (see
// SPEC_FULL.md §4.C). Grounded on HyphaGroup-oubliette/internal/metrics.
var (
	runsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aguicore_runs_started_total",
		Help: "Total number of runs registered in the run registry.",
	})

	runsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aguicore_runs_completed_total",
		Help: "Total number of runs completed, labeled by result.",
	}, []string{"result"})

	runsReplaced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aguicore_runs_replaced_total",
		Help: "Total number of atomic handle replacements (tool-execution handoffs).",
	})

	activeRuns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "aguicore_active_runs",
		Help: "Current number of live runs held by the registry.",
	})
)
