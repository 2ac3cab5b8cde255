package incidents

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "orchestrator"

var (
	transitionsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "actions",
			Name:      "transitions_total",
			Help:      "Applied action transitions by source and target state",
		},
		[]string{"source", "to_state"},
	)

	versionConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "incidents",
			Name:      "version_conflicts_total",
			Help:      "Conditional incident writes rejected because of a concurrent update",
		},
	)

	auditAppendFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "append_failures_total",
			Help:      "Audit records that could not be written",
		},
	)

	reportsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reports",
			Name:      "ingested_total",
			Help:      "Agent reports ingested by agent kind",
		},
		[]string{"agent"},
	)

	reconciledEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "events_total",
			Help:      "Transition events repaired by reconciliation, by direction",
		},
		[]string{"direction"},
	)
)

func recordTransition(source, toState string) {
	transitionsApplied.WithLabelValues(source, toState).Inc()
}
