package webhook

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "orchestrator"

var (
	webhookRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "rejections_total",
			Help:      "Total webhook requests rejected during authentication by reason",
		},
		[]string{"reason"},
	)

	webhookDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "decisions_total",
			Help:      "Total authenticated webhook decisions by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)
)

func recordRejection(reason string) {
	webhookRejections.WithLabelValues(reason).Inc()
}

func recordDecisionOutcome(channel, outcome string) {
	webhookDecisions.WithLabelValues(channel, outcome).Inc()
}
