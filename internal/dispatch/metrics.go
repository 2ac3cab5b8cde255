package dispatch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "orchestrator"

var (
	dispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "calls_total",
			Help:      "Total agent trigger calls by stage and outcome",
		},
		[]string{"stage", "status"},
	)

	dispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "duration_seconds",
			Help:      "Agent trigger call latency",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"stage"},
	)
)

func recordDispatch(stage, status string) {
	dispatchTotal.WithLabelValues(stage, status).Inc()
}

func recordDispatchDuration(stage string, d time.Duration) {
	dispatchDuration.WithLabelValues(stage).Observe(d.Seconds())
}
