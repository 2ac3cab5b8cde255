package tasks

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "orchestrator"

var (
	queueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "queue_depth",
			Help:      "Number of background tasks waiting for a worker",
		},
	)

	tasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "total",
			Help:      "Total background tasks by name and outcome",
		},
		[]string{"task", "status"},
	)

	taskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "duration_seconds",
			Help:      "Background task run time",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"task"},
	)
)

func recordTask(name, status string) {
	tasksTotal.WithLabelValues(name, status).Inc()
}

func recordTaskDuration(name string, d time.Duration) {
	taskDuration.WithLabelValues(name).Observe(d.Seconds())
}
