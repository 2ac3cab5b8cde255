package notifications

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "orchestrator"

var (
	notificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "sent_total",
			Help:      "Total notification send attempts by channel and status",
		},
		[]string{"channel", "status"},
	)

	notificationSendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "send_duration_seconds",
			Help:      "Time to send notification",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"channel"},
	)

	ticketsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "tickets_total",
			Help:      "Total incident tickets requested by status",
		},
		[]string{"status"},
	)
)

// recordNotificationSent records a sent notification metric.
func recordNotificationSent(channel, status string) {
	notificationsSent.WithLabelValues(channel, status).Inc()
}

// recordNotificationDuration records notification send duration.
func recordNotificationDuration(channel string, duration time.Duration) {
	notificationSendDuration.WithLabelValues(channel).Observe(duration.Seconds())
}

func recordTicket(status string) {
	ticketsCreated.WithLabelValues(status).Inc()
}
