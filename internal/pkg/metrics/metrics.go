// Package metrics holds the process-wide Prometheus metrics that do not
// belong to a single module.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "orchestrator"

var (
	// HTTPRequestDuration tracks HTTP request latency by chi route pattern.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "route", "status_code"},
	)

	// HTTPRequestsInFlight counts requests currently being served.
	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Number of HTTP requests being served",
		},
	)

	dbPoolConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "pool_connections",
			Help:      "Number of database connections by state",
		},
		[]string{"state"},
	)

	dbPoolEmptyAcquires = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "pool_empty_acquires",
			Help:      "Acquires that had to wait for a connection since the pool was opened",
		},
	)

	buildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Always 1; labels carry the running build",
		},
		[]string{"version", "commit"},
	)
)

// PoolStats is the subset of *pgxpool.Stat read by RecordDBPool.
type PoolStats interface {
	AcquiredConns() int32
	IdleConns() int32
	ConstructingConns() int32
	TotalConns() int32
	MaxConns() int32
	EmptyAcquireCount() int64
}

// RecordDBPool publishes a snapshot of the connection pool.
func RecordDBPool(stats PoolStats) {
	dbPoolConnections.WithLabelValues("in_use").Set(float64(stats.AcquiredConns()))
	dbPoolConnections.WithLabelValues("idle").Set(float64(stats.IdleConns()))
	dbPoolConnections.WithLabelValues("constructing").Set(float64(stats.ConstructingConns()))
	dbPoolConnections.WithLabelValues("total").Set(float64(stats.TotalConns()))
	dbPoolConnections.WithLabelValues("max").Set(float64(stats.MaxConns()))
	dbPoolEmptyAcquires.Set(float64(stats.EmptyAcquireCount()))
}

// SetBuildInfo publishes the running version.
func SetBuildInfo(version, commit string) {
	buildInfo.Reset()
	buildInfo.WithLabelValues(version, commit).Set(1)
}
