package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ContentOperations counts lifecycle operations by kind, operation and outcome.
	ContentOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stillpoint_content_operations_total",
			Help: "Content lifecycle operations by outcome",
		},
		[]string{"kind", "op", "outcome"},
	)

	RelayDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stillpoint_relay_deliveries_total",
			Help: "Outbox deliveries by sink and result",
		},
		[]string{"sink", "result"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stillpoint_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stillpoint_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "route"},
	)
)

func ObserveContent(kind, op, outcome string) {
	ContentOperations.WithLabelValues(kind, op, outcome).Inc()
}

func ObserveDelivery(sink, result string) {
	RelayDeliveries.WithLabelValues(sink, result).Inc()
}
