package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// deskcache metrics
var (
	// Outbound calls to the support platform, one observation per attempt.
	RemoteRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deskcache",
			Subsystem: "remote",
			Name:      "requests_total",
			Help:      "Total outbound API attempts by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	RemoteRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "deskcache",
			Subsystem: "remote",
			Name:      "request_duration_seconds",
			Help:      "Outbound API attempt duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"operation"},
	)

	RemoteRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deskcache",
			Subsystem: "remote",
			Name:      "retries_total",
			Help:      "Retries scheduled by reason (transient, rate_limited)",
		},
		[]string{"operation", "reason"},
	)

	// Collection refreshes
	RefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deskcache",
			Subsystem: "cache",
			Name:      "refresh_total",
			Help:      "Collection refreshes by collection and result",
		},
		[]string{"collection", "result"},
	)

	RefreshDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "deskcache",
			Subsystem: "cache",
			Name:      "refresh_duration_seconds",
			Help:      "Collection refresh duration in seconds",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"collection"},
	)

	CollectionSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "deskcache",
			Subsystem: "cache",
			Name:      "collection_size",
			Help:      "Entities in the published snapshot",
		},
		[]string{"collection"},
	)

	DroppedRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deskcache",
			Subsystem: "cache",
			Name:      "dropped_records_total",
			Help:      "Remote records rejected by schema validation",
		},
		[]string{"collection"},
	)

	// Thread hydration
	HydrationItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deskcache",
			Subsystem: "hydration",
			Name:      "items_total",
			Help:      "Conversation hydrations by result (ok, failed, skipped)",
		},
		[]string{"result"},
	)

	HydrationInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "deskcache",
			Subsystem: "hydration",
			Name:      "in_flight",
			Help:      "Conversation fetches currently running",
		},
	)

	// Event bus
	BusDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deskcache",
			Subsystem: "bus",
			Name:      "dropped_events_total",
			Help:      "Events skipped because a subscriber buffer was full",
		},
		[]string{"kind"},
	)

	// Inbound HTTP
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deskcache",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)
)

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
