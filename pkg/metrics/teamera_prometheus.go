package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the service's Prometheus collectors.
	Registry = prometheus.NewRegistry()

	backendRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "teamera",
			Subsystem: "backend",
			Name:      "requests_total",
			Help:      "Requests sent to the managed backend.",
		},
		[]string{"call", "outcome"},
	)

	backendDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "teamera",
			Subsystem: "backend",
			Name:      "request_duration_seconds",
			Help:      "Duration of managed backend requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"call"},
	)

	sessionOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "teamera",
			Subsystem: "session",
			Name:      "operations_total",
			Help:      "Session manager operations by outcome.",
		},
		[]string{"operation", "outcome"},
	)

	realtimeEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "teamera",
			Subsystem: "realtime",
			Name:      "events_total",
			Help:      "Change-feed messages received, by kind.",
		},
		[]string{"kind"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "teamera",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "API requests by route and status class.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "teamera",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "API request latency by route.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

func init() {
	Registry.MustRegister(
		backendRequests, backendDuration,
		sessionOperations, realtimeEvents,
		httpRequests, httpDuration,
	)
}

func outcome(failed bool) string {
	if failed {
		return "error"
	}
	return "ok"
}

// ObserveBackend records one backend call in Prometheus and the latency registry.
func ObserveBackend(call string, d time.Duration, failed bool) {
	backendRequests.WithLabelValues(call, outcome(failed)).Inc()
	backendDuration.WithLabelValues(call).Observe(d.Seconds())
	global.Record(call, d, failed)
}

// ObserveOperation counts one session manager operation.
func ObserveOperation(op string, success bool) {
	sessionOperations.WithLabelValues(op, outcome(!success)).Inc()
}

// ObserveRealtime counts one change-feed message.
func ObserveRealtime(kind string) {
	realtimeEvents.WithLabelValues(kind).Inc()
}

// ObserveHTTP records one API request. route is the matched route
// pattern, not the raw path.
func ObserveHTTP(method, route string, status int, d time.Duration) {
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status/100)+"xx").Inc()
	httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(Registry, promhttp.HandlerOpts{}))
}
