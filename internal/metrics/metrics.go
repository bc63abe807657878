// Package metrics exposes Prometheus collectors for the intake service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	submissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_submissions_total",
			Help: "Total form submissions, labeled by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	sinkDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_sink_deliveries_total",
			Help: "Total sink deliveries, labeled by sink and result.",
		},
		[]string{"sink", "result"},
	)

	sinkDeliveryDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "intake_sink_delivery_duration_seconds",
			Help:    "Histogram of sink delivery latencies, labeled by sink.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"sink"},
	)

	throttleRejectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "intake_throttle_rejections_total",
			Help: "Total submissions rejected by the per-address throttle.",
		},
	)

	phoneCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_phone_cache_total",
			Help: "Phone validation cache lookups, labeled by hit or miss.",
		},
		[]string{"result"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveSubmission counts one submission outcome.
func ObserveSubmission(kind, outcome string) {
	if kind == "" {
		kind = "unknown"
	}
	submissionsTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveSinkDelivery records the result and latency of one sink call.
func ObserveSinkDelivery(sink string, success bool, duration time.Duration) {
	result := "success"
	if !success {
		result = "failure"
	}
	sinkDeliveriesTotal.WithLabelValues(sink, result).Inc()
	sinkDeliveryDurationSeconds.WithLabelValues(sink).Observe(duration.Seconds())
}

// ObserveThrottleRejection increments the throttle rejection counter.
func ObserveThrottleRejection() {
	throttleRejectionsTotal.Inc()
}

// ObservePhoneCache records a phone cache hit or miss.
func ObservePhoneCache(hit bool) {
	if hit {
		phoneCacheTotal.WithLabelValues("hit").Inc()
		return
	}
	phoneCacheTotal.WithLabelValues("miss").Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
