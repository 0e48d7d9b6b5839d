// Package metrics exposes Prometheus instrumentation for the service.
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
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cirrus_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cirrus_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	decisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cirrus_delivery_decisions_total",
			Help: "Delivery decisions by outcome and reason",
		},
		[]string{"decision", "reason"},
	)

	preferenceUpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cirrus_preference_updates_total",
			Help: "Preference mutations by kind (global, category, quiet_hours, digest)",
		},
		[]string{"kind"},
	)

	digestItemsEnqueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cirrus_digest_items_enqueued_total",
			Help: "Notifications diverted into the digest queue",
		},
	)

	digestBatchesFlushed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cirrus_digest_batches_flushed_total",
			Help: "Digest batches flushed by the background worker, by result",
		},
		[]string{"status"},
	)

	unsubscribesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cirrus_unsubscribe_requests_total",
			Help: "Unsubscribe resolutions by outcome",
		},
		[]string{"outcome"},
	)

	rateLimitRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cirrus_rate_limit_rejections_total",
			Help: "Requests rejected by the rate limiter",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics.
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordDecision records one delivery decision.
func RecordDecision(decision, reason string) {
	decisionsTotal.WithLabelValues(decision, reason).Inc()
}

// RecordPreferenceUpdate records a preference mutation.
func RecordPreferenceUpdate(kind string) {
	preferenceUpdatesTotal.WithLabelValues(kind).Inc()
}

// RecordDigestEnqueued records a notification entering the digest queue.
func RecordDigestEnqueued() {
	digestItemsEnqueued.Inc()
}

// RecordDigestFlush records the outcome of one digest batch flush.
func RecordDigestFlush(status string) {
	digestBatchesFlushed.WithLabelValues(status).Inc()
}

// RecordUnsubscribe records an unsubscribe resolution outcome.
func RecordUnsubscribe(outcome string) {
	unsubscribesTotal.WithLabelValues(outcome).Inc()
}

// RecordRateLimitRejection records a rejected request.
func RecordRateLimitRejection() {
	rateLimitRejections.Inc()
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
