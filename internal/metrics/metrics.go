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
			Name: "herald_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "herald_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	notificationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "herald_notifications_created_total",
			Help: "Total notifications created by channel",
		},
		[]string{"channel"},
	)

	dispatchAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "herald_dispatch_attempts_total",
			Help: "Dispatch attempts by channel and outcome (delivered, retried, abandoned)",
		},
		[]string{"channel", "outcome"},
	)

	dispatchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "herald_dispatch_latency_seconds",
			Help:    "Time from enqueue to delivered",
			Buckets: []float64{.1, .5, 1, 2, 5, 10, 30, 60, 300},
		},
		[]string{"channel"},
	)

	queueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "herald_delivery_queue_depth",
			Help: "Jobs currently visible in the delivery queue",
		},
	)

	idempotencyHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "herald_idempotency_hits_total",
			Help: "Create requests served from the idempotency cache",
		},
	)

	rateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "herald_rate_limit_rejections_total",
			Help: "Requests rejected by the rate limiter",
		},
		[]string{"key"},
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

// RecordNotificationCreated records a notification create.
func RecordNotificationCreated(channel string) {
	notificationsCreated.WithLabelValues(channel).Inc()
}

// RecordDispatchAttempt records one dispatch attempt outcome.
func RecordDispatchAttempt(channel, outcome string) {
	dispatchAttempts.WithLabelValues(channel, outcome).Inc()
}

// RecordDispatchLatency records end-to-end enqueue-to-delivered time.
func RecordDispatchLatency(channel string, latency time.Duration) {
	dispatchLatency.WithLabelValues(channel).Observe(latency.Seconds())
}

// SetQueueDepth sets the current visible delivery queue depth.
func SetQueueDepth(depth int64) {
	queueDepth.Set(float64(depth))
}

// RecordIdempotencyHit records a create replayed from the idempotency cache.
func RecordIdempotencyHit() {
	idempotencyHits.Inc()
}

// RecordRateLimitRejection records a rate limit rejection.
func RecordRateLimitRejection(key string) {
	rateLimitRejections.WithLabelValues(key).Inc()
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
