// Package metrics exposes the notifier's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Push send outcomes.
const (
	OutcomeSent        = "sent"
	OutcomeGone        = "gone"
	OutcomeFailed      = "failed"
	OutcomeTimeout     = "timeout"
	OutcomeCircuitOpen = "circuit_open"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canteen_http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "canteen_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "path"},
	)

	pushSends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canteen_push_sends_total",
			Help: "Per-subscription push attempts by outcome",
		},
		[]string{"outcome"},
	)

	subscriptionsPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "canteen_subscriptions_pruned_total",
			Help: "Subscriptions removed after the push service reported them gone",
		},
	)

	subscriptionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "canteen_subscriptions",
			Help: "Registered push subscriptions",
		},
	)

	dispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "canteen_dispatch_duration_seconds",
			Help:    "Time to fan a notification out to every target",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"kind"},
	)

	dispatchTargets = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "canteen_dispatch_targets",
			Help:    "Subscriptions targeted per dispatch",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		},
		[]string{"kind"},
	)

	orderEventsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canteen_order_events_processed_total",
			Help: "Order status events consumed from SQS by result",
		},
		[]string{"result"},
	)

	sqsMessagesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "canteen_sqs_messages_in_flight",
			Help: "Order events currently being processed",
		},
	)

	idempotencyHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "canteen_idempotency_hits_total",
			Help: "Admin sends replayed from the idempotency cache",
		},
	)

	rateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canteen_rate_limit_rejections_total",
			Help: "Admin requests rejected by the rate limiter",
		},
		[]string{"operator"},
	)

	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "canteen_push_breaker_state",
			Help: "Circuit state per push host (0 closed, 1 open, 2 half-open)",
		},
		[]string{"host"},
	)

	breakerRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canteen_push_breaker_rejections_total",
			Help: "Sends skipped because the push host circuit was open",
		},
		[]string{"host"},
	)

	degraded = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "canteen_degraded",
			Help: "1 when a component runs in degraded mode",
		},
		[]string{"component"},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordPushSend counts one per-subscription attempt.
func RecordPushSend(outcome string) {
	pushSends.WithLabelValues(outcome).Inc()
}

// RecordPruned counts subscriptions dropped after a 410.
func RecordPruned(n int) {
	subscriptionsPruned.Add(float64(n))
}

// SetSubscriptions sets the registered subscription gauge.
func SetSubscriptions(n int) {
	subscriptionsActive.Set(float64(n))
}

// RecordDispatch records one fan-out.
func RecordDispatch(kind string, targets int, duration time.Duration) {
	dispatchDuration.WithLabelValues(kind).Observe(duration.Seconds())
	dispatchTargets.WithLabelValues(kind).Observe(float64(targets))
}

// RecordOrderEvent records the outcome of one queued order event.
func RecordOrderEvent(result string) {
	orderEventsProcessed.WithLabelValues(result).Inc()
}

// SetSQSMessagesInFlight sets the current in-flight message count
func SetSQSMessagesInFlight(count int) {
	sqsMessagesInFlight.Set(float64(count))
}

// RecordIdempotencyHit records a cache hit for idempotency
func RecordIdempotencyHit() {
	idempotencyHits.Inc()
}

// RecordRateLimitRejection records a rate limit rejection
func RecordRateLimitRejection(operator string) {
	rateLimitRejections.WithLabelValues(operator).Inc()
}

// SetBreakerState exports a push host's circuit state.
func SetBreakerState(host string, state int) {
	breakerState.WithLabelValues(host).Set(float64(state))
}

// RecordBreakerRejection counts a send skipped by an open circuit.
func RecordBreakerRejection(host string) {
	breakerRejections.WithLabelValues(host).Inc()
}

// SetDegraded flags component as running degraded.
func SetDegraded(component string, on bool) {
	v := 0.0
	if on {
		v = 1
	}
	degraded.WithLabelValues(component).Set(v)
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware records request metrics labelled with the chi route pattern,
// so ids in the URL do not explode label cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}

		RecordRequest(r.Method, path, wrapped.status, time.Since(start))
	})
}
