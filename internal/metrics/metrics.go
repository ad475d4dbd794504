// Package metrics exposes citabot's Prometheus collectors and HTTP middleware.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citabot_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "citabot_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	activeConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "citabot_http_active_connections",
			Help: "Number of in-flight HTTP requests",
		},
	)

	inboundMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citabot_inbound_messages_total",
			Help: "Inbound WhatsApp messages by dialogue outcome",
		},
		[]string{"outcome"},
	)

	outboundMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citabot_outbound_messages_total",
			Help: "Outbound WhatsApp messages by delivery status",
		},
		[]string{"status"},
	)

	collaboratorFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citabot_collaborator_failures_total",
			Help: "Failed collaborator calls by category",
		},
		[]string{"category"},
	)

	schedulerDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citabot_scheduler_dispatched_total",
			Help: "Follow-ups and reminders dispatched by the scheduler",
		},
		[]string{"kind"},
	)
)

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware records request counts and latencies labelled by chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		activeConnections.Inc()
		defer activeConnections.Dec()

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := strconv.Itoa(rw.statusCode)
		httpRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
		httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// RecordInbound counts a processed inbound message by outcome.
func RecordInbound(outcome string) {
	inboundMessages.WithLabelValues(outcome).Inc()
}

// RecordOutbound counts an outbound send attempt ("sent" or "failed").
func RecordOutbound(status string) {
	outboundMessages.WithLabelValues(status).Inc()
}

// RecordCollaboratorFailure counts a degraded collaborator call.
func RecordCollaboratorFailure(category string) {
	collaboratorFailures.WithLabelValues(category).Inc()
}

// RecordDispatch counts a scheduler dispatch ("followup", "reminder_24h", ...).
func RecordDispatch(kind string) {
	schedulerDispatched.WithLabelValues(kind).Inc()
}
