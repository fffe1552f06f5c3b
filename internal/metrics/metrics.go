// Package metrics provides Prometheus instrumentation for the vault engine.
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
	// OptionsIssued counts issued options, partitioned by type.
	OptionsIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "optvault_options_issued_total",
		Help: "Total number of options issued",
	}, []string{"type"})

	// OptionsSettled counts terminally settled options.
	OptionsSettled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "optvault_options_settled_total",
		Help: "Total number of options settled",
	})

	// BuyRejections counts rejected buys by reason.
	BuyRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "optvault_buy_rejections_total",
		Help: "Option purchases rejected, by reason",
	}, []string{"reason"})

	// PremiumVolume tracks cumulative premium collected, smallest units.
	PremiumVolume = promauto.NewCounter(prometheus.CounterOpts{
		Name: "optvault_premium_volume_total",
		Help: "Cumulative premium collected in smallest units",
	})

	// HedgesOpened counts newly opened hedge positions.
	HedgesOpened = promauto.NewCounter(prometheus.CounterOpts{
		Name: "optvault_hedges_opened_total",
		Help: "Hedge positions opened",
	})

	// HedgesResized counts resizes of existing hedge positions.
	HedgesResized = promauto.NewCounter(prometheus.CounterOpts{
		Name: "optvault_hedges_resized_total",
		Help: "Hedge positions resized",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "optvault_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "optvault_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "optvault_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
