// Package metrics provides Prometheus instrumentation for the quicktrade
// service.
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
	// QuickTradesTotal counts quick trades executed, partitioned by
	// direction (UP/DOWN) and kind (buy/sell).
	QuickTradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quicktrade_trades_total",
		Help: "Total number of quick trades executed",
	}, []string{"direction", "kind"})

	// TradeLatency is the end-to-end settle latency of a quick trade.
	TradeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "quicktrade_trade_latency_seconds",
		Help:    "Quick trade settle latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	// TradeFailures counts trades that settled with an error.
	TradeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quicktrade_trade_failures_total",
		Help: "Quick trades that settled with an error",
	}, []string{"kind"})

	// PreviewsTotal counts hover previews computed, by resulting kind.
	PreviewsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quicktrade_previews_total",
		Help: "Total trade previews computed",
	}, []string{"kind"})

	// PreviewsSuppressed counts previews collapsed to none because the
	// market cannot take a quick trade in that direction.
	PreviewsSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quicktrade_previews_suppressed_total",
		Help: "Previews suppressed for unsupported markets or directions",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quicktrade_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quicktrade_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "quicktrade_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})

	// GuardRejections counts trades rejected before execution, by reason
	// (rate_limit or exposure).
	GuardRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quicktrade_guard_rejections_total",
		Help: "Trades rejected by the rate or exposure guard",
	}, []string{"reason"})

	// OrdersCancelled counts resting limit orders cancelled because their
	// maker ran out of balance during a fill.
	OrdersCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quicktrade_orders_cancelled_total",
		Help: "Limit orders cancelled for insufficient maker balance",
	})
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
