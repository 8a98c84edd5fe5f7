// Package metrics provides Prometheus instrumentation for the market engine.
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
	// TradesTotal counts trades by final disposition (placed, cancelled,
	// won, lost).
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "predyx_trades_total",
		Help: "Total number of trade state transitions",
	}, []string{"status"})

	// TradeLatency tracks trade placement latency.
	TradeLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "predyx_trade_latency_seconds",
		Help:    "Trade placement latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// SettlementsTotal counts settlement runs by outcome.
	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "predyx_settlements_total",
		Help: "Total number of event settlement attempts",
	}, []string{"outcome"})

	// PayoutTotal accumulates credits distributed to winning trades.
	PayoutTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "predyx_payout_total",
		Help: "Cumulative payout credited to winning trades",
	})

	// LedgerOps counts balance mutations by direction.
	LedgerOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "predyx_ledger_operations_total",
		Help: "Total ledger debit/credit operations",
	}, []string{"op"})

	// NotificationsTotal counts published notifications by topic kind.
	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "predyx_notifications_total",
		Help: "Total notification payloads published",
	}, []string{"kind"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "predyx_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "predyx_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "predyx_http_request_duration_seconds",
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
