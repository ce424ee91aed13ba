// Package metrics provides Prometheus instrumentation for the fund engine.
package metrics

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TradesSubmitted counts accepted trade submissions by type.
	TradesSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fundengine_trades_submitted_total",
		Help: "Total trade events created",
	}, []string{"trade_type"})

	// TradeSubmitDuplicates counts submissions collapsed onto an existing
	// idempotency key.
	TradeSubmitDuplicates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fundengine_trade_submit_duplicates_total",
		Help: "Trade submissions deduplicated by idempotency key",
	})

	// TradeTransitions counts state-machine transitions by target status.
	TradeTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fundengine_trade_transitions_total",
		Help: "Trade state transitions",
	}, []string{"to"})

	// SnapshotRebuilds counts position snapshot recomputations.
	SnapshotRebuilds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fundengine_snapshot_rebuilds_total",
		Help: "Position snapshot reconstructions",
	})

	// SnapshotRebuildDuration tracks replay latency.
	SnapshotRebuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fundengine_snapshot_rebuild_duration_seconds",
		Help:    "Position reconstruction latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// AlertsFired counts admitted alert events by rule type.
	AlertsFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fundengine_alerts_fired_total",
		Help: "Alert events created",
	}, []string{"rule_type"})

	// AlertsSuppressed counts firings collapsed into an existing cooldown
	// bucket.
	AlertsSuppressed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fundengine_alerts_suppressed_total",
		Help: "Alert firings suppressed by the dedup/cooldown gate",
	}, []string{"rule_type"})

	// AlertDeliveries counts delivery outcomes.
	AlertDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fundengine_alert_deliveries_total",
		Help: "Alert delivery attempts by outcome",
	}, []string{"status"})

	// JobsEnqueued counts job enqueues by type.
	JobsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fundengine_jobs_enqueued_total",
		Help: "Jobs enqueued",
	}, []string{"job_type"})

	// JobRuns counts job executions by type and outcome
	// (completed, retried, failed).
	JobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fundengine_job_runs_total",
		Help: "Job executions by outcome",
	}, []string{"job_type", "outcome"})

	// JobDuration tracks executor latency by job type.
	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fundengine_job_duration_seconds",
		Help:    "Job execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"job_type"})

	// WebSocketClients tracks connected alert-stream clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fundengine_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fundengine_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fundengine_http_request_duration_seconds",
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

		// Use the raw path for the label; route cardinality is low.
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

// Hijack passes through to the underlying writer so WebSocket upgrades
// work behind the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	return hj.Hijack()
}
