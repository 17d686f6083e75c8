// Package metrics provides Prometheus instrumentation for the position
// engine.
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
	// OrdersSubmitted counts orders accepted by the ledger, by venue.
	OrdersSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deltadesk_orders_submitted_total",
		Help: "Orders accepted into the local ledger",
	}, []string{"venue"})

	// OrdersReconciled counts accepted venue merges, by venue.
	OrdersReconciled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deltadesk_orders_reconciled_total",
		Help: "Venue order reports merged into the local ledger",
	}, []string{"venue"})

	// FillsApplied counts fill deltas folded into orders, by venue.
	FillsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deltadesk_fills_applied_total",
		Help: "Fill executions applied to local orders",
	}, []string{"venue"})

	// ReconTicks counts scheduler ticks.
	ReconTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deltadesk_recon_ticks_total",
		Help: "Reconciliation scheduler ticks",
	})

	// ReconSkips counts account passes skipped because the previous pass
	// was still running.
	ReconSkips = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deltadesk_recon_skips_total",
		Help: "Account reconciliations skipped due to an in-flight pass",
	})

	// ReconAccountDuration tracks per-account reconciliation time.
	ReconAccountDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "deltadesk_recon_account_duration_seconds",
		Help:    "Per-account reconciliation pass duration in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
	}, []string{"venue"})

	// ReconAccountFailures counts failed account passes, by venue.
	ReconAccountFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deltadesk_recon_account_failures_total",
		Help: "Account reconciliation passes that ended in error",
	}, []string{"venue"})

	// PositionsLiquidated counts positions marked liquidated, by kind.
	PositionsLiquidated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deltadesk_positions_liquidated_total",
		Help: "Positions marked liquidated",
	}, []string{"kind"})

	// SnapshotsRecorded counts valuation snapshots written.
	SnapshotsRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deltadesk_snapshots_recorded_total",
		Help: "Position valuation snapshots recorded",
	})

	// TransfersIngested counts venue transfers recorded, by venue.
	TransfersIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deltadesk_transfers_ingested_total",
		Help: "Venue deposits and withdrawals recorded",
	}, []string{"venue"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "deltadesk_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deltadesk_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "deltadesk_http_request_duration_seconds",
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

		// Use the raw path for the label; the API surface is small enough
		// to keep cardinality in check.
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
