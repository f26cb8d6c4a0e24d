package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// TerminalMetrics holds the collectors for one POS terminal process.
type TerminalMetrics struct {
	SalesQueued     prometheus.Counter
	SalesSynced     prometheus.Counter
	SyncFailures    *prometheus.CounterVec
	QueuePending    prometheus.Gauge
	DrainSeconds    prometheus.Histogram
	SubmitLatencyMS prometheus.Histogram
	HTTPRequests    *prometheus.CounterVec
	HTTPLatencyMS   *prometheus.HistogramVec
}

// New registers the terminal collectors on reg. Pass nil for the default
// registry; tests pass their own prometheus.NewRegistry().
func New(reg prometheus.Registerer) *TerminalMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &TerminalMetrics{
		SalesQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "warungpos",
			Subsystem: "terminal",
			Name:      "sales_queued_total",
			Help:      "Sales written to the pending queue.",
		}),
		SalesSynced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "warungpos",
			Subsystem: "terminal",
			Name:      "sales_synced_total",
			Help:      "Queued sales confirmed by the ledger.",
		}),
		SyncFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warungpos",
			Subsystem: "terminal",
			Name:      "sync_failures_total",
			Help:      "Sync attempts that failed, by failure kind.",
		}, []string{"kind"}),
		QueuePending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "warungpos",
			Subsystem: "terminal",
			Name:      "queue_pending",
			Help:      "Sales still waiting to reach the ledger.",
		}),
		DrainSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "warungpos",
			Subsystem: "terminal",
			Name:      "sync_drain_duration_seconds",
			Help:      "Wall time of one full queue drain.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		SubmitLatencyMS: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "warungpos",
			Subsystem: "terminal",
			Name:      "ledger_submit_duration_ms",
			Help:      "Latency of a single sale submission in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warungpos",
			Subsystem: "terminal",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"handler", "status"}),
		HTTPLatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "warungpos",
			Subsystem: "terminal",
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"handler"}),
	}

	reg.MustRegister(
		m.SalesQueued,
		m.SalesSynced,
		m.SyncFailures,
		m.QueuePending,
		m.DrainSeconds,
		m.SubmitLatencyMS,
		m.HTTPRequests,
		m.HTTPLatencyMS,
	)
	return m
}

func Handler() http.Handler {
	return promhttp.Handler()
}
