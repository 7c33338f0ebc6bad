package metrics

import (
	"database/sql"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	metricPrefix = "clinic_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	statementComputeTotal   *prometheus.CounterVec
	statementComputeLatency *prometheus.HistogramVec
	statementExportTotal    *prometheus.CounterVec
	statementExportLatency  *prometheus.HistogramVec

	upstreamErrors      *prometheus.CounterVec
	overpaymentsTotal   prometheus.Counter
	statementInvoices   *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestsLatency *prometheus.HistogramVec
)

// Init registers observability metrics and DB-backed gauges. db may be nil.
func Init(db *sql.DB, logger *zap.Logger) {
	registerOnce.Do(func() {
		statementComputeTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "statement_compute_total",
				Help: "Total statement computations by report kind and result",
			},
			[]string{"kind", "result"},
		)
		statementComputeLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "statement_compute_latency_seconds",
				Help:    "Statement computation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind", "result"},
		)
		statementExportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "statement_export_total",
				Help: "Total statement export operations by format and result",
			},
			[]string{"format", "result"},
		)
		statementExportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "statement_export_latency_seconds",
				Help:    "Statement export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)
		upstreamErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "upstream_errors_total",
				Help: "Total store fetch failures by store",
			},
			[]string{"store"},
		)
		overpaymentsTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "overpayment_anomalies_total",
				Help: "Invoices observed with payments exceeding the invoice total",
			},
		)
		statementInvoices = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "statement_invoices",
				Help:    "Invoices reconciled per statement",
				Buckets: prometheus.ExponentialBuckets(1, 4, 8),
			},
			[]string{"kind"},
		)
		httpRequestsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "http_requests_total",
				Help: "Total HTTP requests by method and status",
			},
			[]string{"method", "status"},
		)
		httpRequestsLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "http_request_latency_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		)

		prometheus.MustRegister(
			statementComputeTotal,
			statementComputeLatency,
			statementExportTotal,
			statementExportLatency,
			upstreamErrors,
			overpaymentsTotal,
			statementInvoices,
			httpRequestsTotal,
			httpRequestsLatency,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveStatementCompute records a statement computation.
func ObserveStatementCompute(kind, result string, duration time.Duration) {
	if kind == "" {
		kind = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if statementComputeTotal != nil {
		statementComputeTotal.WithLabelValues(kind, result).Inc()
	}
	if statementComputeLatency != nil {
		statementComputeLatency.WithLabelValues(kind, result).Observe(duration.Seconds())
	}
}

// ObserveStatementInvoices records how many invoices a statement reconciled.
func ObserveStatementInvoices(kind string, count int) {
	if kind == "" {
		kind = "unknown"
	}
	if statementInvoices != nil {
		statementInvoices.WithLabelValues(kind).Observe(float64(count))
	}
}

// ObserveStatementExport records export latency and result.
func ObserveStatementExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if statementExportTotal != nil {
		statementExportTotal.WithLabelValues(format, result).Inc()
	}
	if statementExportLatency != nil {
		statementExportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// IncUpstreamError increments the store failure counter.
func IncUpstreamError(store string) {
	if store == "" {
		store = "unknown"
	}
	if upstreamErrors != nil {
		upstreamErrors.WithLabelValues(store).Inc()
	}
}

// AddOverpayments increments the overpayment anomaly counter by count.
func AddOverpayments(count int) {
	if count <= 0 {
		return
	}
	if overpaymentsTotal != nil {
		overpaymentsTotal.Add(float64(count))
	}
}

// ObserveHTTP records one served HTTP request.
func ObserveHTTP(method string, status int, duration time.Duration) {
	if httpRequestsTotal != nil {
		httpRequestsTotal.WithLabelValues(method, statusClass(status)).Inc()
	}
	if httpRequestsLatency != nil {
		httpRequestsLatency.WithLabelValues(method).Observe(duration.Seconds())
	}
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)
