package metrics

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func registerDBMetrics(db *sql.DB, logger *zap.Logger) {
	prometheus.MustRegister(dbGauges(db, logger)...)
}

// dbGauges reads table counts. invoices.status is a stored display hint, not the
// reconciled payment state.
func dbGauges(db *sql.DB, logger *zap.Logger) []prometheus.Collector {
	return []prometheus.Collector{
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: metricPrefix + "invoices_stored_status_open",
				Help: "Invoices whose stored display status is not paid; statements recompute payment state",
			},
			func() float64 {
				return queryCount(db, logger, "SELECT COUNT(*) FROM invoices WHERE status <> 'paid'")
			},
		),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: metricPrefix + "audit_log_entries",
				Help: "Audit log records",
			},
			func() float64 {
				return queryCount(db, logger, "SELECT COUNT(*) FROM audit_logs")
			},
		),
	}
}

func queryCount(db *sql.DB, logger *zap.Logger, query string) float64 {
	if db == nil {
		return 0
	}
	var count int64
	if err := db.QueryRow(query).Scan(&count); err != nil {
		if logger != nil {
			logger.Warn("metrics query failed", zap.Error(err))
		}
		return 0
	}
	if count < 0 {
		return 0
	}
	return float64(count)
}
