package metrics

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func registerDBMetrics(db *sql.DB, logger *zap.Logger) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "alarm_history_rows",
			Help: "Persisted alarm events",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM alarm_history")
		},
	))

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "scenarios_disabled",
			Help: "Scenarios persisted as disabled",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM scenario_states WHERE enabled = FALSE")
		},
	))
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
