package metrics

import (
	"database/sql"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	metricPrefix = "plantwatch_"

	resultSuccess = "success"
	resultError   = "error"
	resultSkipped = "skipped"
)

var (
	registerOnce sync.Once

	tickTotal      *prometheus.CounterVec
	tickLatency    *prometheus.HistogramVec
	snapshotErrors prometheus.Counter

	scenarioFiredTotal *prometheus.CounterVec
	actionTotal        *prometheus.CounterVec
	violationTotal     *prometheus.CounterVec

	eventPersistTotal *prometheus.CounterVec
	eventDropped      prometheus.Counter

	exportTotal   *prometheus.CounterVec
	exportLatency *prometheus.HistogramVec
)

// Init registers metrics and, when db is set, DB-backed gauges.
func Init(db *sql.DB, logger *zap.Logger) {
	registerOnce.Do(func() {
		tickTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "evaluation_ticks_total",
				Help: "Total evaluation ticks by result",
			},
			[]string{"result"},
		)
		tickLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "evaluation_tick_latency_seconds",
				Help:    "Evaluation tick latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		snapshotErrors = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "snapshot_errors_total",
				Help: "Total failed sensor snapshot fetches",
			},
		)

		scenarioFiredTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "scenario_fired_total",
				Help: "Total alarm events by scenario and level",
			},
			[]string{"scenario", "level"},
		)
		actionTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "actions_total",
				Help: "Total dispatched actions by type and result",
			},
			[]string{"type", "result"},
		)
		violationTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "range_violations_total",
				Help: "Total range violations by tag and level",
			},
			[]string{"tag", "level"},
		)

		eventPersistTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "event_persist_total",
				Help: "Total alarm event persistence attempts by result",
			},
			[]string{"result"},
		)
		eventDropped = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "event_dropped_total",
				Help: "Alarm events dropped because the record queue was full",
			},
		)

		exportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "event_export_total",
				Help: "Total alarm history exports by format and result",
			},
			[]string{"format", "result"},
		)
		exportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "event_export_latency_seconds",
				Help:    "Alarm history export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		prometheus.MustRegister(
			tickTotal,
			tickLatency,
			snapshotErrors,
			scenarioFiredTotal,
			actionTotal,
			violationTotal,
			eventPersistTotal,
			eventDropped,
			exportTotal,
			exportLatency,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveTick records tick duration and result.
func ObserveTick(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if tickTotal != nil {
		tickTotal.WithLabelValues(result).Inc()
	}
	if tickLatency != nil {
		tickLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncSnapshotError increments the snapshot failure counter.
func IncSnapshotError() {
	if snapshotErrors != nil {
		snapshotErrors.Inc()
	}
}

// IncScenarioFired increments alarm event counters.
func IncScenarioFired(scenario, level string) {
	if scenario == "" {
		scenario = "unknown"
	}
	if scenarioFiredTotal != nil {
		scenarioFiredTotal.WithLabelValues(scenario, level).Inc()
	}
}

// IncAction increments dispatched action counters.
func IncAction(actionType, result string) {
	if actionType == "" {
		actionType = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if actionTotal != nil {
		actionTotal.WithLabelValues(actionType, result).Inc()
	}
}

// IncRangeViolation increments range violation counters.
func IncRangeViolation(tag, level string) {
	if violationTotal != nil {
		violationTotal.WithLabelValues(tag, level).Inc()
	}
}

// IncEventPersist increments event persistence counters.
func IncEventPersist(result string) {
	if result == "" {
		result = resultSuccess
	}
	if eventPersistTotal != nil {
		eventPersistTotal.WithLabelValues(result).Inc()
	}
}

// IncEventDropped increments the dropped event counter.
func IncEventDropped() {
	if eventDropped != nil {
		eventDropped.Inc()
	}
}

// ObserveExport records export latency and result.
func ObserveExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if exportTotal != nil {
		exportTotal.WithLabelValues(format, result).Inc()
	}
	if exportLatency != nil {
		exportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
	ResultSkipped = resultSkipped
)
