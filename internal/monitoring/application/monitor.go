package application

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	monitoring "plantwatch/internal/monitoring/domain"
	"plantwatch/internal/observability/metrics"
)

const (
	defaultLookback         = 60 * time.Minute
	defaultViolationHistory = 5000
)

// HistoryReader loads an ascending window of aggregated samples for a tag.
type HistoryReader interface {
	Window(ctx context.Context, tag string, since time.Time) ([]monitoring.Sample, error)
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// Monitor runs range checks and trend predictions over the threshold table.
type Monitor struct {
	thresholds *monitoring.ThresholdTable
	history    HistoryReader
	lookback   time.Duration
	clock      Clock
	logger     *zap.Logger
	violations *violationLog
}

// MonitorOption customizes the monitor.
type MonitorOption func(*Monitor)

// WithHistoryReader enables trend predictions.
func WithHistoryReader(reader HistoryReader) MonitorOption {
	return func(m *Monitor) {
		m.history = reader
	}
}

// WithLookback sets the prediction window length.
func WithLookback(lookback time.Duration) MonitorOption {
	return func(m *Monitor) {
		if lookback > 0 {
			m.lookback = lookback
		}
	}
}

// WithClock assigns a clock.
func WithClock(clock Clock) MonitorOption {
	return func(m *Monitor) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *zap.Logger) MonitorOption {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithViolationHistoryLimit bounds the in-memory violation log.
func WithViolationHistoryLimit(limit int) MonitorOption {
	return func(m *Monitor) {
		if limit > 0 {
			m.violations = newViolationLog(limit)
		}
	}
}

// NewMonitor constructs a monitor.
func NewMonitor(thresholds *monitoring.ThresholdTable, opts ...MonitorOption) (*Monitor, error) {
	if thresholds == nil {
		return nil, errors.New("monitoring: nil threshold table")
	}
	m := &Monitor{
		thresholds: thresholds,
		lookback:   defaultLookback,
		clock:      systemClock{},
		logger:     zap.NewNop(),
		violations: newViolationLog(defaultViolationHistory),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Thresholds exposes the table for runtime updates.
func (m *Monitor) Thresholds() *monitoring.ThresholdTable {
	if m == nil {
		return nil
	}
	return m.thresholds
}

// CheckAll classifies every configured tag present in snapshot and returns the
// violations in tag order.
func (m *Monitor) CheckAll(ctx context.Context, snapshot map[string]float64) []monitoring.Violation {
	if m == nil {
		return nil
	}
	now := m.clock.Now().UTC()
	var out []monitoring.Violation
	for _, tag := range m.thresholds.Tags() {
		value, ok := snapshot[tag]
		if !ok {
			continue
		}
		cfg, ok := m.thresholds.Get(tag)
		if !ok {
			continue
		}
		violation, ok := monitoring.NewViolation(cfg, value, now)
		if !ok {
			continue
		}
		if minutes, ok := m.predict(ctx, cfg); ok {
			violation.PredictedMinutesToCritical = &minutes
		}
		metrics.IncRangeViolation(tag, string(violation.Level))
		out = append(out, violation)
	}
	m.violations.append(out...)
	return out
}

// Predict estimates minutes until tag reaches its next warn or crit bound.
func (m *Monitor) Predict(ctx context.Context, tag string) (float64, bool, error) {
	if m == nil {
		return 0, false, errors.New("monitoring: nil monitor")
	}
	cfg, ok := m.thresholds.Get(tag)
	if !ok {
		return 0, false, monitoring.ErrUnknownTag
	}
	if m.history == nil {
		return 0, false, nil
	}
	samples, err := m.history.Window(ctx, tag, m.clock.Now().UTC().Add(-m.lookback))
	if err != nil {
		return 0, false, err
	}
	minutes, ok := monitoring.PredictMinutesToThreshold(cfg, monitoring.SampleValues(samples))
	return minutes, ok, nil
}

func (m *Monitor) predict(ctx context.Context, cfg monitoring.ThresholdConfig) (float64, bool) {
	if m.history == nil {
		return 0, false
	}
	minutes, ok, err := m.Predict(ctx, cfg.Tag)
	if err != nil {
		m.logger.Debug("trend prediction failed", zap.String("tag", cfg.Tag), zap.Error(err))
		return 0, false
	}
	return minutes, ok
}

// ViolationHistory returns recorded violations at or after since.
func (m *Monitor) ViolationHistory(since time.Time) []monitoring.Violation {
	if m == nil {
		return nil
	}
	return m.violations.since(since)
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
