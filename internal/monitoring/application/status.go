package application

import (
	"context"
	"time"

	monitoring "plantwatch/internal/monitoring/domain"
)

// TagStatus is the current state of one configured tag.
type TagStatus struct {
	Tag               string              `json:"tag"`
	Unit              string              `json:"unit"`
	Value             *float64            `json:"value,omitempty"`
	Severity          monitoring.Severity `json:"status"`
	PredictionMinutes *float64            `json:"prediction_minutes,omitempty"`
}

// StatusSummary counts tags per severity.
type StatusSummary struct {
	Total    int `json:"total"`
	Normal   int `json:"normal"`
	Warning  int `json:"warning"`
	Critical int `json:"critical"`
}

// Status is a point-in-time view over every configured tag.
type Status struct {
	Timestamp  time.Time              `json:"timestamp"`
	Sensors    []TagStatus            `json:"sensors"`
	Violations []monitoring.Violation `json:"violations"`
	Summary    StatusSummary          `json:"summary"`
}

// Status classifies snapshot without recording violations.
// Tags missing from the snapshot are listed without a value and not counted.
func (m *Monitor) Status(ctx context.Context, snapshot map[string]float64) Status {
	if m == nil {
		return Status{}
	}
	now := m.clock.Now().UTC()
	configs := m.thresholds.All()
	status := Status{
		Timestamp:  now,
		Sensors:    make([]TagStatus, 0, len(configs)),
		Violations: []monitoring.Violation{},
		Summary:    StatusSummary{Total: len(configs)},
	}
	for _, cfg := range configs {
		entry := TagStatus{Tag: cfg.Tag, Unit: cfg.Unit, Severity: monitoring.SeverityNormal}
		value, ok := snapshot[cfg.Tag]
		if !ok {
			status.Sensors = append(status.Sensors, entry)
			continue
		}
		entry.Value = &value
		entry.Severity = cfg.Classify(value)
		if minutes, ok := m.predict(ctx, cfg); ok {
			entry.PredictionMinutes = &minutes
		}
		switch entry.Severity {
		case monitoring.SeverityCritical:
			status.Summary.Critical++
		case monitoring.SeverityWarning:
			status.Summary.Warning++
		default:
			status.Summary.Normal++
		}
		if violation, ok := monitoring.NewViolation(cfg, value, now); ok {
			violation.PredictedMinutesToCritical = entry.PredictionMinutes
			status.Violations = append(status.Violations, violation)
		}
		status.Sensors = append(status.Sensors, entry)
	}
	return status
}
