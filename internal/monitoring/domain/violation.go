package monitoring

import (
	"math"
	"time"
)

// ThresholdType tells which side of the band was crossed.
type ThresholdType string

const (
	ThresholdMin ThresholdType = "min"
	ThresholdMax ThresholdType = "max"
)

// Violation is a tag reading outside its normal band.
type Violation struct {
	Tag                        string        `json:"tag"`
	CurrentValue               float64       `json:"current_value"`
	ThresholdType              ThresholdType `json:"threshold_type"`
	ThresholdValue             float64       `json:"threshold_value"`
	Level                      Severity      `json:"level"`
	DeviationPercent           float64       `json:"deviation_percent"`
	Timestamp                  time.Time     `json:"timestamp"`
	PredictedMinutesToCritical *float64      `json:"predicted_minutes_to_critical,omitempty"`
}

// NewViolation builds a violation for value when it lies outside the normal band.
func NewViolation(cfg ThresholdConfig, value float64, at time.Time) (Violation, bool) {
	side, bound, level, ok := cfg.CrossedBound(value)
	if !ok {
		return Violation{}, false
	}
	return Violation{
		Tag:              cfg.Tag,
		CurrentValue:     value,
		ThresholdType:    side,
		ThresholdValue:   bound,
		Level:            level,
		DeviationPercent: DeviationPercent(value, bound),
		Timestamp:        at.UTC(),
	}, true
}

// DeviationPercent is |value-bound|/|bound|*100. A zero bound yields 0.
func DeviationPercent(value, bound float64) float64 {
	if bound == 0 {
		return 0
	}
	return math.Abs((value - bound) / bound * 100)
}
