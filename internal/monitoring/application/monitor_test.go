package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	monitoring "plantwatch/internal/monitoring/domain"
)

type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time { return c.now }

type stubHistory struct {
	samples map[string][]monitoring.Sample
	err     error
	since   time.Time
}

func (s *stubHistory) Window(_ context.Context, tag string, since time.Time) ([]monitoring.Sample, error) {
	s.since = since
	if s.err != nil {
		return nil, s.err
	}
	return s.samples[tag], nil
}

func plantThresholds() *monitoring.ThresholdTable {
	return monitoring.NewThresholdTable([]monitoring.ThresholdConfig{
		{Tag: "TMP", Unit: "bar", HardMin: 0.5, HardMax: 3.0, WarnMin: 0.8, WarnMax: 2.5, CritMin: 0.5, CritMax: 2.8},
		{Tag: "COND", Unit: "uS/cm", HardMin: 0, HardMax: 500, WarnMin: 0, WarnMax: 400, CritMin: 0, CritMax: 450},
		{Tag: "PH", HardMin: 6.5, HardMax: 8.5, WarnMin: 6.8, WarnMax: 8.2, CritMin: 6.5, CritMax: 8.5},
	})
}

func rising(n int, start, step float64) []monitoring.Sample {
	out := make([]monitoring.Sample, n)
	base := time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC)
	for i := range out {
		out[i] = monitoring.Sample{At: base.Add(time.Duration(i) * time.Minute), Value: start + step*float64(i)}
	}
	return out
}

func TestCheckAllReturnsViolationsInTagOrder(t *testing.T) {
	clock := &fixedClock{now: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	monitor, err := NewMonitor(plantThresholds(), WithClock(clock))
	require.NoError(t, err)

	violations := monitor.CheckAll(context.Background(), map[string]float64{
		"TMP":   2.6,
		"COND":  460,
		"PH":    7.2,
		"OTHER": 99,
	})
	require.Len(t, violations, 2)
	assert.Equal(t, "COND", violations[0].Tag)
	assert.Equal(t, monitoring.SeverityCritical, violations[0].Level)
	assert.Equal(t, 450.0, violations[0].ThresholdValue)
	assert.Equal(t, "TMP", violations[1].Tag)
	assert.Equal(t, monitoring.SeverityWarning, violations[1].Level)
	assert.Nil(t, violations[1].PredictedMinutesToCritical)
	assert.Equal(t, clock.now, violations[1].Timestamp)

	assert.Len(t, monitor.ViolationHistory(clock.now.Add(-time.Minute)), 2)
	assert.Empty(t, monitor.ViolationHistory(clock.now.Add(time.Minute)))
}

func TestCheckAllAttachesPrediction(t *testing.T) {
	clock := &fixedClock{now: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	history := &stubHistory{samples: map[string][]monitoring.Sample{
		"TMP": rising(10, 1.7, 0.1),
	}}
	monitor, err := NewMonitor(plantThresholds(), WithClock(clock), WithHistoryReader(history), WithLookback(30*time.Minute))
	require.NoError(t, err)

	violations := monitor.CheckAll(context.Background(), map[string]float64{"TMP": 2.6})
	require.Len(t, violations, 1)
	require.NotNil(t, violations[0].PredictedMinutesToCritical)
	assert.InDelta(t, 2.0, *violations[0].PredictedMinutesToCritical, 1e-6)
	assert.Equal(t, clock.now.Add(-30*time.Minute), history.since)
}

func TestCheckAllIgnoresHistoryErrors(t *testing.T) {
	history := &stubHistory{err: errors.New("db down")}
	monitor, err := NewMonitor(plantThresholds(), WithHistoryReader(history))
	require.NoError(t, err)

	violations := monitor.CheckAll(context.Background(), map[string]float64{"TMP": 2.9})
	require.Len(t, violations, 1)
	assert.Nil(t, violations[0].PredictedMinutesToCritical)
}

func TestPredictUnknownTag(t *testing.T) {
	monitor, err := NewMonitor(plantThresholds())
	require.NoError(t, err)
	_, _, err = monitor.Predict(context.Background(), "NOPE")
	assert.ErrorIs(t, err, monitoring.ErrUnknownTag)
}

func TestStatusSummaryCounts(t *testing.T) {
	monitor, err := NewMonitor(plantThresholds())
	require.NoError(t, err)

	status := monitor.Status(context.Background(), map[string]float64{"TMP": 2.6, "PH": 7.0})
	assert.Equal(t, StatusSummary{Total: 3, Normal: 1, Warning: 1, Critical: 0}, status.Summary)
	require.Len(t, status.Sensors, 3)
	assert.Equal(t, "COND", status.Sensors[0].Tag)
	assert.Nil(t, status.Sensors[0].Value)
	require.Len(t, status.Violations, 1)
	assert.Empty(t, monitor.ViolationHistory(time.Time{}))
}

func TestViolationHistoryIsBounded(t *testing.T) {
	monitor, err := NewMonitor(plantThresholds(), WithViolationHistoryLimit(3))
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		monitor.CheckAll(context.Background(), map[string]float64{"TMP": 2.6})
	}
	assert.Len(t, monitor.ViolationHistory(time.Time{}), 3)
}
