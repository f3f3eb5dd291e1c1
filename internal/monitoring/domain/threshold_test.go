package monitoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tmpThreshold() ThresholdConfig {
	return ThresholdConfig{
		Tag: "TMP", Unit: "bar",
		HardMin: 0.5, HardMax: 3.0,
		WarnMin: 0.8, WarnMax: 2.5,
		CritMin: 0.5, CritMax: 2.8,
	}
}

func TestClassifySeverityBands(t *testing.T) {
	cfg := tmpThreshold()
	cases := []struct {
		value float64
		want  Severity
	}{
		{1.5, SeverityNormal},
		{0.8, SeverityNormal},
		{2.5, SeverityNormal},
		{2.6, SeverityWarning},
		{0.7, SeverityWarning},
		{2.9, SeverityCritical},
		{0.4, SeverityCritical},
		{3.5, SeverityCritical},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, cfg.Classify(tc.value), "value %v", tc.value)
	}
}

func TestClassifyCriticalWinsOverWarning(t *testing.T) {
	cfg := ThresholdConfig{Tag: "X", HardMin: 0, HardMax: 100, WarnMin: 10, WarnMax: 90, CritMin: 5, CritMax: 95}
	// 97 is outside both warn and crit bands.
	assert.Equal(t, SeverityCritical, cfg.Classify(97))
	assert.Equal(t, SeverityCritical, cfg.Classify(101))
}

func TestTableClassifyUnknownTagIsNormal(t *testing.T) {
	table := NewThresholdTable([]ThresholdConfig{tmpThreshold()})
	assert.Equal(t, SeverityNormal, table.Classify("NOPE", 1e9))
	assert.Equal(t, SeverityWarning, table.Classify("TMP", 2.6))
}

func TestTableSetRejectsBadNesting(t *testing.T) {
	table := NewThresholdTable(nil)
	bad := tmpThreshold()
	bad.WarnMax = 2.9
	require.Error(t, table.Set(bad))

	require.NoError(t, table.Set(tmpThreshold()))
	assert.Equal(t, []string{"TMP"}, table.Tags())
}

func TestNewViolationUsesCrossedBound(t *testing.T) {
	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	v, ok := NewViolation(tmpThreshold(), 2.6, at)
	require.True(t, ok)
	assert.Equal(t, ThresholdMax, v.ThresholdType)
	assert.Equal(t, 2.5, v.ThresholdValue)
	assert.Equal(t, SeverityWarning, v.Level)
	assert.InDelta(t, 4.0, v.DeviationPercent, 1e-9)

	v, ok = NewViolation(tmpThreshold(), 0.4, at)
	require.True(t, ok)
	assert.Equal(t, ThresholdMin, v.ThresholdType)
	assert.Equal(t, 0.5, v.ThresholdValue)
	assert.Equal(t, SeverityCritical, v.Level)
	assert.InDelta(t, 20.0, v.DeviationPercent, 1e-9)

	_, ok = NewViolation(tmpThreshold(), 1.2, at)
	assert.False(t, ok)
}

func TestDeviationPercentZeroBound(t *testing.T) {
	assert.Equal(t, 0.0, DeviationPercent(-3, 0))
}
