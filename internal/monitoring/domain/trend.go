package monitoring

import (
	"math"
	"time"
)

// MinTrendSamples is the smallest window the predictor accepts.
const MinTrendSamples = 10

// Sample is one aggregated reading of a tag.
type Sample struct {
	At    time.Time
	Value float64
}

// Slope fits value against sample index 0..n-1 by ordinary least squares.
// ok is false when the denominator is zero.
func Slope(values []float64) (float64, bool) {
	n := float64(len(values))
	if len(values) < 2 {
		return 0, false
	}
	var sumX, sumY, sumXY, sumX2 float64
	for i, y := range values {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumX2 += x * x
	}
	denominator := n*sumX2 - sumX*sumX
	if denominator == 0 {
		return 0, false
	}
	return (n*sumXY - sumX*sumY) / denominator, true
}

// PredictMinutesToThreshold extrapolates the trend of values and returns how many
// sample intervals remain until the warn or crit bound in the trend direction is
// reached. The smallest positive candidate wins.
func PredictMinutesToThreshold(cfg ThresholdConfig, values []float64) (float64, bool) {
	if len(values) < MinTrendSamples {
		return 0, false
	}
	slope, ok := Slope(values)
	if !ok || slope == 0 || math.IsNaN(slope) {
		return 0, false
	}
	current := values[len(values)-1]

	var candidates [2]float64
	if slope > 0 {
		candidates = [2]float64{(cfg.WarnMax - current) / slope, (cfg.CritMax - current) / slope}
	} else {
		candidates = [2]float64{(cfg.WarnMin - current) / slope, (cfg.CritMin - current) / slope}
	}

	best := math.Inf(1)
	for _, c := range candidates {
		if c > 0 && !math.IsInf(c, 0) && c < best {
			best = c
		}
	}
	if math.IsInf(best, 1) {
		return 0, false
	}
	return best, true
}

// SampleValues extracts values in order.
func SampleValues(samples []Sample) []float64 {
	values := make([]float64, len(samples))
	for i, s := range samples {
		values[i] = s.Value
	}
	return values
}
