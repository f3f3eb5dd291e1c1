package monitoring

import (
	"errors"
	"math"
	"sort"
	"sync"
)

// Severity is the classification of a single reading.
type Severity string

const (
	SeverityNormal   Severity = "normal"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Rank orders severities from normal to critical.
func (s Severity) Rank() int {
	switch s {
	case SeverityWarning:
		return 1
	case SeverityCritical:
		return 2
	default:
		return 0
	}
}

// ThresholdConfig holds the operating bounds of one tag.
type ThresholdConfig struct {
	Tag         string  `json:"tag" yaml:"tag"`
	Unit        string  `json:"unit" yaml:"unit"`
	Description string  `json:"description,omitempty" yaml:"description"`
	HardMin     float64 `json:"hard_min" yaml:"hard_min"`
	HardMax     float64 `json:"hard_max" yaml:"hard_max"`
	WarnMin     float64 `json:"warn_min" yaml:"warn_min"`
	WarnMax     float64 `json:"warn_max" yaml:"warn_max"`
	CritMin     float64 `json:"crit_min" yaml:"crit_min"`
	CritMax     float64 `json:"crit_max" yaml:"crit_max"`
}

// Validate checks that the bands nest: hard >= crit >= warn.
func (c ThresholdConfig) Validate() error {
	if c.Tag == "" {
		return errors.New("threshold: empty tag")
	}
	values := []float64{c.HardMin, c.HardMax, c.WarnMin, c.WarnMax, c.CritMin, c.CritMax}
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.New("threshold: non-finite bound")
		}
	}
	if !(c.HardMin <= c.CritMin && c.CritMin <= c.WarnMin && c.WarnMin <= c.WarnMax &&
		c.WarnMax <= c.CritMax && c.CritMax <= c.HardMax) {
		return errors.New("threshold: bounds must nest hard_min <= crit_min <= warn_min <= warn_max <= crit_max <= hard_max")
	}
	return nil
}

// Classify maps a value to a severity. Critical wins over warning.
func (c ThresholdConfig) Classify(value float64) Severity {
	if value < c.HardMin || value > c.HardMax || value < c.CritMin || value > c.CritMax {
		return SeverityCritical
	}
	if value < c.WarnMin || value > c.WarnMax {
		return SeverityWarning
	}
	return SeverityNormal
}

// CrossedBound returns the bound a non-normal value has crossed.
func (c ThresholdConfig) CrossedBound(value float64) (ThresholdType, float64, Severity, bool) {
	lowCrit := math.Max(c.HardMin, c.CritMin)
	highCrit := math.Min(c.HardMax, c.CritMax)
	switch {
	case value < lowCrit:
		return ThresholdMin, lowCrit, SeverityCritical, true
	case value > highCrit:
		return ThresholdMax, highCrit, SeverityCritical, true
	case value < c.WarnMin:
		return ThresholdMin, c.WarnMin, SeverityWarning, true
	case value > c.WarnMax:
		return ThresholdMax, c.WarnMax, SeverityWarning, true
	default:
		return "", 0, SeverityNormal, false
	}
}

// ThresholdTable is the set of configured tag bounds.
type ThresholdTable struct {
	mu      sync.RWMutex
	configs map[string]ThresholdConfig
}

// NewThresholdTable builds a table. Later entries replace earlier ones with the same tag.
func NewThresholdTable(configs []ThresholdConfig) *ThresholdTable {
	table := &ThresholdTable{configs: make(map[string]ThresholdConfig, len(configs))}
	for _, cfg := range configs {
		if cfg.Tag == "" {
			continue
		}
		table.configs[cfg.Tag] = cfg
	}
	return table
}

// Get returns the config for tag.
func (t *ThresholdTable) Get(tag string) (ThresholdConfig, bool) {
	if t == nil {
		return ThresholdConfig{}, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	cfg, ok := t.configs[tag]
	return cfg, ok
}

// Set installs or replaces a tag config after validation.
func (t *ThresholdTable) Set(cfg ThresholdConfig) error {
	if t == nil {
		return errors.New("threshold table: nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	t.mu.Lock()
	t.configs[cfg.Tag] = cfg
	t.mu.Unlock()
	return nil
}

// Tags returns configured tags in sorted order.
func (t *ThresholdTable) Tags() []string {
	if t == nil {
		return nil
	}
	t.mu.RLock()
	tags := make([]string, 0, len(t.configs))
	for tag := range t.configs {
		tags = append(tags, tag)
	}
	t.mu.RUnlock()
	sort.Strings(tags)
	return tags
}

// All returns every config sorted by tag.
func (t *ThresholdTable) All() []ThresholdConfig {
	tags := t.Tags()
	out := make([]ThresholdConfig, 0, len(tags))
	for _, tag := range tags {
		if cfg, ok := t.Get(tag); ok {
			out = append(out, cfg)
		}
	}
	return out
}

// Classify returns the severity of value for tag. Unknown tags are normal.
func (t *ThresholdTable) Classify(tag string, value float64) Severity {
	cfg, ok := t.Get(tag)
	if !ok {
		return SeverityNormal
	}
	return cfg.Classify(value)
}
