package application

import (
	"sync"
	"time"

	alarms "plantwatch/internal/alarms/domain"
)

type conditionKey struct {
	scenarioID string
	index      int
}

// ConditionEvaluator evaluates scenario conditions and tracks how long each
// duration-gated condition has been continuously true.
type ConditionEvaluator struct {
	mu       sync.Mutex
	firstMet map[conditionKey]time.Time
}

// NewConditionEvaluator constructs an evaluator with an empty duration cache.
func NewConditionEvaluator() *ConditionEvaluator {
	return &ConditionEvaluator{firstMet: make(map[conditionKey]time.Time)}
}

// Evaluate checks every condition of scenario against snapshot. It returns the
// per-condition results and whether all conditions are met.
func (e *ConditionEvaluator) Evaluate(scenario alarms.Scenario, snapshot map[string]float64, now time.Time) ([]alarms.ConditionResult, bool) {
	results := make([]alarms.ConditionResult, len(scenario.Conditions))
	all := len(scenario.Conditions) > 0

	e.mu.Lock()
	defer e.mu.Unlock()
	for i, cond := range scenario.Conditions {
		result := alarms.ConditionResult{
			Index:     i,
			Tag:       cond.Tag,
			Operator:  cond.Operator,
			Threshold: cond.Threshold,
		}
		key := conditionKey{scenarioID: scenario.ID, index: i}

		value, ok := snapshot[cond.Tag]
		if ok {
			v := value
			result.Value = &v
		}
		raw := ok && cond.Operator.Compare(value, cond.Threshold)

		switch {
		case !raw:
			delete(e.firstMet, key)
		case cond.Duration() == 0:
			result.Met = true
		default:
			since, tracked := e.firstMet[key]
			if !tracked {
				e.firstMet[key] = now
			} else {
				result.Met = now.Sub(since) >= cond.Duration()
			}
		}

		if !result.Met {
			all = false
		}
		results[i] = result
	}
	return results, all
}

// Reset drops every tracked duration of a scenario.
func (e *ConditionEvaluator) Reset(scenarioID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for key := range e.firstMet {
		if key.scenarioID == scenarioID {
			delete(e.firstMet, key)
		}
	}
}

// PendingSince returns when condition index of scenario first became true.
func (e *ConditionEvaluator) PendingSince(scenarioID string, index int) (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	at, ok := e.firstMet[conditionKey{scenarioID: scenarioID, index: index}]
	return at, ok
}
