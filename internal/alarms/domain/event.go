package alarms

import "time"

// ConditionResult is the evaluated outcome of one scenario condition.
type ConditionResult struct {
	Index     int      `json:"index"`
	Tag       string   `json:"tag"`
	Operator  Operator `json:"operator"`
	Threshold float64  `json:"threshold"`
	Value     *float64 `json:"value,omitempty"`
	Met       bool     `json:"met"`
}

// Event is the immutable record of a scenario firing.
type Event struct {
	ID            string             `json:"id"`
	ScenarioID    string             `json:"scenario_id"`
	ScenarioName  string             `json:"scenario_name"`
	Level         Level              `json:"level"`
	TriggeredAt   time.Time          `json:"triggered_at"`
	ConditionsMet []ConditionResult  `json:"conditions_met"`
	ActionsTaken  []string           `json:"actions_taken"`
	SensorValues  map[string]float64 `json:"sensor_values"`
	Message       string             `json:"message"`
}

// CopySnapshot returns an independent copy of a sensor snapshot.
func CopySnapshot(snapshot map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(snapshot))
	for k, v := range snapshot {
		out[k] = v
	}
	return out
}
