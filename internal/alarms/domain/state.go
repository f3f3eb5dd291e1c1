package alarms

import "time"

// ScenarioState is the persisted runtime state of a scenario.
type ScenarioState struct {
	ScenarioID    string
	Enabled       bool
	LastTriggered *time.Time
	UpdatedAt     time.Time
}

// StateOf extracts the runtime state of a scenario.
func StateOf(s Scenario, at time.Time) ScenarioState {
	state := ScenarioState{ScenarioID: s.ID, Enabled: s.Enabled, UpdatedAt: at.UTC()}
	if s.LastTriggered != nil {
		last := s.LastTriggered.UTC()
		state.LastTriggered = &last
	}
	return state
}
