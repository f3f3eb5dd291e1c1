package alarms

import "errors"

var (
	// ErrScenarioNotFound indicates a missing scenario id.
	ErrScenarioNotFound = errors.New("alarm: scenario not found")
	// ErrNotFound indicates a missing alarm event.
	ErrNotFound = errors.New("alarm: not found")
)
