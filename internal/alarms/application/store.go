package application

import (
	"errors"
	"fmt"
	"sync"
	"time"

	alarms "plantwatch/internal/alarms/domain"
)

// ScenarioStore owns the scenario set of one engine. Only the enabled flag and
// the last trigger time change after construction.
type ScenarioStore struct {
	mu        sync.RWMutex
	order     []string
	scenarios map[string]*alarms.Scenario
}

// NewScenarioStore loads scenarios in the given order.
func NewScenarioStore(scenarios []alarms.Scenario) (*ScenarioStore, error) {
	store := &ScenarioStore{scenarios: make(map[string]*alarms.Scenario, len(scenarios))}
	for _, scenario := range scenarios {
		if scenario.ID == "" {
			return nil, errors.New("scenario store: empty scenario id")
		}
		if _, exists := store.scenarios[scenario.ID]; exists {
			return nil, fmt.Errorf("scenario store: duplicate scenario id %s", scenario.ID)
		}
		clone := scenario.Clone()
		store.scenarios[scenario.ID] = &clone
		store.order = append(store.order, scenario.ID)
	}
	return store, nil
}

// List returns copies of every scenario in load order.
func (s *ScenarioStore) List() []alarms.Scenario {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]alarms.Scenario, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.scenarios[id].Clone())
	}
	return out
}

// Enabled returns copies of the enabled scenarios in load order.
func (s *ScenarioStore) Enabled() []alarms.Scenario {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]alarms.Scenario, 0, len(s.order))
	for _, id := range s.order {
		if scenario := s.scenarios[id]; scenario.Enabled {
			out = append(out, scenario.Clone())
		}
	}
	return out
}

// Get returns a copy of one scenario.
func (s *ScenarioStore) Get(id string) (alarms.Scenario, error) {
	if s == nil {
		return alarms.Scenario{}, errors.New("scenario store: nil")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	scenario, ok := s.scenarios[id]
	if !ok {
		return alarms.Scenario{}, alarms.ErrScenarioNotFound
	}
	return scenario.Clone(), nil
}

// SetEnabled flips the enabled flag and returns the updated scenario.
func (s *ScenarioStore) SetEnabled(id string, enabled bool) (alarms.Scenario, error) {
	if s == nil {
		return alarms.Scenario{}, errors.New("scenario store: nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	scenario, ok := s.scenarios[id]
	if !ok {
		return alarms.Scenario{}, alarms.ErrScenarioNotFound
	}
	scenario.Enabled = enabled
	return scenario.Clone(), nil
}

// MarkTriggered records the firing time of a scenario.
func (s *ScenarioStore) MarkTriggered(id string, at time.Time) error {
	if s == nil {
		return errors.New("scenario store: nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	scenario, ok := s.scenarios[id]
	if !ok {
		return alarms.ErrScenarioNotFound
	}
	at = at.UTC()
	scenario.LastTriggered = &at
	return nil
}

// Restore applies persisted runtime state. Unknown ids are ignored.
func (s *ScenarioStore) Restore(states []alarms.ScenarioState) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, state := range states {
		scenario, ok := s.scenarios[state.ScenarioID]
		if !ok {
			continue
		}
		scenario.Enabled = state.Enabled
		if state.LastTriggered != nil {
			last := state.LastTriggered.UTC()
			scenario.LastTriggered = &last
		}
	}
}

// CooldownAllows reports whether scenario may fire at now.
func CooldownAllows(scenario alarms.Scenario, now time.Time) bool {
	if scenario.LastTriggered == nil {
		return true
	}
	return now.Sub(*scenario.LastTriggered) >= scenario.Cooldown()
}
