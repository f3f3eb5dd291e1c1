package application

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	alarms "plantwatch/internal/alarms/domain"
	"plantwatch/internal/observability/metrics"
)

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// Engine evaluates scenarios against sensor snapshots and fires alarms.
type Engine struct {
	store      *ScenarioStore
	evaluator  *ConditionEvaluator
	dispatcher *Dispatcher
	recorder   *Recorder
	clock      Clock
	logger     *zap.Logger
	newID      func() string
}

// EngineOption customizes the engine.
type EngineOption func(*Engine)

// WithClock assigns a clock.
func WithClock(clock Clock) EngineOption {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *zap.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithEventIDs overrides event id generation.
func WithEventIDs(newID func() string) EngineOption {
	return func(e *Engine) {
		if newID != nil {
			e.newID = newID
		}
	}
}

// NewEngine constructs an engine.
func NewEngine(store *ScenarioStore, dispatcher *Dispatcher, recorder *Recorder, opts ...EngineOption) (*Engine, error) {
	if store == nil {
		return nil, errors.New("alarms: nil scenario store")
	}
	if dispatcher == nil {
		return nil, errors.New("alarms: nil dispatcher")
	}
	if recorder == nil {
		return nil, errors.New("alarms: nil recorder")
	}
	engine := &Engine{
		store:      store,
		evaluator:  NewConditionEvaluator(),
		dispatcher: dispatcher,
		recorder:   recorder,
		clock:      systemClock{},
		logger:     zap.NewNop(),
		newID:      NewEventID,
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine, nil
}

// NewEventID returns a random event id.
func NewEventID() string {
	return "evt-" + uuid.NewString()
}

// Evaluate runs every enabled scenario against snapshot at now and returns the
// events fired in scenario order.
func (e *Engine) Evaluate(ctx context.Context, snapshot map[string]float64, now time.Time) []alarms.Event {
	if e == nil {
		return nil
	}
	now = now.UTC()
	var fired []alarms.Event
	for _, scenario := range e.store.Enabled() {
		results, met := e.evaluator.Evaluate(scenario, snapshot, now)
		if !met {
			continue
		}
		if !CooldownAllows(scenario, now) {
			continue
		}

		actions := e.dispatcher.Dispatch(ctx, scenario)
		if err := e.store.MarkTriggered(scenario.ID, now); err != nil {
			e.logger.Error("mark triggered failed", zap.String("scenario_id", scenario.ID), zap.Error(err))
		}
		scenario.LastTriggered = &now

		event := alarms.Event{
			ID:            e.newID(),
			ScenarioID:    scenario.ID,
			ScenarioName:  scenario.Name,
			Level:         scenario.Level,
			TriggeredAt:   now,
			ConditionsMet: results,
			ActionsTaken:  actions,
			SensorValues:  alarms.CopySnapshot(snapshot),
			Message:       scenario.Message(),
		}
		e.recorder.Record(event)
		e.recorder.SaveState(alarms.StateOf(scenario, now))
		metrics.IncScenarioFired(scenario.ID, string(scenario.Level))
		e.logger.Warn("alarm triggered",
			zap.String("event_id", event.ID),
			zap.String("scenario_id", scenario.ID),
			zap.String("level", string(scenario.Level)),
			zap.Strings("actions", actions),
			zap.String("message", event.Message),
		)
		fired = append(fired, event)
	}
	return fired
}

// Scenarios lists the configured scenarios.
func (e *Engine) Scenarios() []alarms.Scenario {
	if e == nil {
		return nil
	}
	return e.store.List()
}

// Scenario returns one scenario.
func (e *Engine) Scenario(id string) (alarms.Scenario, error) {
	if e == nil {
		return alarms.Scenario{}, errors.New("alarms: nil engine")
	}
	return e.store.Get(id)
}

// SetEnabled enables or disables a scenario at runtime. Either way any
// partially elapsed condition durations of that scenario are dropped, so a
// re-enabled scenario always starts its duration gates fresh.
func (e *Engine) SetEnabled(id string, enabled bool) (alarms.Scenario, error) {
	if e == nil {
		return alarms.Scenario{}, errors.New("alarms: nil engine")
	}
	scenario, err := e.store.SetEnabled(id, enabled)
	if err != nil {
		return alarms.Scenario{}, err
	}
	e.evaluator.Reset(id)
	e.recorder.SaveState(alarms.StateOf(scenario, e.clock.Now()))
	e.logger.Info("scenario toggled", zap.String("scenario_id", id), zap.Bool("enabled", enabled))
	return scenario, nil
}

// History returns recorded events at or after since.
func (e *Engine) History(since time.Time) []alarms.Event {
	if e == nil {
		return nil
	}
	return e.recorder.History(since)
}

// RestoreState loads persisted scenario state into the store.
func (e *Engine) RestoreState(ctx context.Context, repo StateRepository) error {
	if e == nil {
		return errors.New("alarms: nil engine")
	}
	if repo == nil {
		return nil
	}
	states, err := repo.ListStates(ctx)
	if err != nil {
		return err
	}
	e.store.Restore(states)
	return nil
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
