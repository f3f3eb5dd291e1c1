package application

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	alarms "plantwatch/internal/alarms/domain"
)

type memoryEvents struct {
	mu     sync.Mutex
	events []alarms.Event
	err    error
}

func (m *memoryEvents) Save(_ context.Context, event alarms.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, event)
	return nil
}

func (m *memoryEvents) saved() []alarms.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]alarms.Event(nil), m.events...)
}

type memoryStates struct {
	mu     sync.Mutex
	states map[string]alarms.ScenarioState
}

func (m *memoryStates) SaveState(_ context.Context, state alarms.ScenarioState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.states == nil {
		m.states = make(map[string]alarms.ScenarioState)
	}
	m.states[state.ScenarioID] = state
	return nil
}

func (m *memoryStates) ListStates(context.Context) ([]alarms.ScenarioState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]alarms.ScenarioState, 0, len(m.states))
	for _, s := range m.states {
		out = append(out, s)
	}
	return out, nil
}

type countingNotifier struct {
	mu     sync.Mutex
	events []alarms.Event
}

func (n *countingNotifier) Notify(_ context.Context, event alarms.Event) {
	n.mu.Lock()
	n.events = append(n.events, event)
	n.mu.Unlock()
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("evt-%d", n)
	}
}

func newTestEngine(t *testing.T, scenarios []alarms.Scenario, handlers map[alarms.ActionType]ActionHandler, recorderOpts ...RecorderOption) (*Engine, *Recorder, *manualScheduler) {
	t.Helper()
	store, err := NewScenarioStore(scenarios)
	require.NoError(t, err)
	scheduler := &manualScheduler{}
	recorder := NewRecorder(recorderOpts...)
	t.Cleanup(recorder.Close)
	engine, err := NewEngine(store, NewDispatcher(handlers, WithScheduler(scheduler)), recorder, WithEventIDs(sequentialIDs()))
	require.NoError(t, err)
	return engine, recorder, scheduler
}

func s001() alarms.Scenario {
	return alarms.Scenario{
		ID:          "S001",
		Name:        "Membrane pressure high",
		Description: "TMP above warning level",
		Level:       alarms.LevelWarning,
		Enabled:     true,
		Conditions: []alarms.Condition{
			{Tag: "TMP", Operator: alarms.OperatorGreater, Threshold: 2.5, DurationSeconds: 60},
		},
		Actions: []alarms.Action{
			{Type: alarms.ActionNotify, Parameters: map[string]any{"target": "operator", "method": "sms"}},
			{Type: alarms.ActionAdjust, Parameters: map[string]any{"pump_speed": -10}, DelaySeconds: 30},
		},
		CooldownSeconds: 600,
	}
}

func TestEngineFiresAfterDurationAndRespectsCooldown(t *testing.T) {
	notify := &recordingHandler{}
	engine, _, scheduler := newTestEngine(t, []alarms.Scenario{s001()}, map[alarms.ActionType]ActionHandler{
		alarms.ActionNotify: notify,
		alarms.ActionAdjust: &recordingHandler{},
	})
	ctx := context.Background()
	snapshot := map[string]float64{"TMP": 2.6}

	assert.Empty(t, engine.Evaluate(ctx, snapshot, t0))
	events := engine.Evaluate(ctx, snapshot, t0.Add(61*time.Second))
	require.Len(t, events, 1)
	event := events[0]
	assert.Equal(t, "S001", event.ScenarioID)
	assert.Equal(t, alarms.LevelWarning, event.Level)
	assert.Equal(t, []string{"notify", "adjust (delayed 30s)"}, event.ActionsTaken)
	assert.Equal(t, "[WARNING] Membrane pressure high: TMP above warning level", event.Message)
	assert.Equal(t, 1, notify.count())
	assert.Len(t, scheduler.calls, 1)

	stored, err := engine.Scenario("S001")
	require.NoError(t, err)
	require.NotNil(t, stored.LastTriggered)
	assert.Equal(t, t0.Add(61*time.Second), *stored.LastTriggered)

	assert.Empty(t, engine.Evaluate(ctx, snapshot, t0.Add(161*time.Second)), "inside cooldown")
	assert.Len(t, engine.Evaluate(ctx, snapshot, t0.Add(661*time.Second)), 1, "cooldown elapsed")
}

func TestEngineSensorValuesAreCopied(t *testing.T) {
	s := s001()
	s.Conditions[0].DurationSeconds = 0
	engine, _, _ := newTestEngine(t, []alarms.Scenario{s}, nil)
	snapshot := map[string]float64{"TMP": 2.6}

	events := engine.Evaluate(context.Background(), snapshot, t0)
	require.Len(t, events, 1)
	snapshot["TMP"] = 9
	assert.Equal(t, 2.6, events[0].SensorValues["TMP"])
}

func TestEngineCooldownUpdatedWhenActionsFail(t *testing.T) {
	s := s001()
	s.Conditions[0].DurationSeconds = 0
	engine, _, _ := newTestEngine(t, []alarms.Scenario{s}, map[alarms.ActionType]ActionHandler{
		alarms.ActionNotify: &recordingHandler{err: errors.New("down")},
	})
	snapshot := map[string]float64{"TMP": 2.6}

	require.Len(t, engine.Evaluate(context.Background(), snapshot, t0), 1)
	assert.Empty(t, engine.Evaluate(context.Background(), snapshot, t0.Add(time.Second)))
}

func TestEngineDisabledScenarioDoesNotFire(t *testing.T) {
	s := s001()
	s.Conditions[0].DurationSeconds = 0
	engine, _, _ := newTestEngine(t, []alarms.Scenario{s}, nil)

	_, err := engine.SetEnabled("S001", false)
	require.NoError(t, err)
	assert.Empty(t, engine.Evaluate(context.Background(), map[string]float64{"TMP": 3}, t0))

	_, err = engine.SetEnabled("S001", true)
	require.NoError(t, err)
	assert.Len(t, engine.Evaluate(context.Background(), map[string]float64{"TMP": 3}, t0), 1)

	_, err = engine.SetEnabled("S404", true)
	assert.ErrorIs(t, err, alarms.ErrScenarioNotFound)
}

func TestEngineReenableStartsDurationFresh(t *testing.T) {
	engine, _, _ := newTestEngine(t, []alarms.Scenario{s001()}, nil)
	snapshot := map[string]float64{"TMP": 2.6}

	_, err := engine.SetEnabled("S001", false)
	require.NoError(t, err)
	// An evaluation already in flight when the scenario was disabled can
	// still leave a timer behind.
	stale, err := engine.Scenario("S001")
	require.NoError(t, err)
	stale.Enabled = true
	engine.evaluator.Evaluate(stale, snapshot, t0)

	_, err = engine.SetEnabled("S001", true)
	require.NoError(t, err)
	assert.Empty(t, engine.Evaluate(context.Background(), snapshot, t0.Add(61*time.Second)))
	assert.Len(t, engine.Evaluate(context.Background(), snapshot, t0.Add(122*time.Second)), 1)
}

func TestEngineFiresIffConditionsHoldAndCooldownOpen(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 300; i++ {
		s := alarms.Scenario{
			ID:              "S003",
			Name:            "Fouling",
			Level:           alarms.LevelWarning,
			Enabled:         true,
			CooldownSeconds: 600,
			Conditions: []alarms.Condition{
				{Tag: "DP", Operator: alarms.OperatorGreater, Threshold: 1.2},
				{Tag: "FLOW", Operator: alarms.OperatorLess, Threshold: 80},
			},
		}
		var last *time.Time
		if rng.Intn(2) == 0 {
			at := t0.Add(-time.Duration(rng.Intn(1200)) * time.Second)
			last = &at
		}
		s.LastTriggered = last
		snapshot := map[string]float64{}
		if rng.Intn(4) > 0 {
			snapshot["DP"] = rng.Float64() * 2
		}
		if rng.Intn(4) > 0 {
			snapshot["FLOW"] = rng.Float64() * 120
		}

		engine, _, _ := newTestEngine(t, []alarms.Scenario{s}, nil)
		fired := engine.Evaluate(context.Background(), snapshot, t0)

		dp, hasDP := snapshot["DP"]
		flow, hasFlow := snapshot["FLOW"]
		conditions := hasDP && dp > 1.2 && hasFlow && flow < 80
		gateOpen := last == nil || t0.Sub(*last) >= 600*time.Second
		assert.Equal(t, conditions && gateOpen, len(fired) == 1, "snapshot %v last %v", snapshot, last)
	}
}

func TestEngineRecordsAndPersists(t *testing.T) {
	s := s001()
	s.Conditions[0].DurationSeconds = 0
	events := &memoryEvents{}
	states := &memoryStates{}
	notifier := &countingNotifier{}
	engine, recorder, _ := newTestEngine(t, []alarms.Scenario{s}, nil,
		WithEventRepository(events), WithStateRepository(states), WithNotifier(notifier))

	fired := engine.Evaluate(context.Background(), map[string]float64{"TMP": 2.7}, t0)
	require.Len(t, fired, 1)
	recorder.Close()

	require.Len(t, events.saved(), 1)
	assert.Equal(t, fired[0].ID, events.saved()[0].ID)
	assert.Len(t, notifier.events, 1)
	state, ok := states.states["S001"]
	require.True(t, ok)
	require.NotNil(t, state.LastTriggered)
	assert.Equal(t, t0, *state.LastTriggered)

	assert.Len(t, engine.History(t0.Add(-time.Hour)), 1)
	assert.Empty(t, engine.History(t0.Add(time.Second)))
}

func TestEnginePersistFailureDoesNotBlock(t *testing.T) {
	s := s001()
	s.Conditions[0].DurationSeconds = 0
	engine, recorder, _ := newTestEngine(t, []alarms.Scenario{s}, nil,
		WithEventRepository(&memoryEvents{err: errors.New("disk full")}))

	require.Len(t, engine.Evaluate(context.Background(), map[string]float64{"TMP": 2.7}, t0), 1)
	recorder.Close()
	assert.Len(t, engine.History(time.Time{}), 1)
}

func TestEngineRestoreState(t *testing.T) {
	s := s001()
	s.Conditions[0].DurationSeconds = 0
	last := t0.Add(-time.Minute)
	states := &memoryStates{states: map[string]alarms.ScenarioState{
		"S001": {ScenarioID: "S001", Enabled: true, LastTriggered: &last},
	}}
	engine, _, _ := newTestEngine(t, []alarms.Scenario{s}, nil)
	require.NoError(t, engine.RestoreState(context.Background(), states))

	assert.Empty(t, engine.Evaluate(context.Background(), map[string]float64{"TMP": 2.7}, t0), "restored cooldown holds")
}

func TestScenarioStoreRejectsDuplicates(t *testing.T) {
	_, err := NewScenarioStore([]alarms.Scenario{{ID: "S1"}, {ID: "S1"}})
	assert.Error(t, err)
}
