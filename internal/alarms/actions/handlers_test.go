package actions

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	alarms "plantwatch/internal/alarms/domain"
)

type memoryPublisher struct {
	cmds []Command
}

func (p *memoryPublisher) Publish(_ context.Context, cmd Command) error {
	p.cmds = append(p.cmds, cmd)
	return nil
}

type memoryNotifier struct {
	actions []alarms.Action
}

func (n *memoryNotifier) NotifyAction(_ context.Context, _ alarms.Scenario, action alarms.Action) error {
	n.actions = append(n.actions, action)
	return nil
}

func TestRegistryCoversEveryActionType(t *testing.T) {
	handlers, err := Registry(nil, nil, zap.NewNop())
	require.NoError(t, err)
	for _, typ := range []alarms.ActionType{
		alarms.ActionLog, alarms.ActionNotify, alarms.ActionAdjust,
		alarms.ActionStop, alarms.ActionEmergency, alarms.ActionMaintenance,
	} {
		handler, ok := handlers[typ]
		require.True(t, ok, typ)
		assert.NoError(t, handler.Handle(context.Background(), alarms.Scenario{ID: "S1"}, alarms.Action{Type: typ}))
	}
}

func TestCommandHandlerPublishes(t *testing.T) {
	publisher := &memoryPublisher{}
	handler := NewCommandHandler(publisher, zap.NewNop())
	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	handler.now = func() time.Time { return at }

	err := handler.Handle(context.Background(),
		alarms.Scenario{ID: "S001", Level: alarms.LevelWarning},
		alarms.Action{Type: alarms.ActionAdjust, Parameters: map[string]any{"pump_speed": -10}})
	require.NoError(t, err)
	require.Len(t, publisher.cmds, 1)
	assert.Equal(t, Command{
		ScenarioID: "S001",
		Action:     "adjust",
		Parameters: map[string]any{"pump_speed": -10},
		Level:      "warning",
		IssuedAt:   at,
	}, publisher.cmds[0])
}

func TestNotifyHandlerDelegates(t *testing.T) {
	notifier := &memoryNotifier{}
	handler := NewNotifyHandler(notifier, zap.NewNop())
	require.NoError(t, handler.Handle(context.Background(), alarms.Scenario{ID: "S1"}, alarms.Action{Type: alarms.ActionNotify}))
	assert.Len(t, notifier.actions, 1)
}

func TestFormatTopic(t *testing.T) {
	assert.Equal(t, "plant/commands/stop/S002",
		formatTopic("plant/commands/{action}/{scenario_id}", Command{Action: "stop", ScenarioID: "S002"}))
}
