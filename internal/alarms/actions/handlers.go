package actions

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	alarmapp "plantwatch/internal/alarms/application"
	alarms "plantwatch/internal/alarms/domain"
)

// Command is the control instruction issued to the plant for adjust, stop,
// emergency and maintenance actions.
type Command struct {
	ScenarioID string         `json:"scenario_id"`
	Action     string         `json:"action"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Level      string         `json:"level"`
	IssuedAt   time.Time      `json:"issued_at"`
}

// CommandPublisher delivers commands to the control system.
type CommandPublisher interface {
	Publish(ctx context.Context, cmd Command) error
}

// ActionNotifier delivers operator notifications.
type ActionNotifier interface {
	NotifyAction(ctx context.Context, scenario alarms.Scenario, action alarms.Action) error
}

// LogHandler writes the action to the log.
type LogHandler struct {
	logger *zap.Logger
}

// NewLogHandler constructs a LogHandler.
func NewLogHandler(logger *zap.Logger) *LogHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogHandler{logger: logger}
}

// Handle implements application.ActionHandler.
func (h *LogHandler) Handle(_ context.Context, scenario alarms.Scenario, action alarms.Action) error {
	h.logger.Info("alarm action",
		zap.String("scenario_id", scenario.ID),
		zap.String("action", string(action.Type)),
		zap.String("description", action.Description),
		zap.Any("parameters", action.Parameters),
	)
	return nil
}

// NotifyHandler sends the operator notification for a notify action.
type NotifyHandler struct {
	notifier ActionNotifier
	fallback *LogHandler
}

// NewNotifyHandler constructs a NotifyHandler. A nil notifier logs instead.
func NewNotifyHandler(notifier ActionNotifier, logger *zap.Logger) *NotifyHandler {
	return &NotifyHandler{notifier: notifier, fallback: NewLogHandler(logger)}
}

// Handle implements application.ActionHandler.
func (h *NotifyHandler) Handle(ctx context.Context, scenario alarms.Scenario, action alarms.Action) error {
	if h.notifier == nil {
		return h.fallback.Handle(ctx, scenario, action)
	}
	return h.notifier.NotifyAction(ctx, scenario, action)
}

// CommandHandler turns an action into a published Command.
type CommandHandler struct {
	publisher CommandPublisher
	fallback  *LogHandler
	now       func() time.Time
}

// NewCommandHandler constructs a CommandHandler. A nil publisher logs instead.
func NewCommandHandler(publisher CommandPublisher, logger *zap.Logger) *CommandHandler {
	return &CommandHandler{
		publisher: publisher,
		fallback:  NewLogHandler(logger),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Handle implements application.ActionHandler.
func (h *CommandHandler) Handle(ctx context.Context, scenario alarms.Scenario, action alarms.Action) error {
	if h.publisher == nil {
		return h.fallback.Handle(ctx, scenario, action)
	}
	return h.publisher.Publish(ctx, Command{
		ScenarioID: scenario.ID,
		Action:     string(action.Type),
		Parameters: action.Parameters,
		Level:      string(scenario.Level),
		IssuedAt:   h.now(),
	})
}

// Registry builds the handler table for every action type.
func Registry(notifier ActionNotifier, publisher CommandPublisher, logger *zap.Logger) (map[alarms.ActionType]alarmapp.ActionHandler, error) {
	if logger == nil {
		return nil, errors.New("actions: nil logger")
	}
	command := NewCommandHandler(publisher, logger)
	return map[alarms.ActionType]alarmapp.ActionHandler{
		alarms.ActionLog:         NewLogHandler(logger),
		alarms.ActionNotify:      NewNotifyHandler(notifier, logger),
		alarms.ActionAdjust:      command,
		alarms.ActionStop:        command,
		alarms.ActionEmergency:   command,
		alarms.ActionMaintenance: command,
	}, nil
}
