package application

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	alarms "plantwatch/internal/alarms/domain"
	"plantwatch/internal/observability/metrics"
)

// ActionHandler executes one remediation action of a fired scenario.
type ActionHandler interface {
	Handle(ctx context.Context, scenario alarms.Scenario, action alarms.Action) error
}

// ActionHandlerFunc adapts a function to ActionHandler.
type ActionHandlerFunc func(ctx context.Context, scenario alarms.Scenario, action alarms.Action) error

// Handle implements ActionHandler.
func (f ActionHandlerFunc) Handle(ctx context.Context, scenario alarms.Scenario, action alarms.Action) error {
	return f(ctx, scenario, action)
}

// Scheduler runs fn once after d. Scheduled work is never cancelled.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func())
}

type timerScheduler struct{}

func (timerScheduler) AfterFunc(d time.Duration, fn func()) {
	time.AfterFunc(d, fn)
}

// Dispatcher runs scenario actions through a handler table.
type Dispatcher struct {
	handlers  map[alarms.ActionType]ActionHandler
	scheduler Scheduler
	logger    *zap.Logger
	timeout   time.Duration
}

// DispatcherOption customizes the dispatcher.
type DispatcherOption func(*Dispatcher)

// WithScheduler overrides the timer used for delayed actions.
func WithScheduler(scheduler Scheduler) DispatcherOption {
	return func(d *Dispatcher) {
		if scheduler != nil {
			d.scheduler = scheduler
		}
	}
}

// WithDispatcherLogger assigns a logger.
func WithDispatcherLogger(logger *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithActionTimeout bounds the context of every action.
func WithActionTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// NewDispatcher constructs a dispatcher over a copy of handlers.
func NewDispatcher(handlers map[alarms.ActionType]ActionHandler, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		handlers:  make(map[alarms.ActionType]ActionHandler, len(handlers)),
		scheduler: timerScheduler{},
		logger:    zap.NewNop(),
		timeout:   30 * time.Second,
	}
	for actionType, handler := range handlers {
		if handler != nil {
			d.handlers[actionType] = handler
		}
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch runs the actions of scenario in order and returns their labels.
// Immediate actions run before Dispatch returns; delayed ones are scheduled.
func (d *Dispatcher) Dispatch(ctx context.Context, scenario alarms.Scenario) []string {
	labels := make([]string, 0, len(scenario.Actions))
	if d == nil {
		return labels
	}
	for _, action := range scenario.Actions {
		action := action
		if delay := action.Delay(); delay > 0 {
			d.scheduler.AfterFunc(delay, func() {
				runCtx, cancel := context.WithTimeout(context.Background(), d.timeout)
				defer cancel()
				d.execute(runCtx, scenario, action)
			})
		} else {
			runCtx, cancel := context.WithTimeout(ctx, d.timeout)
			d.execute(runCtx, scenario, action)
			cancel()
		}
		labels = append(labels, action.Label())
	}
	return labels
}

func (d *Dispatcher) execute(ctx context.Context, scenario alarms.Scenario, action alarms.Action) {
	fields := []zap.Field{
		zap.String("scenario_id", scenario.ID),
		zap.String("action", string(action.Type)),
	}
	handler, ok := d.handlers[action.Type]
	if !ok {
		d.logger.Warn("no handler for action type", fields...)
		metrics.IncAction(string(action.Type), metrics.ResultSkipped)
		return
	}
	if err := safeHandle(ctx, handler, scenario, action); err != nil {
		d.logger.Error("action failed", append(fields, zap.Error(err))...)
		metrics.IncAction(string(action.Type), metrics.ResultError)
		return
	}
	metrics.IncAction(string(action.Type), metrics.ResultSuccess)
}

func safeHandle(ctx context.Context, handler ActionHandler, scenario alarms.Scenario, action alarms.Action) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action handler panic: %v", r)
		}
	}()
	return handler.Handle(ctx, scenario, action)
}
