package notify

import (
	"context"

	"go.uber.org/zap"

	alarmapp "plantwatch/internal/alarms/application"
	alarms "plantwatch/internal/alarms/domain"
)

// MultiNotifier fans fired events out to several sinks. A panicking sink is
// logged and does not stop the others.
type MultiNotifier struct {
	sinks  []alarmapp.AlarmNotifier
	logger *zap.Logger
}

// NewMultiNotifier constructs a MultiNotifier. nil sinks are skipped.
func NewMultiNotifier(logger *zap.Logger, sinks ...alarmapp.AlarmNotifier) *MultiNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &MultiNotifier{logger: logger}
	for _, sink := range sinks {
		if sink != nil {
			m.sinks = append(m.sinks, sink)
		}
	}
	return m
}

// Notify forwards event to every sink in order.
func (m *MultiNotifier) Notify(ctx context.Context, event alarms.Event) {
	if m == nil {
		return
	}
	for i, sink := range m.sinks {
		m.notifyOne(ctx, i, sink, event)
	}
}

func (m *MultiNotifier) notifyOne(ctx context.Context, index int, sink alarmapp.AlarmNotifier, event alarms.Event) {
	defer func() {
		if rec := recover(); rec != nil {
			m.logger.Error("alarm sink panicked",
				zap.Int("sink", index),
				zap.String("event_id", event.ID),
				zap.Any("panic", rec),
			)
		}
	}()
	sink.Notify(ctx, event)
}
