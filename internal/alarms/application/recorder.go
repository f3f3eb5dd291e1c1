package application

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	alarms "plantwatch/internal/alarms/domain"
	"plantwatch/internal/observability/metrics"
)

const (
	defaultHistoryLimit = 10000
	defaultQueueSize    = 256
)

// EventRepository persists alarm events.
type EventRepository interface {
	Save(ctx context.Context, event alarms.Event) error
}

// StateRepository persists scenario runtime state.
type StateRepository interface {
	SaveState(ctx context.Context, state alarms.ScenarioState) error
	ListStates(ctx context.Context) ([]alarms.ScenarioState, error)
}

// AlarmNotifier publishes fired events.
type AlarmNotifier interface {
	Notify(ctx context.Context, event alarms.Event)
}

type recordJob struct {
	event *alarms.Event
	state *alarms.ScenarioState
}

// Recorder keeps the in-memory event history and hands events to persistence
// and notifiers on its own goroutine.
type Recorder struct {
	mu      sync.RWMutex
	history []alarms.Event
	limit   int

	events   EventRepository
	states   StateRepository
	notifier AlarmNotifier
	logger   *zap.Logger
	timeout  time.Duration

	queueMu sync.RWMutex
	queue   chan recordJob
	closed  bool
	done    chan struct{}
}

// RecorderOption customizes the recorder.
type RecorderOption func(*Recorder)

// WithEventRepository assigns the event store.
func WithEventRepository(repo EventRepository) RecorderOption {
	return func(r *Recorder) {
		r.events = repo
	}
}

// WithStateRepository assigns the scenario state store.
func WithStateRepository(repo StateRepository) RecorderOption {
	return func(r *Recorder) {
		r.states = repo
	}
}

// WithNotifier assigns a notifier.
func WithNotifier(notifier AlarmNotifier) RecorderOption {
	return func(r *Recorder) {
		r.notifier = notifier
	}
}

// WithRecorderLogger assigns a logger.
func WithRecorderLogger(logger *zap.Logger) RecorderOption {
	return func(r *Recorder) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithHistoryLimit bounds the in-memory history.
func WithHistoryLimit(limit int) RecorderOption {
	return func(r *Recorder) {
		if limit > 0 {
			r.limit = limit
		}
	}
}

// WithQueueSize sets the hand-off buffer size.
func WithQueueSize(size int) RecorderOption {
	return func(r *Recorder) {
		if size > 0 {
			r.queue = make(chan recordJob, size)
		}
	}
}

// NewRecorder constructs a recorder and starts its hand-off worker.
func NewRecorder(opts ...RecorderOption) *Recorder {
	r := &Recorder{
		limit:   defaultHistoryLimit,
		logger:  zap.NewNop(),
		timeout: 5 * time.Second,
		queue:   make(chan recordJob, defaultQueueSize),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	go r.run()
	return r
}

// Record appends event to history and queues it for persistence.
func (r *Recorder) Record(event alarms.Event) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.history = append(r.history, event)
	if over := len(r.history) - r.limit; over > 0 {
		r.history = append([]alarms.Event(nil), r.history[over:]...)
	}
	r.mu.Unlock()

	r.enqueue(recordJob{event: &event})
}

// SaveState queues a scenario state for persistence.
func (r *Recorder) SaveState(state alarms.ScenarioState) {
	if r == nil || r.states == nil {
		return
	}
	r.enqueue(recordJob{state: &state})
}

// History returns recorded events at or after since, oldest first.
func (r *Recorder) History(since time.Time) []alarms.Event {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]alarms.Event, 0, len(r.history))
	for _, event := range r.history {
		if !event.TriggeredAt.Before(since) {
			out = append(out, event)
		}
	}
	return out
}

// Close stops accepting work and waits for queued work to drain.
func (r *Recorder) Close() {
	if r == nil {
		return
	}
	r.queueMu.Lock()
	if r.closed {
		r.queueMu.Unlock()
		<-r.done
		return
	}
	r.closed = true
	close(r.queue)
	r.queueMu.Unlock()
	<-r.done
}

func (r *Recorder) enqueue(job recordJob) {
	r.queueMu.RLock()
	defer r.queueMu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- job:
	default:
		metrics.IncEventDropped()
		fields := []zap.Field{}
		if job.event != nil {
			fields = append(fields, zap.String("event_id", job.event.ID), zap.String("scenario_id", job.event.ScenarioID))
		}
		r.logger.Warn("record queue full, dropping", fields...)
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for job := range r.queue {
		r.handle(job)
	}
}

func (r *Recorder) handle(job recordJob) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if job.event != nil {
		event := *job.event
		if r.events != nil {
			if err := r.events.Save(ctx, event); err != nil {
				metrics.IncEventPersist(metrics.ResultError)
				r.logger.Error("event persist failed", zap.String("event_id", event.ID), zap.Error(err))
			} else {
				metrics.IncEventPersist(metrics.ResultSuccess)
			}
		}
		if r.notifier != nil {
			r.notifier.Notify(ctx, event)
		}
	}
	if job.state != nil && r.states != nil {
		if err := r.states.SaveState(ctx, *job.state); err != nil {
			r.logger.Error("scenario state persist failed", zap.String("scenario_id", job.state.ScenarioID), zap.Error(err))
		}
	}
}
