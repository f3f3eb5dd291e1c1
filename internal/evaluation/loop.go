package evaluation

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	alarms "plantwatch/internal/alarms/domain"
	monitoring "plantwatch/internal/monitoring/domain"
	"plantwatch/internal/observability/metrics"
	telemetry "plantwatch/internal/telemetry/domain"
)

// SnapshotSource provides the latest value per tag.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (telemetry.Snapshot, error)
}

// RangeChecker classifies a snapshot against the threshold table.
type RangeChecker interface {
	CheckAll(ctx context.Context, snapshot map[string]float64) []monitoring.Violation
}

// ScenarioEvaluator runs the enabled scenarios against a snapshot.
type ScenarioEvaluator interface {
	Evaluate(ctx context.Context, snapshot map[string]float64, now time.Time) []alarms.Event
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// TickResult is the outcome of one evaluation tick.
type TickResult struct {
	At         time.Time              `json:"at"`
	Violations []monitoring.Violation `json:"violations"`
	Events     []alarms.Event         `json:"events"`
}

// Loop drives periodic evaluation.
type Loop struct {
	source    SnapshotSource
	ranges    RangeChecker
	scenarios ScenarioEvaluator
	interval  time.Duration
	clock     Clock
	logger    *zap.Logger

	tickMu sync.Mutex
	lastMu sync.RWMutex
	last   *TickResult
}

// Option customizes the loop.
type Option func(*Loop)

// WithInterval sets the tick interval.
func WithInterval(interval time.Duration) Option {
	return func(l *Loop) {
		if interval > 0 {
			l.interval = interval
		}
	}
}

// WithClock assigns a clock.
func WithClock(clock Clock) Option {
	return func(l *Loop) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLoop constructs an evaluation loop.
func NewLoop(source SnapshotSource, ranges RangeChecker, scenarios ScenarioEvaluator, opts ...Option) (*Loop, error) {
	if source == nil {
		return nil, errors.New("evaluation: nil snapshot source")
	}
	if ranges == nil {
		return nil, errors.New("evaluation: nil range checker")
	}
	if scenarios == nil {
		return nil, errors.New("evaluation: nil scenario evaluator")
	}
	loop := &Loop{
		source:    source,
		ranges:    ranges,
		scenarios: scenarios,
		interval:  time.Second,
		clock:     systemClock{},
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(loop)
	}
	return loop, nil
}

// Tick runs one evaluation at now. A snapshot failure skips the tick and is
// returned to the caller.
func (l *Loop) Tick(ctx context.Context, now time.Time) (TickResult, error) {
	l.tickMu.Lock()
	defer l.tickMu.Unlock()

	start := time.Now()
	now = now.UTC()
	snapshot, err := l.source.Snapshot(ctx)
	if err != nil {
		metrics.IncSnapshotError()
		metrics.ObserveTick(metrics.ResultError, time.Since(start))
		l.logger.Warn("snapshot failed, tick skipped", zap.Error(err))
		return TickResult{At: now}, err
	}

	result := TickResult{
		At:         now,
		Violations: l.ranges.CheckAll(ctx, snapshot),
		Events:     l.scenarios.Evaluate(ctx, snapshot, now),
	}
	l.lastMu.Lock()
	l.last = &result
	l.lastMu.Unlock()

	metrics.ObserveTick(metrics.ResultSuccess, time.Since(start))
	if len(result.Events) > 0 || len(result.Violations) > 0 {
		l.logger.Debug("tick evaluated",
			zap.Int("tags", len(snapshot)),
			zap.Int("violations", len(result.Violations)),
			zap.Int("events", len(result.Events)),
		)
	}
	return result, nil
}

// Run ticks until ctx is done.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	l.logger.Info("evaluation loop started", zap.Duration("interval", l.interval))
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("evaluation loop stopped")
			return
		case <-ticker.C:
			_, _ = l.Tick(ctx, l.clock.Now())
		}
	}
}

// Last returns the most recent successful tick.
func (l *Loop) Last() (TickResult, bool) {
	l.lastMu.RLock()
	defer l.lastMu.RUnlock()
	if l.last == nil {
		return TickResult{}, false
	}
	return *l.last, true
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
