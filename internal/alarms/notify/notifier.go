package notify

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	alarms "plantwatch/internal/alarms/domain"
)

// Clock provides time for cooldown bookkeeping.
type Clock interface {
	Now() time.Time
}

// ErrSuppressed is returned when a notification falls inside the cooldown or
// dedupe window.
var ErrSuppressed = errors.New("notify: suppressed")

type sendRecord struct {
	at   time.Time
	hash string
}

// Notifier renders operator notifications and sends them through a channel.
type Notifier struct {
	channel      Channel
	template     *Template
	clock        Clock
	logger       *zap.Logger
	mu           sync.Mutex
	sent         map[string]sendRecord
	cooldown     time.Duration
	dedupeWindow time.Duration
}

// Option configures the notifier.
type Option func(*Notifier)

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(n *Notifier) {
		if clock != nil {
			n.clock = clock
		}
	}
}

// WithLogger assigns a logger for delivery failures of fired events.
func WithLogger(logger *zap.Logger) Option {
	return func(n *Notifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// WithCooldown sets a minimum interval between notifications for the same scenario.
func WithCooldown(interval time.Duration) Option {
	return func(n *Notifier) {
		if interval > 0 {
			n.cooldown = interval
		}
	}
}

// WithDedupeWindow suppresses identical notifications within the window.
func WithDedupeWindow(window time.Duration) Option {
	return func(n *Notifier) {
		if window > 0 {
			n.dedupeWindow = window
		}
	}
}

// NewNotifier constructs a notifier.
func NewNotifier(channel Channel, template *Template, opts ...Option) (*Notifier, error) {
	if channel == nil {
		return nil, errors.New("alarm notifier: nil channel")
	}
	if template == nil {
		defaultTemplate, err := NewTemplate("")
		if err != nil {
			return nil, err
		}
		template = defaultTemplate
	}
	n := &Notifier{
		channel:  channel,
		template: template,
		clock:    systemClock{},
		logger:   zap.NewNop(),
		sent:     make(map[string]sendRecord),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// NotifyAction sends the notification requested by a notify action.
func (n *Notifier) NotifyAction(ctx context.Context, scenario alarms.Scenario, action alarms.Action) error {
	if n == nil {
		return errors.New("alarm notifier: nil")
	}
	return n.send(ctx, scenario.ID, ActionData(scenario, action, n.clock.Now()))
}

// Notify implements the recorder notifier for fired events.
func (n *Notifier) Notify(ctx context.Context, event alarms.Event) {
	if n == nil {
		return
	}
	if err := n.send(ctx, event.ScenarioID, EventData(event)); err != nil && !errors.Is(err, ErrSuppressed) {
		n.logger.Warn("alarm notification failed",
			zap.String("event_id", event.ID),
			zap.String("scenario_id", event.ScenarioID),
			zap.Error(err))
	}
}

func (n *Notifier) send(ctx context.Context, key string, data TemplateData) error {
	content, err := n.template.Render(data)
	if err != nil {
		return err
	}
	if !n.shouldSend(key, content) {
		return ErrSuppressed
	}
	if err := n.channel.Send(ctx, content); err != nil {
		return err
	}
	n.markSent(key, content)
	return nil
}

// ActionData builds template data for a notify action.
func ActionData(scenario alarms.Scenario, action alarms.Action, at time.Time) TemplateData {
	return TemplateData{
		ScenarioID: scenario.ID,
		Scenario:   scenario.Name,
		Level:      strings.ToUpper(string(scenario.Level)),
		Message:    scenario.Message(),
		Action:     action.Label(),
		Target:     stringParam(action.Parameters, "target"),
		Method:     stringParam(action.Parameters, "method"),
		Time:       at.UTC().Format(time.RFC3339),
	}
}

// EventData builds template data for a fired event.
func EventData(event alarms.Event) TemplateData {
	return TemplateData{
		ScenarioID: event.ScenarioID,
		Scenario:   event.ScenarioName,
		Level:      strings.ToUpper(string(event.Level)),
		Message:    event.Message,
		Action:     strings.Join(event.ActionsTaken, ", "),
		Time:       event.TriggeredAt.UTC().Format(time.RFC3339),
		Values:     formatValues(event.SensorValues),
	}
}

func stringParam(params map[string]any, key string) string {
	value, ok := params[key]
	if !ok || value == nil {
		return ""
	}
	return fmt.Sprint(value)
}

func formatValues(values map[string]float64) string {
	if len(values) == 0 {
		return ""
	}
	tags := make([]string, 0, len(values))
	for tag := range values {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	parts := make([]string, 0, len(tags))
	for _, tag := range tags {
		parts = append(parts, fmt.Sprintf("%s=%.2f", tag, values[tag]))
	}
	return strings.Join(parts, " ")
}

func (n *Notifier) shouldSend(key, content string) bool {
	if n.cooldown <= 0 && n.dedupeWindow <= 0 {
		return true
	}
	now := n.clock.Now().UTC()
	hash := hashContent(content)

	n.mu.Lock()
	record, ok := n.sent[key]
	n.mu.Unlock()
	if !ok {
		return true
	}
	if n.cooldown > 0 && now.Sub(record.at) < n.cooldown {
		return false
	}
	if n.dedupeWindow > 0 && record.hash == hash && now.Sub(record.at) < n.dedupeWindow {
		return false
	}
	return true
}

func (n *Notifier) markSent(key, content string) {
	n.mu.Lock()
	n.sent[key] = sendRecord{
		at:   n.clock.Now().UTC(),
		hash: hashContent(content),
	}
	n.mu.Unlock()
}

func hashContent(content string) string {
	sum := sha1.Sum([]byte(content))
	return hex.EncodeToString(sum[:8])
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
