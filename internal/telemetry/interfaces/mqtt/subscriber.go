package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	telemetry "plantwatch/internal/telemetry/domain"
)

// DefaultSensorTopic carries one sensor value per message; the last topic
// segment is the tag name.
const DefaultSensorTopic = "plant/sensors/+"

// ErrDisconnected is returned by Snapshot while the broker is unreachable.
var ErrDisconnected = errors.New("mqtt: disconnected")

// SensorCache keeps the latest value of every tag received over MQTT.
type SensorCache struct {
	client paho.Client
	topic  string
	maxAge time.Duration
	logger *zap.Logger
	now    func() time.Time

	mu     sync.RWMutex
	latest map[string]telemetry.Reading
}

// CacheOption configures the sensor cache.
type CacheOption func(*SensorCache)

// WithTopic overrides the subscription filter.
func WithTopic(topic string) CacheOption {
	return func(c *SensorCache) {
		if topic != "" {
			c.topic = topic
		}
	}
}

// WithStaleAfter drops readings older than maxAge from snapshots.
func WithStaleAfter(maxAge time.Duration) CacheOption {
	return func(c *SensorCache) {
		if maxAge > 0 {
			c.maxAge = maxAge
		}
	}
}

// WithCacheLogger assigns a logger.
func WithCacheLogger(logger *zap.Logger) CacheOption {
	return func(c *SensorCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewSensorCache constructs a cache bound to client. Call Subscribe to start
// receiving.
func NewSensorCache(client paho.Client, opts ...CacheOption) *SensorCache {
	c := &SensorCache{
		client: client,
		topic:  DefaultSensorTopic,
		logger: zap.NewNop(),
		now:    func() time.Time { return time.Now().UTC() },
		latest: make(map[string]telemetry.Reading),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Subscribe registers the message handler with QoS 1.
func (c *SensorCache) Subscribe() error {
	if c == nil || c.client == nil {
		return errors.New("mqtt: nil client")
	}
	token := c.client.Subscribe(c.topic, 1, c.handleMessage)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt: subscribe %s: %w", c.topic, token.Error())
	}
	c.logger.Info("mqtt subscribed", zap.String("topic", c.topic))
	return nil
}

func (c *SensorCache) handleMessage(_ paho.Client, msg paho.Message) {
	tag := tagFromTopic(msg.Topic())
	if tag == "" {
		return
	}
	value, at, err := parsePayload(msg.Payload())
	if err != nil {
		c.logger.Warn("mqtt payload rejected", zap.String("topic", msg.Topic()), zap.Error(err))
		return
	}
	if at.IsZero() {
		at = c.now()
	}
	c.Put(telemetry.Reading{Tag: tag, Value: value, At: at})
}

// Put stores a reading, keeping the newer one per tag.
func (c *SensorCache) Put(reading telemetry.Reading) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.latest[reading.Tag]; ok && prev.At.After(reading.At) {
		return
	}
	c.latest[reading.Tag] = reading
}

// Snapshot returns the cached values that are not stale.
func (c *SensorCache) Snapshot(_ context.Context) (telemetry.Snapshot, error) {
	if c == nil {
		return nil, errors.New("mqtt: nil cache")
	}
	if c.client != nil && !c.client.IsConnected() {
		return nil, ErrDisconnected
	}
	var cutoff time.Time
	if c.maxAge > 0 {
		cutoff = c.now().Add(-c.maxAge)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(telemetry.Snapshot, len(c.latest))
	for tag, reading := range c.latest {
		if !cutoff.IsZero() && reading.At.Before(cutoff) {
			continue
		}
		out[tag] = reading.Value
	}
	return out, nil
}

func tagFromTopic(topic string) string {
	idx := strings.LastIndex(topic, "/")
	return strings.TrimSpace(topic[idx+1:])
}

type sensorPayload struct {
	Value *float64 `json:"value"`
	TS    string   `json:"ts"`
}

// parsePayload accepts either a bare number or {"value": x, "ts": RFC3339}.
func parsePayload(payload []byte) (float64, time.Time, error) {
	text := strings.TrimSpace(string(payload))
	if text == "" {
		return 0, time.Time{}, errors.New("empty payload")
	}
	if strings.HasPrefix(text, "{") {
		var p sensorPayload
		if err := json.Unmarshal([]byte(text), &p); err != nil {
			return 0, time.Time{}, err
		}
		if p.Value == nil {
			return 0, time.Time{}, errors.New("missing value")
		}
		var at time.Time
		if p.TS != "" {
			parsed, err := time.Parse(time.RFC3339Nano, p.TS)
			if err != nil {
				return 0, time.Time{}, fmt.Errorf("invalid ts: %w", err)
			}
			at = parsed.UTC()
		}
		if err := finite(*p.Value); err != nil {
			return 0, time.Time{}, err
		}
		return *p.Value, at, nil
	}
	value, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, time.Time{}, err
	}
	if err := finite(value); err != nil {
		return 0, time.Time{}, err
	}
	return value, time.Time{}, nil
}

func finite(value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("non-finite value %v", value)
	}
	return nil
}
