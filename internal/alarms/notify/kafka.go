package notify

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	alarms "plantwatch/internal/alarms/domain"
)

// MessageWriter is the subset of *kafka.Writer used by the publisher.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig configures the event publisher.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

// KafkaPublisher forwards fired alarm events to a Kafka topic, keyed by
// scenario id so that one scenario's events stay ordered in a partition.
type KafkaPublisher struct {
	writer MessageWriter
	logger *zap.Logger
}

// NewKafkaWriter builds a hash-balanced writer.
func NewKafkaWriter(cfg KafkaConfig) (*kafka.Writer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka publisher: no brokers")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka publisher: empty topic")
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
	}, nil
}

// NewKafkaPublisher constructs a publisher over writer.
func NewKafkaPublisher(writer MessageWriter, logger *zap.Logger) (*KafkaPublisher, error) {
	if writer == nil {
		return nil, errors.New("kafka publisher: nil writer")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaPublisher{writer: writer, logger: logger}, nil
}

// Notify publishes event as JSON.
func (p *KafkaPublisher) Notify(ctx context.Context, event alarms.Event) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, event); err != nil {
		p.logger.Warn("kafka publish failed", zap.String("event_id", event.ID), zap.Error(err))
	}
}

// Publish writes one event message.
func (p *KafkaPublisher) Publish(ctx context.Context, event alarms.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.ScenarioID),
		Value: payload,
		Time:  event.TriggeredAt,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(event.ID)},
			{Key: "level", Value: []byte(event.Level)},
		},
	})
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
