package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// DefaultCommandTopic is the topic pattern for plant commands.
const DefaultCommandTopic = "plant/commands/{action}"

// MQTTCommandPublisher publishes commands as JSON with QoS 1.
type MQTTCommandPublisher struct {
	client paho.Client
	topic  string
}

// NewMQTTCommandPublisher constructs a publisher. topic may contain
// {action} and {scenario_id} placeholders.
func NewMQTTCommandPublisher(client paho.Client, topic string) (*MQTTCommandPublisher, error) {
	if client == nil {
		return nil, errors.New("actions: nil mqtt client")
	}
	if topic == "" {
		topic = DefaultCommandTopic
	}
	return &MQTTCommandPublisher{client: client, topic: topic}, nil
}

// Publish implements CommandPublisher.
func (p *MQTTCommandPublisher) Publish(ctx context.Context, cmd Command) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	topic := formatTopic(p.topic, cmd)
	token := p.client.Publish(topic, 1, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func formatTopic(pattern string, cmd Command) string {
	return strings.NewReplacer("{action}", cmd.Action, "{scenario_id}", cmd.ScenarioID).Replace(pattern)
}
