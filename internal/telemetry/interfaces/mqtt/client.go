package mqtt

import (
	"errors"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// ClientConfig holds MQTT connection settings.
type ClientConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
}

// Client owns the broker connection shared by the sensor cache and the
// command publisher.
type Client struct {
	client paho.Client
	config ClientConfig
	logger *zap.Logger
}

// NewClient connects to the broker.
func NewClient(config ClientConfig, logger *zap.Logger) (*Client, error) {
	if config.Broker == "" {
		return nil, errors.New("mqtt: broker is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.ClientID == "" {
		config.ClientID = fmt.Sprintf("plantwatch-%d", time.Now().UnixNano())
	}
	opts := paho.NewClientOptions()
	opts.AddBroker(config.Broker)
	opts.SetClientID(config.ClientID)
	opts.SetUsername(config.Username)
	opts.SetPassword(config.Password)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(paho.Client) {
		logger.Info("mqtt connected", zap.String("broker", config.Broker))
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.Warn("mqtt connection lost", zap.Error(err))
	})

	client := paho.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt: connect %s: %w", config.Broker, token.Error())
	}
	return &Client{client: client, config: config, logger: logger}, nil
}

// Native returns the underlying paho client.
func (c *Client) Native() paho.Client {
	if c == nil {
		return nil
	}
	return c.client
}

// IsConnected reports the connection state.
func (c *Client) IsConnected() bool {
	return c != nil && c.client != nil && c.client.IsConnected()
}

// Close disconnects from the broker.
func (c *Client) Close() {
	if c == nil || c.client == nil {
		return
	}
	c.client.Disconnect(250)
	c.logger.Info("mqtt disconnected")
}
