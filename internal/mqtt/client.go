package mqtt

import (
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
	"river-monitor/pkg/config"
)

// MessageHandler processes one message received on a subscribed topic
type MessageHandler func(topic string, payload []byte)

// Bus is the publish side of the message bus
type Bus interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// Client manages the MQTT connection and the subscriptions that must be
// restored after every reconnect
type Client struct {
	client mqtt.Client
	config ClientConfig
	logger *zap.Logger

	mu     sync.Mutex
	routes map[string]route
}

type route struct {
	qos     byte
	handler MessageHandler
}

// ClientConfig holds MQTT client configuration
type ClientConfig struct {
	Broker            string
	ClientID          string
	Username          string
	Password          string
	CAFile            string        // root authority for TLS brokers
	Insecure          bool          // skip broker certificate verification (testing only)
	ReconnectInterval time.Duration // fixed backoff between connection attempts
}

// NewClient creates an MQTT client. It does not connect; call Connect.
func NewClient(cfg ClientConfig, logger *zap.Logger) (*Client, error) {
	c := &Client{
		config: cfg,
		logger: logger,
		routes: make(map[string]route),
	}

	interval := cfg.ReconnectInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(interval)
	opts.SetMaxReconnectInterval(interval)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetDefaultPublishHandler(c.defaultHandler)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetReconnectingHandler(c.onReconnecting)

	if cfg.CAFile != "" || cfg.Insecure {
		tlsConfig, err := config.NewTLSConfig(cfg.CAFile, cfg.Insecure)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	c.client = mqtt.NewClient(opts)
	return c, nil
}

// Connect blocks until the broker accepts the connection. Failed attempts
// are retried every ReconnectInterval.
func (c *Client) Connect() error {
	c.logger.Info("Connecting to MQTT broker", zap.String("broker", c.config.Broker))

	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return nil
}

// Subscribe registers handler for topic. The subscription is made now when
// connected and restored on every reconnect.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	c.mu.Lock()
	c.routes[topic] = route{qos: qos, handler: handler}
	c.mu.Unlock()

	if !c.client.IsConnectionOpen() {
		return nil
	}
	return c.subscribe(topic, qos, handler)
}

func (c *Client) subscribe(topic string, qos byte, handler MessageHandler) error {
	token := c.client.Subscribe(topic, qos, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", topic, token.Error())
	}
	c.logger.Info("Subscribed to topic", zap.String("topic", topic))
	return nil
}

// Publish sends payload to topic and waits for the broker to accept it
func (c *Client) Publish(topic string, qos byte, retained bool, payload []byte) error {
	token := c.client.Publish(topic, qos, retained, payload)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, token.Error())
	}
	return nil
}

// IsConnected returns whether the client is currently connected
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

// Close closes the MQTT client connection
func (c *Client) Close() {
	c.client.Disconnect(250)
	c.logger.Info("MQTT client disconnected")
}

func (c *Client) onConnect(_ mqtt.Client) {
	c.logger.Info("MQTT connection established", zap.String("broker", c.config.Broker))

	c.mu.Lock()
	routes := make(map[string]route, len(c.routes))
	for topic, r := range c.routes {
		routes[topic] = r
	}
	c.mu.Unlock()

	// Runs on its own goroutine, waiting on tokens is safe here
	for topic, r := range routes {
		if err := c.subscribe(topic, r.qos, r.handler); err != nil {
			c.logger.Error("Failed to restore subscription", zap.String("topic", topic), zap.Error(err))
		}
	}
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	c.logger.Warn("MQTT connection lost", zap.Error(err))
}

func (c *Client) onReconnecting(_ mqtt.Client, _ *mqtt.ClientOptions) {
	c.logger.Info("MQTT reconnecting", zap.String("broker", c.config.Broker))
}

func (c *Client) defaultHandler(_ mqtt.Client, msg mqtt.Message) {
	c.logger.Debug("Received message on unrouted topic", zap.String("topic", msg.Topic()))
}
