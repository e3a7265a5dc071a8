package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-voice/internal/infrastructure/config"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultOperationTimeout  = 5 * time.Second
	defaultDisconnectQuiesce = 1000 // milliseconds
	defaultKeepAlive         = 60 * time.Second

	maxQoS = 2

	tlsMinVersion = tls.VersionTLS12
)

// Client wraps paho.mqtt.golang for the voice service's MQTT backends.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Subscriptions are automatically restored on reconnection.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig

	subscriptions map[string]subscription
	subMu         sync.RWMutex

	connected bool
	connMu    sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type subscription struct {
	qos     byte
	handler MessageHandler
}

// MessageHandler is the callback signature for received messages.
//
// Handlers are invoked in separate goroutines by the paho library and
// should not block. A returned error is logged and otherwise ignored.
type MessageHandler func(topic string, payload []byte) error

// Connect establishes a connection to the MQTT broker.
//
// It builds options from cfg, registers a Last Will on the voice status
// topic, waits for the initial connection (bounded by ctx and
// defaultConnectTimeout) and publishes an online status.
//
// Parameters:
//   - ctx: Bounds the initial connection attempt
//   - cfg: MQTT configuration from config.yaml
//
// Returns:
//   - *Client: Connected client ready for use
//   - error: Wrapping ErrConnectionFailed
func Connect(ctx context.Context, cfg config.MQTTConfig) (*Client, error) {
	c := &Client{
		cfg:           cfg,
		subscriptions: make(map[string]subscription),
	}

	opts := buildClientOptions(cfg)
	opts.SetWill(Topics{}.Status(), statusPayload(cfg.Broker.ClientID, "offline", "unexpected_disconnect"), 1, true)
	opts.SetOnConnectHandler(func(_ pahomqtt.Client) { c.handleConnect() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.handleDisconnect(err) })

	c.client = pahomqtt.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()
	if err := waitToken(ctx, c.client.Connect()); err != nil {
		c.client.Disconnect(0)
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The OnConnect callback runs asynchronously; mark connected now so
	// IsConnected is true as soon as Connect returns.
	c.setConnected(true)
	return c, nil
}

// buildClientOptions creates paho MQTT options from config.
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port))
	opts.SetClientID(cfg.Broker.ClientID)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second)
	opts.SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	return opts
}

// statusPayload renders the retained status message for this client.
func statusPayload(clientID, status, reason string) string {
	if reason == "" {
		return fmt.Sprintf(`{"status":%q,"client_id":%q,"timestamp":%q}`,
			status, clientID, time.Now().UTC().Format(time.RFC3339))
	}
	return fmt.Sprintf(`{"status":%q,"client_id":%q,"reason":%q,"timestamp":%q}`,
		status, clientID, reason, time.Now().UTC().Format(time.RFC3339))
}

// waitToken blocks until the paho token completes or ctx ends.
func waitToken(ctx context.Context, token pahomqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
	}
}

func (c *Client) handleConnect() {
	c.setConnected(true)

	c.subMu.RLock()
	for topic, sub := range c.subscriptions {
		c.client.Subscribe(topic, sub.qos, c.wrapHandler(sub.handler))
	}
	c.subMu.RUnlock()

	c.client.Publish(Topics{}.Status(), byte(c.cfg.QoS), true, statusPayload(c.cfg.Broker.ClientID, "online", ""))

	if logger := c.getLogger(); logger != nil {
		logger.Info("mqtt connected", "broker", c.cfg.Broker.Host)
	}
}

func (c *Client) handleDisconnect(err error) {
	c.setConnected(false)
	if logger := c.getLogger(); logger != nil {
		logger.Warn("mqtt connection lost", "error", err)
	}
}

func (c *Client) setConnected(v bool) {
	c.connMu.Lock()
	c.connected = v
	c.connMu.Unlock()
}

// Close publishes a graceful offline status and disconnects.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}

	if c.IsConnected() {
		token := c.client.Publish(Topics{}.Status(), byte(c.cfg.QoS), true,
			statusPayload(c.cfg.Broker.ClientID, "offline", "graceful_shutdown"))
		token.WaitTimeout(defaultOperationTimeout)
	}

	c.client.Disconnect(defaultDisconnectQuiesce)
	c.setConnected(false)
	return nil
}

// HealthCheck verifies the MQTT connection is alive.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the last known connection state.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client != nil && c.client.IsConnected()
}

// SetLogger sets a logger for connection events and handler failures.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// wrapHandler adds panic recovery and error logging to a MessageHandler.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if logger := c.getLogger(); logger != nil {
					logger.Error("mqtt handler panic recovered", "topic", msg.Topic(), "panic", r)
				}
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Warn("mqtt handler returned error", "topic", msg.Topic(), "error", err)
			}
		}
	}
}
