package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/nightscan/internal/infrastructure/config"
)

// Logger is the subset of logging.Logger the client reports through.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Error(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// MessageHandler receives one message. Handlers run on paho's goroutines
// and must not block for long; a returned error is logged and dropped.
type MessageHandler func(topic string, payload []byte) error

// Client is the controller's connection to the broker.
//
// It carries the instrument bridge's request/response traffic, scheduler
// state and operator alerts. The broker sees the controller's presence on
// Topics.SystemStatus: online after every (re)connect, offline on Close, and
// the will message if the process dies mid-night.
//
// All methods are safe for concurrent use. Subscriptions survive
// reconnects.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig

	connected atomic.Bool

	subMu         sync.RWMutex
	subscriptions map[string]subscription

	mu           sync.RWMutex
	logger       Logger
	onConnect    func()
	onDisconnect func(err error)
}

type subscription struct {
	qos     byte
	handler MessageHandler
}

// Connect dials the broker and waits up to connectTimeout for the session.
//
// Parameters:
//   - cfg: Broker address, credentials and reconnect pacing
//
// Returns:
//   - *Client: Connected client
//   - error: ErrConnectionFailed wrapping the cause
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := &Client{
		cfg:           cfg,
		subscriptions: make(map[string]subscription),
		logger:        noopLogger{},
	}

	opts := buildClientOptions(cfg)
	opts.SetWill(Topics{}.SystemStatus(), string(presence(cfg.Broker.ClientID, statusOffline, reasonLost, time.Now())), 1, true)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.onSession() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.onLost(err) })
	opts.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		c.log().Warn("MQTT reconnecting", "broker", cfg.Broker.Host)
	})

	c.client = pahomqtt.NewClient(opts)
	if err := await(c.client.Connect(), connectTimeout); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The connect handler runs asynchronously; mark the session up now so
	// callers can publish straight away.
	c.connected.Store(true)
	return c, nil
}

// onSession runs on the initial connect and every reconnect.
func (c *Client) onSession() {
	c.connected.Store(true)

	c.subMu.RLock()
	for topic, sub := range c.subscriptions {
		c.client.Subscribe(topic, sub.qos, c.dispatch(sub.handler))
	}
	c.subMu.RUnlock()

	c.client.Publish(Topics{}.SystemStatus(), c.qos(), true, presence(c.cfg.Broker.ClientID, statusOnline, "", time.Now()))

	c.mu.RLock()
	fn := c.onConnect
	c.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

func (c *Client) onLost(err error) {
	c.connected.Store(false)

	c.mu.RLock()
	fn := c.onDisconnect
	c.mu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

// Close announces a clean offline presence and disconnects. Closing a
// client that never connected is a no-op.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	if c.IsConnected() {
		token := c.client.Publish(Topics{}.SystemStatus(), c.qos(), true,
			presence(c.cfg.Broker.ClientID, statusOffline, reasonShutdown, time.Now()))
		token.WaitTimeout(publishTimeout)
	}
	c.client.Disconnect(disconnectQuiesceMillis)
	c.connected.Store(false)
	return nil
}

// HealthCheck reports ErrNotConnected while the session is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the last known session state.
func (c *Client) IsConnected() bool {
	return c.client != nil && c.connected.Load() && c.client.IsConnected()
}

// SetOnConnect registers fn to run after every (re)connect.
func (c *Client) SetOnConnect(fn func()) {
	c.mu.Lock()
	c.onConnect = fn
	c.mu.Unlock()
}

// SetOnDisconnect registers fn to run when the session drops.
func (c *Client) SetOnDisconnect(fn func(err error)) {
	c.mu.Lock()
	c.onDisconnect = fn
	c.mu.Unlock()
}

// SetLogger sets the logger for handler failures. nil silences them.
func (c *Client) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

func (c *Client) log() Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.logger == nil {
		return noopLogger{}
	}
	return c.logger
}

// dispatch adapts handler to paho, recovering panics so one bad message
// cannot take the bridge client down.
func (c *Client) dispatch(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.log().Error("MQTT handler panic recovered", "topic", msg.Topic(), "panic", r)
			}
		}()
		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.log().Warn("MQTT handler returned error", "topic", msg.Topic(), "error", err)
		}
	}
}

// await waits for token, turning a timeout into an error.
func await(token pahomqtt.Token, timeout time.Duration) error {
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("timeout after %v", timeout)
	}
	return token.Error()
}
