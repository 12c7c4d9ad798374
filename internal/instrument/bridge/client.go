package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/nightscan/internal/clock"
	"github.com/nerrad567/nightscan/internal/infrastructure/config"
	"github.com/nerrad567/nightscan/internal/infrastructure/mqtt"
	"github.com/nerrad567/nightscan/internal/instrument"
)

const requestQoS = 1

// MQTTClient is the subset of the MQTT client the bridge needs.
// *mqtt.Client implements it.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Logger is the logging interface used by the bridge client.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Client correlates bridge requests with their responses.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	mqtt           MQTTClient
	topics         mqtt.Topics
	requestTimeout time.Duration
	exposureMargin time.Duration

	mu      sync.Mutex
	pending map[string]chan ResponseMessage
	started bool

	logger Logger
}

// New creates a bridge client. Call Start before sending commands.
func New(m MQTTClient, cfg config.BridgeConfig) *Client {
	return &Client{
		mqtt:           m,
		requestTimeout: cfg.RequestTimeout,
		exposureMargin: cfg.ExposureMargin,
		pending:        make(map[string]chan ResponseMessage),
		logger:         noopLogger{},
	}
}

// SetLogger sets the logger.
func (c *Client) SetLogger(logger Logger) {
	if logger != nil {
		c.logger = logger
	}
}

func devices() []string {
	return []string{DevicePositioner, DeviceDetector, DeviceLaser}
}

// Start subscribes to the response topics of every bridged device.
func (c *Client) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}
	for _, device := range devices() {
		if err := c.mqtt.Subscribe(c.topics.AllBridgeResponses(device), requestQoS, c.handleResponse); err != nil {
			return fmt.Errorf("subscribing to %s responses: %w", device, err)
		}
	}
	c.started = true
	return nil
}

// Stop unsubscribes and fails every pending request.
func (c *Client) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return nil
	}
	var errs []error
	for _, device := range devices() {
		if err := c.mqtt.Unsubscribe(c.topics.AllBridgeResponses(device)); err != nil {
			errs = append(errs, err)
		}
	}
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.started = false
	return errors.Join(errs...)
}

// Devices returns bridge-backed handles for the positioner, detector and
// laser shutter. clk is used for moon separation.
func (c *Client) Devices(clk clock.Clock) instrument.Devices {
	return instrument.Devices{
		Positioner: &Positioner{c: c, clock: clk},
		Detector:   &Detector{c: c},
		Laser:      &Laser{c: c},
	}
}

// call sends one request and waits for its response, ctx or timeout.
func (c *Client) call(ctx context.Context, device, action string, params map[string]any, timeout time.Duration) (ResponseMessage, error) {
	req := RequestMessage{
		RequestID:  uuid.NewString(),
		Timestamp:  time.Now().UTC(),
		Action:     action,
		Parameters: params,
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return ResponseMessage{}, fmt.Errorf("encoding %s %s: %w", device, action, err)
	}

	ch := make(chan ResponseMessage, 1)
	c.mu.Lock()
	c.pending[req.RequestID] = ch
	c.mu.Unlock()
	defer c.forget(req.RequestID)

	c.logger.Debug("bridge request", "device", device, "action", action, "request_id", req.RequestID)
	if err := c.mqtt.Publish(c.topics.BridgeRequest(device, req.RequestID), payload, requestQoS, false); err != nil {
		return ResponseMessage{}, fmt.Errorf("%w: %s %s: %w", instrument.ErrHardwareCommand, device, action, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp, ok := <-ch:
		if !ok {
			return ResponseMessage{}, fmt.Errorf("%w: %s %s: bridge stopped", instrument.ErrHardwareCommand, device, action)
		}
		if !resp.Success {
			return resp, fmt.Errorf("%w: %s %s: %s", instrument.ErrHardwareCommand, device, action, resp.Error)
		}
		return resp, nil
	case <-timer.C:
		return ResponseMessage{}, fmt.Errorf("%w: %s %s: no response within %v", instrument.ErrHardwareCommand, device, action, timeout)
	case <-ctx.Done():
		return ResponseMessage{}, ctx.Err()
	}
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, id)
}

// handleResponse delivers a response to its waiting caller. Responses for
// unknown or expired requests are dropped.
func (c *Client) handleResponse(topic string, payload []byte) error {
	var resp ResponseMessage
	if err := json.Unmarshal(payload, &resp); err != nil {
		return fmt.Errorf("parsing bridge response on %s: %w", topic, err)
	}
	if resp.RequestID == "" {
		resp.RequestID = topic[strings.LastIndex(topic, "/")+1:]
	}

	c.mu.Lock()
	ch, ok := c.pending[resp.RequestID]
	if ok {
		delete(c.pending, resp.RequestID)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Warn("dropping unmatched bridge response", "topic", topic, "request_id", resp.RequestID)
		return nil
	}
	ch <- resp
	return nil
}

// Pending returns the number of requests awaiting a response.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func number(data map[string]any, key string) (float64, error) {
	v, ok := data[key].(float64)
	if !ok {
		return 0, fmt.Errorf("%w: response field %q missing or not a number", instrument.ErrHardwareCommand, key)
	}
	return v, nil
}
