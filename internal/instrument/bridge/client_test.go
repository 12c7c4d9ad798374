package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/nightscan/internal/clock"
	"github.com/nerrad567/nightscan/internal/infrastructure/config"
	"github.com/nerrad567/nightscan/internal/infrastructure/mqtt"
	"github.com/nerrad567/nightscan/internal/instrument"
)

// fakeBus answers requests through the subscribed handlers, standing in
// for the broker and the bridge daemon.
type fakeBus struct {
	mu       sync.Mutex
	handlers map[string]mqtt.MessageHandler
	requests []RequestMessage

	// respond builds the daemon's answer; nil means never answer.
	respond func(device string, req RequestMessage) *ResponseMessage
}

func newFakeBus(respond func(string, RequestMessage) *ResponseMessage) *fakeBus {
	return &fakeBus{handlers: make(map[string]mqtt.MessageHandler), respond: respond}
}

func (b *fakeBus) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = handler
	return nil
}

func (b *fakeBus) Unsubscribe(topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, topic)
	return nil
}

func (b *fakeBus) Publish(topic string, payload []byte, _ byte, _ bool) error {
	var req RequestMessage
	if err := json.Unmarshal(payload, &req); err != nil {
		return err
	}
	parts := strings.Split(topic, "/")
	device := parts[2]

	b.mu.Lock()
	b.requests = append(b.requests, req)
	handler := b.handlers[mqtt.Topics{}.AllBridgeResponses(device)]
	b.mu.Unlock()

	if b.respond == nil || handler == nil {
		return nil
	}
	resp := b.respond(device, req)
	if resp == nil {
		return nil
	}
	resp.RequestID = req.RequestID
	data, _ := json.Marshal(resp)
	go func() { _ = handler(mqtt.Topics{}.BridgeResponse(device, req.RequestID), data) }()
	return nil
}

func (b *fakeBus) lastRequest() RequestMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.requests[len(b.requests)-1]
}

func newTestClient(t *testing.T, bus *fakeBus) *Client {
	t.Helper()
	c := New(bus, config.BridgeConfig{RequestTimeout: time.Second, ExposureMargin: time.Second})
	if err := c.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { _ = c.Stop() })
	return c
}

func ok(data map[string]any) *ResponseMessage {
	return &ResponseMessage{Success: true, Data: data}
}

func TestClient_StartSubscribesEveryDevice(t *testing.T) {
	bus := newFakeBus(nil)
	newTestClient(t, bus)

	for _, device := range devices() {
		if _, found := bus.handlers[mqtt.Topics{}.AllBridgeResponses(device)]; !found {
			t.Errorf("no subscription for %s", device)
		}
	}
}

func TestPositioner_SetPositionAndReadBack(t *testing.T) {
	bus := newFakeBus(func(device string, req RequestMessage) *ResponseMessage {
		if req.Action == "world_coordinates" {
			return ok(map[string]any{"azimuth": 180.0, "zenith": 45.0})
		}
		return ok(nil)
	})
	dev := newTestClient(t, bus).Devices(clock.Real{})
	ctx := context.Background()

	if err := dev.Positioner.SetPositionReal(ctx, 180, 45); err != nil {
		t.Fatalf("SetPositionReal() error = %v", err)
	}
	req := bus.lastRequest()
	if req.Action != "set_position_real" || req.Parameters["azimuth"] != 180.0 || req.Parameters["zenith"] != 45.0 {
		t.Errorf("request = %+v", req)
	}

	az, zen, err := dev.Positioner.WorldCoordinates(ctx)
	if err != nil {
		t.Fatalf("WorldCoordinates() error = %v", err)
	}
	if az != 180 || zen != 45 {
		t.Errorf("WorldCoordinates() = %v, %v", az, zen)
	}
}

func TestClient_FailedResponse(t *testing.T) {
	bus := newFakeBus(func(string, RequestMessage) *ResponseMessage {
		return &ResponseMessage{Error: &ResponseError{Code: ErrCodeDriverError, Message: "motor stalled"}}
	})
	dev := newTestClient(t, bus).Devices(clock.Real{})

	err := dev.Positioner.GoHome(context.Background())
	if !errors.Is(err, instrument.ErrHardwareCommand) {
		t.Fatalf("GoHome() error = %v, want ErrHardwareCommand", err)
	}
	if !strings.Contains(err.Error(), "motor stalled") {
		t.Errorf("error %q should carry the daemon message", err)
	}
}

func TestClient_Timeout(t *testing.T) {
	bus := newFakeBus(func(string, RequestMessage) *ResponseMessage { return nil })
	c := New(bus, config.BridgeConfig{RequestTimeout: 20 * time.Millisecond})
	if err := c.Start(); err != nil {
		t.Fatal(err)
	}

	err := c.Devices(clock.Real{}).Laser.Open(context.Background())
	if !errors.Is(err, instrument.ErrHardwareCommand) {
		t.Fatalf("Open() error = %v, want ErrHardwareCommand", err)
	}
	if c.Pending() != 0 {
		t.Errorf("Pending() = %d after timeout, want 0", c.Pending())
	}
}

func TestClient_CancelledContext(t *testing.T) {
	bus := newFakeBus(func(string, RequestMessage) *ResponseMessage { return nil })
	dev := newTestClient(t, bus).Devices(clock.Real{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := dev.Detector.CoolerOff(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("CoolerOff() error = %v, want context.Canceled", err)
	}
}

func TestDetector_ExposeDecodesFrame(t *testing.T) {
	want := instrument.Frame{Width: 3, Height: 2, Pixels: []uint16{1, 2, 3, 400, 500, 65535}}
	bus := newFakeBus(func(_ string, req RequestMessage) *ResponseMessage {
		frame := EncodeFrame(want)
		return &ResponseMessage{Success: true, Frame: &frame}
	})
	dev := newTestClient(t, bus).Devices(clock.Real{})

	got, err := dev.Detector.Expose(context.Background(), instrument.ExposureSky, 0.01)
	if err != nil {
		t.Fatalf("Expose() error = %v", err)
	}
	if got.Width != 3 || got.Height != 2 || got.At(1, 2) != 65535 {
		t.Errorf("frame = %+v", got)
	}
	req := bus.lastRequest()
	if req.Parameters["kind"] != "sky" || req.Parameters["seconds"] != 0.01 {
		t.Errorf("request parameters = %v", req.Parameters)
	}
}

func TestDetector_ExposeWithoutFrame(t *testing.T) {
	bus := newFakeBus(func(string, RequestMessage) *ResponseMessage { return ok(nil) })
	dev := newTestClient(t, bus).Devices(clock.Real{})

	if _, err := dev.Detector.Expose(context.Background(), instrument.ExposureBias, 0); !errors.Is(err, instrument.ErrExposure) {
		t.Errorf("Expose() error = %v, want ErrExposure", err)
	}
}

func TestDetector_Temperature(t *testing.T) {
	bus := newFakeBus(func(string, RequestMessage) *ResponseMessage {
		return ok(map[string]any{"celsius": -59.5})
	})
	dev := newTestClient(t, bus).Devices(clock.Real{})

	temp, err := dev.Detector.Temperature(context.Background())
	if err != nil || temp != -59.5 {
		t.Errorf("Temperature() = %v, %v; want -59.5, nil", temp, err)
	}
}

func TestClient_UnmatchedResponseDropped(t *testing.T) {
	c := New(newFakeBus(nil), config.BridgeConfig{})
	payload, _ := json.Marshal(ResponseMessage{RequestID: "nobody", Success: true})
	if err := c.handleResponse("nightscan/response/detector/nobody", payload); err != nil {
		t.Errorf("handleResponse() error = %v", err)
	}
	if err := c.handleResponse("nightscan/response/detector/x", []byte("{")); err == nil {
		t.Error("handleResponse() accepted malformed JSON")
	}
}

func TestFrameData_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data FrameData
	}{
		{"wrong encoding", FrameData{Width: 1, Height: 1, Encoding: "fits", Data: []byte{0, 0}}},
		{"short data", FrameData{Width: 2, Height: 2, Encoding: EncodingUint16LE, Data: []byte{0, 0}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.data.Frame(); !errors.Is(err, instrument.ErrExposure) {
				t.Errorf("Frame() error = %v, want ErrExposure", err)
			}
		})
	}
}
