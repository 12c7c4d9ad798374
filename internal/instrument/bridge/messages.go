package bridge

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/nerrad567/nightscan/internal/instrument"
)

// Device names used in bridge topics.
const (
	DevicePositioner = "positioner"
	DeviceDetector   = "detector"
	DeviceLaser      = "laser"
)

// RequestMessage is sent from the controller to the bridge daemon.
// Topic: nightscan/request/{device}/{request_id}
type RequestMessage struct {
	// RequestID uniquely identifies this request for correlation.
	RequestID string `json:"request_id"`

	// Timestamp is when the request was issued (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Action is the requested operation, e.g. "set_position_real".
	Action string `json:"action"`

	// Parameters contains action-specific values.
	Parameters map[string]any `json:"parameters,omitempty"`
}

// ResponseMessage is sent from the bridge daemon in answer to a request.
// Topic: nightscan/response/{device}/{request_id}
type ResponseMessage struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
	Success   bool      `json:"success"`

	// Data contains the action's result (if successful).
	Data map[string]any `json:"data,omitempty"`

	// Frame carries the image for expose requests.
	Frame *FrameData `json:"frame,omitempty"`

	Error *ResponseError `json:"error,omitempty"`
}

// ResponseError contains error details for failed requests.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes reported by the bridge daemon.
const (
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeDriverError       = "DRIVER_ERROR"
	ErrCodeTimeout           = "TIMEOUT"
)

// FrameData is an image in transit. Data is base64 in JSON.
type FrameData struct {
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Encoding string `json:"encoding"`
	Data     []byte `json:"data"`
}

// EncodingUint16LE is the only frame encoding the daemon produces.
const EncodingUint16LE = "uint16le"

// Frame decodes the transported image.
func (f FrameData) Frame() (instrument.Frame, error) {
	if f.Encoding != EncodingUint16LE {
		return instrument.Frame{}, fmt.Errorf("%w: unsupported frame encoding %q", instrument.ErrExposure, f.Encoding)
	}
	if len(f.Data) != 2*f.Width*f.Height {
		return instrument.Frame{}, fmt.Errorf("%w: %d bytes for %dx%d frame", instrument.ErrExposure, len(f.Data), f.Width, f.Height)
	}
	frame := instrument.Frame{Width: f.Width, Height: f.Height, Pixels: make([]uint16, f.Width*f.Height)}
	for i := range frame.Pixels {
		frame.Pixels[i] = binary.LittleEndian.Uint16(f.Data[2*i:])
	}
	return frame, frame.Validate()
}

// EncodeFrame packs a frame for transport.
func EncodeFrame(frame instrument.Frame) FrameData {
	data := make([]byte, 2*len(frame.Pixels))
	for i, v := range frame.Pixels {
		binary.LittleEndian.PutUint16(data[2*i:], v)
	}
	return FrameData{Width: frame.Width, Height: frame.Height, Encoding: EncodingUint16LE, Data: data}
}

func (e *ResponseError) String() string {
	if e == nil {
		return "unknown error"
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
