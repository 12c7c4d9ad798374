// Package instrument defines the collaborators the controller drives: the
// sky scanner (positioner), filter wheel, detector, calibration laser
// shutter and sky sensor.
//
// Implementations live in subpackages: bridge (MQTT request/response to the
// vendor-driver daemon), filterwheel, skyalert and sim.
package instrument

import (
	"context"
	"fmt"
)

// Positioner points the sky scanner.
type Positioner interface {
	GoHome(ctx context.Context) error
	SetPositionReal(ctx context.Context, azimuth, zenith float64) error
	WorldCoordinates(ctx context.Context) (azimuth, zenith float64, err error)

	// MoonAngle returns the separation in degrees between the Moon and the
	// pointing (azimuth, zenith) for an observer at (lat, lon).
	MoonAngle(ctx context.Context, lat, lon, azimuth, zenith float64) (float64, error)
}

// FilterWheel selects the optical filter.
type FilterWheel interface {
	Home(ctx context.Context) error
	Go(ctx context.Context, position int) error
	Close() error
}

// Detector is the cooled CCD camera.
type Detector interface {
	ConfigureReadout(ctx context.Context, readout Readout) error
	SetTemperature(ctx context.Context, celsius float64) error
	CoolerOn(ctx context.Context) error
	CoolerOff(ctx context.Context) error
	Temperature(ctx context.Context) (float64, error)

	// Expose blocks for the exposure and returns the frame. An exposure in
	// progress is never abandoned, even when ctx is cancelled.
	Expose(ctx context.Context, kind ExposureKind, seconds float64) (Frame, error)

	Shutdown(ctx context.Context) error
}

// LaserShutter gates the calibration laser.
type LaserShutter interface {
	Open(ctx context.Context) error
	Close(ctx context.Context) error
}

// SkySensor reports cloud and sky conditions.
type SkySensor interface {
	Conditions(ctx context.Context) (SkyConditions, error)
}

// SkyConditions are the numeric readings of the sky sensor, by name.
type SkyConditions map[string]float64

// Readout holds detector readout settings.
type Readout struct {
	HBin int `json:"hbin"`
	VBin int `json:"vbin"`
}

// ExposureKind identifies what a frame is for.
type ExposureKind string

const (
	ExposureBias  ExposureKind = "bias"
	ExposureDark  ExposureKind = "dark"
	ExposureLaser ExposureKind = "laser"
	ExposureSky   ExposureKind = "sky"
)

// ShutterOpen reports whether the detector shutter opens for this kind.
func (k ExposureKind) ShutterOpen() bool {
	return k == ExposureLaser || k == ExposureSky
}

// Frame is a detector image, row-major.
type Frame struct {
	Width  int
	Height int
	Pixels []uint16
}

// At returns the sample at row r, column c.
func (f Frame) At(r, c int) uint16 {
	return f.Pixels[r*f.Width+c]
}

// Validate checks the frame dimensions against its sample count.
func (f Frame) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("%w: empty frame %dx%d", ErrExposure, f.Width, f.Height)
	}
	if len(f.Pixels) != f.Width*f.Height {
		return fmt.Errorf("%w: %d samples for %dx%d frame", ErrExposure, len(f.Pixels), f.Width, f.Height)
	}
	return nil
}

// Devices are the opened instrument handles for one night. FilterWheel and
// SkySensor are nil when not installed or not found.
type Devices struct {
	Positioner  Positioner
	FilterWheel FilterWheel
	Detector    Detector
	Laser       LaserShutter
	SkySensor   SkySensor
}
