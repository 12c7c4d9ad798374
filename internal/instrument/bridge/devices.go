package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/nightscan/internal/astro"
	"github.com/nerrad567/nightscan/internal/clock"
	"github.com/nerrad567/nightscan/internal/instrument"
)

// Positioner is the bridged sky scanner.
type Positioner struct {
	c     *Client
	clock clock.Clock
}

func (p *Positioner) GoHome(ctx context.Context) error {
	_, err := p.c.call(ctx, DevicePositioner, "go_home", nil, p.c.requestTimeout)
	return err
}

func (p *Positioner) SetPositionReal(ctx context.Context, azimuth, zenith float64) error {
	_, err := p.c.call(ctx, DevicePositioner, "set_position_real",
		map[string]any{"azimuth": azimuth, "zenith": zenith}, p.c.requestTimeout)
	return err
}

func (p *Positioner) WorldCoordinates(ctx context.Context) (float64, float64, error) {
	resp, err := p.c.call(ctx, DevicePositioner, "world_coordinates", nil, p.c.requestTimeout)
	if err != nil {
		return 0, 0, err
	}
	az, err := number(resp.Data, "azimuth")
	if err != nil {
		return 0, 0, err
	}
	zen, err := number(resp.Data, "zenith")
	if err != nil {
		return 0, 0, err
	}
	return az, zen, nil
}

// MoonAngle is computed locally; the scanner has no ephemeris of its own.
func (p *Positioner) MoonAngle(_ context.Context, lat, lon, azimuth, zenith float64) (float64, error) {
	return astro.MoonSeparation(p.clock.Now(), astro.Site{Latitude: lat, Longitude: lon}, azimuth, zenith), nil
}

// Detector is the bridged CCD camera.
type Detector struct {
	c *Client
}

// ConfigureReadout selects image read mode, binning and the fastest
// vertical shift speed.
func (d *Detector) ConfigureReadout(ctx context.Context, readout instrument.Readout) error {
	_, err := d.c.call(ctx, DeviceDetector, "configure_readout", map[string]any{
		"read_mode":   "image",
		"hbin":        readout.HBin,
		"vbin":        readout.VBin,
		"shift_speed": "fastest",
	}, d.c.requestTimeout)
	return err
}

func (d *Detector) SetTemperature(ctx context.Context, celsius float64) error {
	_, err := d.c.call(ctx, DeviceDetector, "set_temperature", map[string]any{"celsius": celsius}, d.c.requestTimeout)
	return err
}

func (d *Detector) CoolerOn(ctx context.Context) error {
	_, err := d.c.call(ctx, DeviceDetector, "cooler_on", nil, d.c.requestTimeout)
	return err
}

func (d *Detector) CoolerOff(ctx context.Context) error {
	_, err := d.c.call(ctx, DeviceDetector, "cooler_off", nil, d.c.requestTimeout)
	return err
}

func (d *Detector) Temperature(ctx context.Context) (float64, error) {
	resp, err := d.c.call(ctx, DeviceDetector, "temperature", nil, d.c.requestTimeout)
	if err != nil {
		return 0, err
	}
	return number(resp.Data, "celsius")
}

// Expose waits up to the exposure time plus the configured margin. The
// wait ignores ctx cancellation so a frame in flight is always collected.
func (d *Detector) Expose(ctx context.Context, kind instrument.ExposureKind, seconds float64) (instrument.Frame, error) {
	timeout := time.Duration(seconds*float64(time.Second)) + d.c.exposureMargin
	resp, err := d.c.call(context.WithoutCancel(ctx), DeviceDetector, "expose",
		map[string]any{"kind": string(kind), "seconds": seconds}, timeout)
	if err != nil {
		return instrument.Frame{}, fmt.Errorf("%w: %w", instrument.ErrExposure, err)
	}
	if resp.Frame == nil {
		return instrument.Frame{}, fmt.Errorf("%w: response carried no frame", instrument.ErrExposure)
	}
	return resp.Frame.Frame()
}

func (d *Detector) Shutdown(ctx context.Context) error {
	_, err := d.c.call(ctx, DeviceDetector, "shutdown", nil, d.c.requestTimeout)
	return err
}

// Laser is the bridged calibration shutter.
type Laser struct {
	c *Client
}

func (l *Laser) Open(ctx context.Context) error {
	_, err := l.c.call(ctx, DeviceLaser, "open", nil, l.c.requestTimeout)
	return err
}

func (l *Laser) Close(ctx context.Context) error {
	_, err := l.c.call(ctx, DeviceLaser, "close", nil, l.c.requestTimeout)
	return err
}
