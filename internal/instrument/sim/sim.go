// Package sim is a simulated instrument: positioner, filter wheel,
// detector, laser shutter, sky sensor, relay and neighbour table. Every
// hardware command is appended to a shared Trace so tests can assert the
// order in which the controller drove the hardware.
//
// Exposures sleep on the configured clock. With a clock.Fake a whole night
// runs in milliseconds.
package sim

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/nightscan/internal/astro"
	"github.com/nerrad567/nightscan/internal/clock"
	"github.com/nerrad567/nightscan/internal/instrument"
)

// Defaults for the simulated detector.
const (
	DefaultFrameSize   = 64
	DefaultBiasLevel   = 100
	DefaultSignalRate  = 20
	DefaultAmbient     = 15.0
	DefaultWarmPerRead = 5.0
)

// Trace is an ordered, concurrency-safe record of hardware commands.
type Trace struct {
	mu     sync.Mutex
	events []string
}

// Record appends one event.
func (t *Trace) Record(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, fmt.Sprintf(format, args...))
}

// Events returns a copy of the recorded events.
func (t *Trace) Events() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.events...)
}

// Count returns how many events start with prefix.
func (t *Trace) Count(prefix string) int {
	n := 0
	for _, e := range t.Events() {
		if strings.HasPrefix(e, prefix) {
			n++
		}
	}
	return n
}

// Instrument holds the simulated subsystems and their shared state.
type Instrument struct {
	Trace *Trace
	Clock clock.Clock
	Site  astro.Site

	// MoonOverride replaces the astronomical moon separation when set.
	MoonOverride func(azimuth, zenith float64) float64

	// FrameSize is the width and height of every frame.
	FrameSize int

	// SignalRate is the sky signal in counts per second at the frame's
	// right edge; it falls linearly to half at the left edge.
	SignalRate float64

	mu          sync.Mutex
	failures    map[string]error
	azimuth     float64
	zenith      float64
	filter      int
	cooler      bool
	temperature float64
	setpoint    float64
	shutdown    bool
	relay       *relayState
}

// New returns a simulated instrument at ambient temperature.
func New(clk clock.Clock, site astro.Site) *Instrument {
	return &Instrument{
		Trace:       &Trace{},
		Clock:       clk,
		Site:        site,
		FrameSize:   DefaultFrameSize,
		SignalRate:  DefaultSignalRate,
		failures:    make(map[string]error),
		temperature: DefaultAmbient,
	}
}

// FailOn makes the named operation fail with err. Operation names are the
// trace event names without arguments, e.g. "detector.expose.bias".
func (in *Instrument) FailOn(op string, err error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.failures[op] = err
}

func (in *Instrument) fail(op string) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if err, ok := in.failures[op]; ok {
		return fmt.Errorf("%w: %s: %w", instrument.ErrHardwareCommand, op, err)
	}
	return nil
}

// Devices returns the instrument's subsystems as device handles. The
// filter wheel is omitted when withWheel is false.
func (in *Instrument) Devices(withWheel bool) instrument.Devices {
	dev := instrument.Devices{
		Positioner: (*Positioner)(in),
		Detector:   (*Detector)(in),
		Laser:      (*Laser)(in),
		SkySensor:  (*SkySensor)(in),
	}
	if withWheel {
		dev.FilterWheel = (*FilterWheel)(in)
	}
	return dev
}

// Pointing returns the current positioner pointing.
func (in *Instrument) Pointing() (azimuth, zenith float64) {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.azimuth, in.zenith
}

// Positioner is the simulated sky scanner.
type Positioner Instrument

func (p *Positioner) GoHome(ctx context.Context) error {
	in := (*Instrument)(p)
	in.Trace.Record("positioner.home")
	if err := in.fail("positioner.home"); err != nil {
		return err
	}
	in.mu.Lock()
	in.azimuth, in.zenith = 0, 0
	in.mu.Unlock()
	return nil
}

func (p *Positioner) SetPositionReal(ctx context.Context, azimuth, zenith float64) error {
	in := (*Instrument)(p)
	in.Trace.Record("positioner.move %g %g", azimuth, zenith)
	if err := in.fail("positioner.move"); err != nil {
		return err
	}
	in.mu.Lock()
	in.azimuth, in.zenith = azimuth, zenith
	in.mu.Unlock()
	return nil
}

func (p *Positioner) WorldCoordinates(ctx context.Context) (float64, float64, error) {
	in := (*Instrument)(p)
	az, zen := in.Pointing()
	return az, zen, nil
}

func (p *Positioner) MoonAngle(ctx context.Context, lat, lon, azimuth, zenith float64) (float64, error) {
	in := (*Instrument)(p)
	if err := in.fail("positioner.moon"); err != nil {
		return 0, err
	}
	if in.MoonOverride != nil {
		return in.MoonOverride(azimuth, zenith), nil
	}
	site := astro.Site{Latitude: lat, Longitude: lon}
	return astro.MoonSeparation(in.Clock.Now(), site, azimuth, zenith), nil
}

// FilterWheel is the simulated filter selector.
type FilterWheel Instrument

func (w *FilterWheel) Home(ctx context.Context) error {
	in := (*Instrument)(w)
	in.Trace.Record("filterwheel.home")
	if err := in.fail("filterwheel.home"); err != nil {
		return err
	}
	in.mu.Lock()
	in.filter = 0
	in.mu.Unlock()
	return nil
}

func (w *FilterWheel) Go(ctx context.Context, position int) error {
	in := (*Instrument)(w)
	in.Trace.Record("filterwheel.go %d", position)
	if err := in.fail("filterwheel.go"); err != nil {
		return err
	}
	in.mu.Lock()
	in.filter = position
	in.mu.Unlock()
	return nil
}

func (w *FilterWheel) Close() error { return nil }

// Laser is the simulated calibration shutter.
type Laser Instrument

func (l *Laser) Open(ctx context.Context) error {
	in := (*Instrument)(l)
	in.Trace.Record("laser.open")
	return in.fail("laser.open")
}

func (l *Laser) Close(ctx context.Context) error {
	in := (*Instrument)(l)
	in.Trace.Record("laser.close")
	return in.fail("laser.close")
}

// SkySensor is the simulated cloud sensor.
type SkySensor Instrument

func (s *SkySensor) Conditions(ctx context.Context) (instrument.SkyConditions, error) {
	in := (*Instrument)(s)
	if err := in.fail("sky.conditions"); err != nil {
		return nil, err
	}
	return instrument.SkyConditions{"sky_temperature": -25, "ambient_temperature": DefaultAmbient}, nil
}

// Detector is the simulated CCD.
type Detector Instrument

func (d *Detector) ConfigureReadout(ctx context.Context, readout instrument.Readout) error {
	in := (*Instrument)(d)
	in.Trace.Record("detector.readout %d %d", readout.HBin, readout.VBin)
	return in.fail("detector.readout")
}

func (d *Detector) SetTemperature(ctx context.Context, celsius float64) error {
	in := (*Instrument)(d)
	in.Trace.Record("detector.setpoint %g", celsius)
	if err := in.fail("detector.setpoint"); err != nil {
		return err
	}
	in.mu.Lock()
	in.setpoint = celsius
	in.mu.Unlock()
	return nil
}

func (d *Detector) CoolerOn(ctx context.Context) error {
	in := (*Instrument)(d)
	in.Trace.Record("detector.cooler.on")
	if err := in.fail("detector.cooler.on"); err != nil {
		return err
	}
	in.mu.Lock()
	in.cooler = true
	in.mu.Unlock()
	return nil
}

func (d *Detector) CoolerOff(ctx context.Context) error {
	in := (*Instrument)(d)
	in.Trace.Record("detector.cooler.off")
	if err := in.fail("detector.cooler.off"); err != nil {
		return err
	}
	in.mu.Lock()
	in.cooler = false
	in.mu.Unlock()
	return nil
}

// Temperature reads the sensor. With the cooler on the sensor sits at the
// setpoint; with it off every read warms it towards ambient.
func (d *Detector) Temperature(ctx context.Context) (float64, error) {
	in := (*Instrument)(d)
	if err := in.fail("detector.temperature"); err != nil {
		return 0, err
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.cooler {
		in.temperature = in.setpoint
	} else {
		in.temperature = math.Min(in.temperature+DefaultWarmPerRead, DefaultAmbient)
	}
	return in.temperature, nil
}

// Expose sleeps for the exposure on the instrument clock and synthesizes a
// frame. Cancellation does not cut an exposure short.
func (d *Detector) Expose(ctx context.Context, kind instrument.ExposureKind, seconds float64) (instrument.Frame, error) {
	in := (*Instrument)(d)
	in.Trace.Record("detector.expose %s %g", kind, seconds)
	if err := in.fail("detector.expose." + string(kind)); err != nil {
		return instrument.Frame{}, fmt.Errorf("%w: %w", instrument.ErrExposure, err)
	}

	exposure := time.Duration(seconds * float64(time.Second))
	if err := in.Clock.Sleep(context.WithoutCancel(ctx), exposure); err != nil {
		return instrument.Frame{}, err
	}
	return in.frame(kind, seconds), nil
}

func (d *Detector) Shutdown(ctx context.Context) error {
	in := (*Instrument)(d)
	in.Trace.Record("detector.shutdown")
	if err := in.fail("detector.shutdown"); err != nil {
		return err
	}
	in.mu.Lock()
	in.shutdown = true
	in.mu.Unlock()
	return nil
}

// IsShutdown reports whether the detector was shut down.
func (in *Instrument) IsShutdown() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.shutdown
}

// frame builds a bias pedestal plus, for shutter-open kinds, a signal that
// grows linearly with exposure time and left to right across the frame.
func (in *Instrument) frame(kind instrument.ExposureKind, seconds float64) instrument.Frame {
	size := in.FrameSize
	f := instrument.Frame{Width: size, Height: size, Pixels: make([]uint16, size*size)}
	for r := 0; r < size; r++ {
		for c := 0; c < size; c++ {
			v := float64(DefaultBiasLevel)
			if kind.ShutterOpen() {
				v += in.SignalRate * seconds * (0.5 + 0.5*float64(c)/float64(size-1))
			}
			f.Pixels[r*size+c] = uint16(math.Min(v, math.MaxUint16))
		}
	}
	return f
}
