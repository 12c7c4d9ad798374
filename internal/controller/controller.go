package controller

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/nerrad567/nightscan/internal/astro"
	"github.com/nerrad567/nightscan/internal/clock"
	"github.com/nerrad567/nightscan/internal/discovery"
	"github.com/nerrad567/nightscan/internal/imaging"
	"github.com/nerrad567/nightscan/internal/infrastructure/config"
	"github.com/nerrad567/nightscan/internal/instrument"
	"github.com/nerrad567/nightscan/internal/journal"
	"github.com/nerrad567/nightscan/internal/lifecycle"
	"github.com/nerrad567/nightscan/internal/nightwindow"
	"github.com/nerrad567/nightscan/internal/power"
	"github.com/nerrad567/nightscan/internal/runstate"
	"github.com/nerrad567/nightscan/internal/scheduler"
	"github.com/nerrad567/nightscan/internal/telemetry"
)

// Logger defines the logging interface for the controller and the
// components it builds.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// DeviceFactory opens device handles once the subsystems are powered and
// discovered. It returns whatever it managed to open alongside any error so
// the lifecycle manager can still park it.
type DeviceFactory interface {
	Open(ctx context.Context, state *runstate.RunState) (instrument.Devices, error)
}

// DeviceFactoryFunc adapts a function to DeviceFactory.
type DeviceFactoryFunc func(ctx context.Context, state *runstate.RunState) (instrument.Devices, error)

// Open calls f.
func (f DeviceFactoryFunc) Open(ctx context.Context, state *runstate.RunState) (instrument.Devices, error) {
	return f(ctx, state)
}

// Options wires a Controller.
type Options struct {
	Config *config.Config
	Clock  clock.Clock

	// Power is the relay used during the night.
	Power *power.Sequencer

	// Lookup resolves hardware IDs for discovery.
	Lookup discovery.Lookup

	Devices   DeviceFactory
	Lifecycle *lifecycle.Manager

	// Journal records the night and supplies resume state; nil disables it.
	Journal *journal.Journal

	// Status receives alerts and state; nil disables it.
	Status *telemetry.Status

	// Observers receive scheduler events in addition to the journal and
	// status publisher.
	Observers []scheduler.Observer
}

// Controller runs nights.
type Controller struct {
	opts   Options
	cfg    *config.Config
	clock  clock.Clock
	logger Logger
}

// New creates a Controller.
func New(opts Options) *Controller {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	return &Controller{opts: opts, cfg: opts.Config, clock: opts.Clock, logger: noopLogger{}}
}

// SetLogger sets the logger used by the controller and the components it
// creates.
func (c *Controller) SetLogger(logger Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// Site returns the configured site position.
func Site(cfg *config.Config) astro.Site {
	return astro.Site{Latitude: cfg.Site.Location.Latitude, Longitude: cfg.Site.Location.Longitude}
}

// Run executes the night containing now. It returns nil after the
// scheduler has parked the instrument, ctx.Err() on interrupt and the
// first fault otherwise.
func (c *Controller) Run(ctx context.Context) error {
	night, err := nightwindow.Compute(c.clock.Now(), Site(c.cfg), c.cfg.Location(), c.cfg.Schedule)
	if err != nil {
		return err
	}
	c.logger.Info("night computed",
		"night", night.DirName(),
		"sunset", night.Sunset,
		"sunrise", night.Sunrise,
		"pre_housekeeping", night.PreHousekeeping,
		"housekeeping", night.Housekeeping,
		"start", night.Start,
		"end", night.End,
	)
	if c.opts.Status != nil {
		c.opts.Status.SetNight(night.DirName())
	}
	if c.opts.Journal != nil {
		if err := c.opts.Journal.StartRun(ctx, c.cfg.Site.ID, night, c.clock.Now()); err != nil {
			c.logger.Warn("journal unavailable", "error", err)
		}
	}

	gate := nightwindow.NewGate(c.clock, c.cfg.Schedule.PollInterval)
	gate.SetLogger(c.logger)

	if err := gate.WaitUntil(ctx, night.PreHousekeeping, 0); err != nil {
		return err
	}

	state := runstate.New(night.DirName())
	plan := scheduler.NewPlan(c.cfg.Plan)
	c.resume(ctx, state, plan)

	if err := c.powerUp(ctx); err != nil {
		return fmt.Errorf("power up: %w", err)
	}
	if err := c.discover(ctx, state); err != nil {
		return fmt.Errorf("discovery: %w", err)
	}

	if err := gate.WaitUntil(ctx, night.Housekeeping, 0); err != nil {
		return err
	}

	dev, err := c.opts.Devices.Open(ctx, state)
	c.opts.Lifecycle.Attach(dev)
	if err != nil {
		return fmt.Errorf("opening devices: %w", err)
	}
	if err := c.housekeeping(ctx, dev); err != nil {
		return fmt.Errorf("housekeeping: %w", err)
	}

	imager := imaging.New(filepath.Join(c.cfg.Paths.DataDir, night.DirName()), c.cfg, dev, c.clock)
	imager.SetLogger(c.logger)

	sched := scheduler.New(scheduler.Options{
		Config:   c.cfg,
		Night:    night,
		State:    state,
		Plan:     plan,
		Devices:  dev,
		Imager:   imager,
		Gate:     gate,
		Clock:    c.clock,
		Observer: c.observers(),
		Teardown: c.opts.Lifecycle.Teardown,
	})
	sched.SetLogger(c.logger)
	return sched.Run(ctx)
}

// resume restores the journaled state of a night the controller was
// restarted during.
func (c *Controller) resume(ctx context.Context, state *runstate.RunState, plan []*scheduler.Observation) {
	if c.opts.Journal == nil {
		return
	}
	saved, found, err := c.opts.Journal.Resume(ctx, state.Night)
	if err != nil {
		c.logger.Warn("reading saved state failed, starting fresh", "error", err)
		return
	}
	if !found {
		return
	}
	state.LastCalibration = saved.LastCalibration
	state.Passes = saved.Passes
	restored := scheduler.Restore(plan, saved.Feedback)
	c.logger.Info("resuming night",
		"night", state.Night,
		"last_calibration", saved.LastCalibration,
		"passes", saved.Passes,
		"feedback_restored", restored,
	)
}

// powerUp energizes the instrument and power-cycles the sky sensor so it
// boots with a fresh network lease.
func (c *Controller) powerUp(ctx context.Context) error {
	ports := c.cfg.Power.Ports
	on := []int{ports.Detector, ports.Positioner, ports.Laser}
	if c.cfg.FilterWheel.InUse() {
		on = append(on, ports.FilterWheel, ports.FilterWheelControl)
	}
	for _, port := range on {
		if err := c.opts.Power.TurnOn(ctx, port); err != nil {
			return err
		}
	}
	if ports.SkySensor > 0 {
		if err := c.opts.Power.Cycle(ctx, c.clock, ports.SkySensor, c.cfg.Discovery.CycleOffSettle, c.cfg.SkySensor.BootSettle); err != nil {
			return fmt.Errorf("sky sensor: %w", err)
		}
	}
	return nil
}

// discover resolves the sky sensor and the filter wheel controller. Both
// are optional: a missing sky sensor only loses conditions metadata and a
// missing filter wheel controller falls back to its serial port.
func (c *Controller) discover(ctx context.Context, state *runstate.RunState) error {
	resolver := discovery.NewResolver(c.opts.Lookup, c.opts.Power, c.clock, c.cfg.Discovery)
	resolver.SetLogger(c.logger)

	if mac := c.cfg.SkySensor.MACAddress; mac != "" {
		res, err := resolver.ResolveWithPowerCycle(ctx, discovery.Target{
			Name:       "sky sensor",
			HardwareID: mac,
			Port:       c.cfg.Power.Ports.SkySensor,
		})
		switch {
		case errors.Is(err, discovery.ErrDiscoveryFailed):
			c.alert(telemetry.AlertDiscoveryFailed, "sky sensor not found, continuing without conditions", err)
		case err != nil:
			return err
		default:
			state.SkySensorAddress, _ = res.Address()
		}
	}

	if !c.cfg.FilterWheel.InUse() {
		c.logger.Info("no filter wheel in use")
		return nil
	}
	res, err := resolver.ResolveWithPowerCycle(ctx, discovery.Target{
		Name:       "filter wheel",
		HardwareID: c.cfg.FilterWheel.MACAddress,
		Port:       c.cfg.Power.Ports.FilterWheelControl,
	})
	switch {
	case errors.Is(err, discovery.ErrDiscoveryFailed):
		state.FilterWheelSerialFallback = true
		c.alert(telemetry.AlertDiscoveryFailed, "filter wheel not found on the network, using serial port", err)
	case err != nil:
		return err
	default:
		state.FilterWheelAddress, _ = res.Address()
	}
	return nil
}

// housekeeping homes the positioner and filter wheel, configures the
// detector readout and starts cooling.
func (c *Controller) housekeeping(ctx context.Context, dev instrument.Devices) error {
	if err := dev.Positioner.GoHome(ctx); err != nil {
		return err
	}
	if az, zen, err := dev.Positioner.WorldCoordinates(ctx); err == nil {
		c.logger.Debug("positioner homed", "azimuth", az, "zenith", zen)
	}
	if dev.FilterWheel != nil {
		if err := dev.FilterWheel.Home(ctx); err != nil {
			return err
		}
	}

	det := c.cfg.Detector
	if err := dev.Detector.ConfigureReadout(ctx, instrument.Readout{HBin: det.HBin, VBin: det.VBin}); err != nil {
		return err
	}
	if err := dev.Detector.SetTemperature(ctx, det.TemperatureSetpoint); err != nil {
		return err
	}
	if err := dev.Detector.CoolerOn(ctx); err != nil {
		return err
	}
	c.logger.Info("detector cooling", "setpoint", det.TemperatureSetpoint)
	return nil
}

func (c *Controller) observers() scheduler.Observer {
	var obs scheduler.Observers
	if c.opts.Journal != nil {
		obs = append(obs, c.opts.Journal)
	}
	if c.opts.Status != nil {
		obs = append(obs, c.opts.Status)
	}
	return append(obs, c.opts.Observers...)
}

func (c *Controller) alert(id, message string, err error) {
	c.logger.Warn(message, "error", err)
	if c.opts.Status != nil {
		c.opts.Status.Alert(id, message, err, c.clock.Now())
	}
}
