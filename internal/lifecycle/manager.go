package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"sync"
	"syscall"
	"time"

	"github.com/nerrad567/nightscan/internal/clock"
	"github.com/nerrad567/nightscan/internal/infrastructure/config"
	"github.com/nerrad567/nightscan/internal/instrument"
	"github.com/nerrad567/nightscan/internal/power"
	"github.com/nerrad567/nightscan/internal/telemetry"
)

// DefaultShutdownTimeout bounds a SafeShutdown.
const DefaultShutdownTimeout = 2 * time.Minute

// Outcome is how a night ended.
type Outcome int

const (
	Completed Outcome = iota
	Interrupted
	Faulted
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case Interrupted:
		return "interrupted"
	case Faulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// Mode selects how much SafeShutdown does.
type Mode int

const (
	// Graceful parks the positioner and filter wheel, stops the cooler,
	// shuts the detector down and powers every tracked port off.
	Graceful Mode = iota

	// Emergency only powers every tracked port off. Failures are logged
	// and swallowed.
	Emergency
)

func (mode Mode) String() string {
	if mode == Emergency {
		return "emergency"
	}
	return "graceful"
}

// PowerFactory opens a fresh relay connection for teardown.
type PowerFactory func() (*power.Sequencer, error)

// Alerter receives operator alerts. *telemetry.Status implements it.
type Alerter interface {
	Alert(id, message string, err error, at time.Time)
}

// Logger defines the logging interface for the lifecycle manager.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Manager.
type Options struct {
	FilterWheel config.FilterWheelConfig

	// NewPower opens the relay used by teardown. Required.
	NewPower PowerFactory

	Clock   clock.Clock
	Alerter Alerter

	// ShutdownTimeout bounds SafeShutdown. Zero uses DefaultShutdownTimeout.
	ShutdownTimeout time.Duration
}

// Manager owns the device handles and the single teardown path.
//
// Thread Safety: SafeShutdown may be called concurrently; it runs once.
type Manager struct {
	opts   Options
	logger Logger

	mu      sync.Mutex
	devices instrument.Devices

	once        sync.Once
	shutdownErr error
	mode        Mode
	shutDown    bool
}

// New creates a Manager.
func New(opts Options) *Manager {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.ShutdownTimeout == 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}
	return &Manager{opts: opts, logger: noopLogger{}}
}

// SetLogger sets the logger.
func (m *Manager) SetLogger(logger Logger) {
	if logger != nil {
		m.logger = logger
	}
}

// NotifyContext returns a context cancelled on SIGINT or SIGTERM.
func NotifyContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// Attach registers opened device handles. Non-nil fields replace the
// current ones.
func (m *Manager) Attach(dev instrument.Devices) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if dev.Positioner != nil {
		m.devices.Positioner = dev.Positioner
	}
	if dev.FilterWheel != nil {
		m.devices.FilterWheel = dev.FilterWheel
	}
	if dev.Detector != nil {
		m.devices.Detector = dev.Detector
	}
	if dev.Laser != nil {
		m.devices.Laser = dev.Laser
	}
	if dev.SkySensor != nil {
		m.devices.SkySensor = dev.SkySensor
	}
}

// Run executes fn inside the fault boundary and always finishes with one
// SafeShutdown. A cancelled ctx is an interrupt and shuts down gracefully;
// any other error or a panic shuts down in emergency mode. Run never returns
// the fault itself: the night is over and the instrument is safe.
func (m *Manager) Run(ctx context.Context, fn func(ctx context.Context) error) Outcome {
	err := m.protect(ctx, fn)

	switch {
	case err == nil:
		m.logger.Info("night completed")
		m.shutdown(ctx, Graceful)
		return Completed

	case ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		m.logger.Warn("night interrupted", "cause", context.Cause(ctx))
		m.alert(telemetry.AlertShutdown, "controller interrupted", nil)
		m.shutdown(ctx, Graceful)
		return Interrupted

	default:
		m.logger.Error("night faulted", "error", err)
		m.alert(telemetry.AlertFault, "controller fault, powering down", err)
		m.shutdown(ctx, Emergency)
		return Faulted
	}
}

func (m *Manager) protect(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v\n%s", ErrPanic, r, debug.Stack())
		}
	}()
	return fn(ctx)
}

func (m *Manager) shutdown(ctx context.Context, mode Mode) {
	if err := m.SafeShutdown(ctx, mode); err != nil {
		m.logger.Error("safe shutdown incomplete", "error", err)
	}
}

// SafeShutdown brings the instrument to a safe, powered-down state. Only
// the first call does anything; later calls return the first result. It
// ignores cancellation of ctx and is bounded by the shutdown timeout.
//
// Parameters:
//   - mode: Graceful parks the hardware before powering down; Emergency
//     only powers down and always returns nil
//
// Returns:
//   - error: joined failures of a graceful shutdown
func (m *Manager) SafeShutdown(ctx context.Context, mode Mode) error {
	m.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opts.ShutdownTimeout)
		defer cancel()

		m.mode = mode
		if mode == Emergency {
			if err := m.powerDown(ctx); err != nil {
				m.logger.Error("emergency power down failed", "error", err)
			}
		} else {
			m.shutdownErr = m.graceful(ctx)
		}

		m.mu.Lock()
		m.shutDown = true
		m.mu.Unlock()
		m.logger.Info("instrument safe", "mode", mode.String())
	})
	return m.shutdownErr
}

// IsShutDown reports whether SafeShutdown has completed, and in which mode.
func (m *Manager) IsShutDown() (bool, Mode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shutDown, m.mode
}

// Teardown is the scheduler's end-of-night hook.
func (m *Manager) Teardown(ctx context.Context) error {
	return m.SafeShutdown(ctx, Graceful)
}

func (m *Manager) graceful(ctx context.Context) error {
	m.mu.Lock()
	dev := m.devices
	m.mu.Unlock()

	var errs []error
	step := func(name string, fn func() error) {
		if err := fn(); err != nil {
			m.logger.Warn("shutdown step failed", "step", name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	if dev.Laser != nil {
		step("laser close", func() error { return dev.Laser.Close(ctx) })
	}
	if dev.Positioner != nil {
		step("positioner home", func() error { return dev.Positioner.GoHome(ctx) })
	}
	if dev.FilterWheel != nil {
		step("filter park", func() error { return dev.FilterWheel.Go(ctx, m.opts.FilterWheel.ParkPosition) })
		step("filter close", dev.FilterWheel.Close)
	}
	if dev.Detector != nil {
		step("cooler off", func() error { return dev.Detector.CoolerOff(ctx) })
		step("detector shutdown", func() error { return dev.Detector.Shutdown(ctx) })
	}
	step("power off", func() error { return m.powerDown(ctx) })

	return errors.Join(errs...)
}

// powerDown de-energizes every tracked port over a fresh relay connection;
// the one used during the night may be what failed.
func (m *Manager) powerDown(ctx context.Context) error {
	if m.opts.NewPower == nil {
		return ErrNoPower
	}
	seq, err := m.opts.NewPower()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNoPower, err)
	}
	defer func() {
		if cerr := seq.Close(); cerr != nil {
			m.logger.Warn("closing teardown relay", "error", cerr)
		}
	}()
	return seq.TurnOffAll(ctx)
}

func (m *Manager) alert(id, message string, err error) {
	if m.opts.Alerter != nil {
		m.opts.Alerter.Alert(id, message, err, m.opts.Clock.Now())
	}
}
