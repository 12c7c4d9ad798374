package power

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/nightscan/internal/clock"
	"github.com/nerrad567/nightscan/internal/infrastructure/config"
)

// Logger defines the logging interface for the sequencer.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Sequencer is the single path through which relay outlets are switched.
//
// Thread Safety: commands are serialised; a Sequencer may be shared between
// the scheduler and the teardown path.
type Sequencer struct {
	driver  Driver
	tracked []int
	logger  Logger

	mu    sync.Mutex
	state map[int]bool
}

// New connects a Sequencer to the relay described by cfg. The tracked ports
// are the ones TurnOffAll de-energizes.
func New(cfg config.PowerConfig) (*Sequencer, error) {
	driver, err := NewDriver(cfg)
	if err != nil {
		return nil, err
	}
	return NewWithDriver(driver, cfg.Ports.Tracked()), nil
}

// NewWithDriver creates a Sequencer over an existing driver.
func NewWithDriver(driver Driver, tracked []int) *Sequencer {
	return &Sequencer{
		driver:  driver,
		tracked: append([]int(nil), tracked...),
		logger:  noopLogger{},
		state:   make(map[int]bool),
	}
}

// SetLogger sets the logger for the sequencer.
func (s *Sequencer) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	s.logger = logger
}

// TurnOn energizes port. Port 0 means unassigned and is a no-op.
func (s *Sequencer) TurnOn(ctx context.Context, port int) error {
	return s.set(ctx, port, true)
}

// TurnOff de-energizes port. Port 0 means unassigned and is a no-op.
func (s *Sequencer) TurnOff(ctx context.Context, port int) error {
	return s.set(ctx, port, false)
}

// set always sends the command: the relay may have been switched by hand
// or power-cycled since the last call, so the cached state is not trusted.
func (s *Sequencer) set(ctx context.Context, port int, on bool) error {
	if port == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.driver.SetOutlet(ctx, port, on); err != nil {
		s.logger.Error("relay command failed", "port", port, "on", on, "error", err)
		if errors.Is(err, ErrRelayFault) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrRelayFault, err)
	}
	s.state[port] = on
	s.logger.Info("relay outlet switched", "port", port, "on", on)
	return nil
}

// TurnOffAll de-energizes every tracked port. It attempts all of them and
// returns the joined failures.
func (s *Sequencer) TurnOffAll(ctx context.Context) error {
	var errs []error
	for _, port := range s.tracked {
		if err := s.TurnOff(ctx, port); err != nil {
			errs = append(errs, fmt.Errorf("port %d: %w", port, err))
		}
	}
	return errors.Join(errs...)
}

// Cycle switches port off, waits offSettle, switches it on and waits onSettle.
func (s *Sequencer) Cycle(ctx context.Context, clk clock.Clock, port int, offSettle, onSettle time.Duration) error {
	s.logger.Info("power cycling outlet", "port", port)
	if err := s.TurnOff(ctx, port); err != nil {
		return err
	}
	if err := clk.Sleep(ctx, offSettle); err != nil {
		return err
	}
	if err := s.TurnOn(ctx, port); err != nil {
		return err
	}
	return clk.Sleep(ctx, onSettle)
}

// State returns the last commanded state of port and whether it was ever
// commanded through this Sequencer.
func (s *Sequencer) State(port int) (on, known bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	on, known = s.state[port]
	return on, known
}

// Tracked returns the ports TurnOffAll acts on.
func (s *Sequencer) Tracked() []int {
	return append([]int(nil), s.tracked...)
}

// Close releases the relay connection.
func (s *Sequencer) Close() error {
	return s.driver.Close()
}
