package discovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nerrad567/nightscan/internal/clock"
	"github.com/nerrad567/nightscan/internal/infrastructure/config"
)

// Logger defines the logging interface for the resolver.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// PowerCycler power-cycles one relay outlet. *power.Sequencer implements it.
type PowerCycler interface {
	Cycle(ctx context.Context, clk clock.Clock, port int, offSettle, onSettle time.Duration) error
}

// Target describes a subsystem to resolve.
type Target struct {
	// Name is used in logs.
	Name string

	// HardwareID is the subsystem's MAC address.
	HardwareID string

	// Port is the relay outlet cycled on escalation. Zero disables escalation.
	Port int

	// Required marks a subsystem whose absence ends the night. The resolver
	// reports failure the same way either way; callers decide.
	Required bool
}

// Resolver runs discovery sweeps.
type Resolver struct {
	lookup Lookup
	power  PowerCycler
	clock  clock.Clock
	cfg    config.DiscoveryConfig
	logger Logger
}

// NewResolver creates a Resolver. power may be nil when no target is
// power-backed.
func NewResolver(lookup Lookup, power PowerCycler, clk clock.Clock, cfg config.DiscoveryConfig) *Resolver {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Resolver{
		lookup: lookup,
		power:  power,
		clock:  clk,
		cfg:    cfg,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the resolver.
func (r *Resolver) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	r.logger = logger
}

// Resolve runs one sweep: an immediate lookup, then further lookups spaced
// by the configured delay, maxAttempts lookups in total. Each lookup is
// bounded by timeout. A failed sweep returns NotFound and a nil error; the
// error is reserved for cancellation.
func (r *Resolver) Resolve(ctx context.Context, hardwareID string, timeout time.Duration, maxAttempts int) (Result, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var address string
	attempt := 0
	op := func() error {
		attempt++
		lookupCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		addr, ok, err := r.lookup.Lookup(lookupCtx, hardwareID)
		if err != nil {
			r.logger.Warn("neighbour lookup failed", "hardware_id", hardwareID, "attempt", attempt, "error", err)
			return errNotFound
		}
		if !ok {
			r.logger.Debug("hardware id not in neighbour table", "hardware_id", hardwareID, "attempt", attempt)
			return errNotFound
		}
		address = addr
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(r.cfg.Delay), uint64(maxAttempts-1)),
		ctx,
	)
	err := backoff.RetryNotifyWithTimer(op, policy, nil, newClockTimer(ctx, r.clock))
	switch {
	case err == nil:
		return Found(address), nil
	case ctx.Err() != nil:
		return NotFound, ctx.Err()
	case errors.Is(err, errNotFound):
		return NotFound, nil
	default:
		return NotFound, err
	}
}

// ResolveWithPowerCycle runs a sweep with the configured policy and, for a
// power-backed target, one power-cycle followed by exactly one more sweep.
// A final miss is reported as ErrDiscoveryFailed.
func (r *Resolver) ResolveWithPowerCycle(ctx context.Context, target Target) (Result, error) {
	res, err := r.Resolve(ctx, target.HardwareID, r.cfg.Timeout, r.cfg.MaxAttempts)
	if err != nil {
		return NotFound, err
	}
	if res.IsFound() {
		r.logFound(target, res)
		return res, nil
	}

	if target.Port == 0 || r.power == nil {
		return NotFound, r.failed(target)
	}

	r.logger.Warn("subsystem not found, power cycling", "target", target.Name, "port", target.Port)
	if err := r.power.Cycle(ctx, r.clock, target.Port, r.cfg.CycleOffSettle, r.cfg.CycleOnSettle); err != nil {
		return NotFound, fmt.Errorf("%w: %s: power cycle: %w", ErrDiscoveryFailed, target.Name, err)
	}

	res, err = r.Resolve(ctx, target.HardwareID, r.cfg.Timeout, r.cfg.MaxAttempts)
	if err != nil {
		return NotFound, err
	}
	if res.IsFound() {
		r.logFound(target, res)
		return res, nil
	}
	return NotFound, r.failed(target)
}

func (r *Resolver) logFound(target Target, res Result) {
	addr, _ := res.Address()
	r.logger.Info("subsystem found", "target", target.Name, "address", addr)
}

func (r *Resolver) failed(target Target) error {
	r.logger.Warn("subsystem not found", "target", target.Name, "required", target.Required)
	return fmt.Errorf("%w: %s (%s)", ErrDiscoveryFailed, target.Name, target.HardwareID)
}

// clockTimer adapts a clock.Clock to backoff.Timer so retry delays follow
// simulated time in tests.
type clockTimer struct {
	ctx    context.Context
	clock  clock.Clock
	c      chan time.Time
	cancel context.CancelFunc
}

func newClockTimer(ctx context.Context, clk clock.Clock) *clockTimer {
	return &clockTimer{ctx: ctx, clock: clk, c: make(chan time.Time, 1)}
}

func (t *clockTimer) Start(d time.Duration) {
	t.Stop()
	ctx, cancel := context.WithCancel(t.ctx)
	t.cancel = cancel
	go func() {
		if err := t.clock.Sleep(ctx, d); err != nil {
			return
		}
		select {
		case t.c <- t.clock.Now():
		default:
		}
	}()
}

func (t *clockTimer) Stop() {
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
}

func (t *clockTimer) C() <-chan time.Time {
	return t.c
}
