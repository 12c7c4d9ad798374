package nightwindow

import (
	"context"
	"time"

	"github.com/nerrad567/nightscan/internal/clock"
)

// Logger defines the logging interface for the gate.
type Logger interface {
	Info(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}

// Gate blocks until wall-clock boundaries are reached.
type Gate struct {
	clock  clock.Clock
	poll   time.Duration
	logger Logger
}

// NewGate creates a Gate that re-reads clk at least every poll.
func NewGate(clk clock.Clock, poll time.Duration) *Gate {
	if poll <= 0 {
		poll = 30 * time.Second
	}
	return &Gate{clock: clk, poll: poll, logger: noopLogger{}}
}

// SetLogger sets the logger for the gate.
func (g *Gate) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	g.logger = logger
}

// WaitUntil returns once now >= target+lead. A negative lead waits until
// before the target. The clock is re-read after every suspension of at most
// the poll interval, so clock steps in either direction are honoured.
// Returns immediately when the boundary has already passed, and ctx.Err()
// when cancelled.
func (g *Gate) WaitUntil(ctx context.Context, target time.Time, lead time.Duration) error {
	deadline := target.Add(lead)
	logged := false
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		now := g.clock.Now()
		if !now.Before(deadline) {
			return nil
		}
		if !logged {
			g.logger.Info("waiting for boundary", "until", deadline, "remaining", deadline.Sub(now).Round(time.Second))
			logged = true
		}
		if err := g.clock.Sleep(ctx, min(deadline.Sub(now), g.poll)); err != nil {
			return err
		}
	}
}

// Passed reports whether the clock is at or after t.
func (g *Gate) Passed(t time.Time) bool {
	return !g.clock.Now().Before(t)
}
