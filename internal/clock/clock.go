// Package clock abstracts wall-clock reads and sleeps so the night's
// scheduling can be driven by simulated time in tests and dry runs.
package clock

import (
	"context"
	"sync"
	"time"
)

// Clock reads the time and suspends the caller.
type Clock interface {
	Now() time.Time

	// Sleep blocks for d or until ctx is done, returning ctx.Err() in the
	// latter case. Non-positive durations return immediately.
	Sleep(ctx context.Context, d time.Duration) error
}

// Real is the system clock.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

func (Real) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Fake is a simulated clock. Sleep advances it instantly.
//
// OnSleep, when set, runs after every advance with the new time; tests use
// it to inject events (cancellation, failures) at simulated instants.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	sleeps  []time.Duration
	OnSleep func(now time.Time)
}

// NewFake returns a Fake clock starting at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.Advance(d)
	return ctx.Err()
}

// Advance moves the clock forward by d and records it as a sleep.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	if d > 0 {
		f.now = f.now.Add(d)
	}
	f.sleeps = append(f.sleeps, d)
	now := f.now
	hook := f.OnSleep
	f.mu.Unlock()

	if hook != nil {
		hook(now)
	}
}

// Set jumps the clock to t, backwards included.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}

// Sleeps returns every duration passed to Sleep or Advance, in order.
func (f *Fake) Sleeps() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Duration, len(f.sleeps))
	copy(out, f.sleeps)
	return out
}
