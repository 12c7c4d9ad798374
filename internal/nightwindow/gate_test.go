package nightwindow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/nightscan/internal/clock"
)

var t0 = time.Date(2026, 10, 15, 17, 0, 0, 0, time.UTC)

func TestGate_WaitUntil(t *testing.T) {
	tests := []struct {
		name      string
		target    time.Time
		lead      time.Duration
		wantNow   time.Time
		wantSleep int
	}{
		{name: "already passed", target: t0.Add(-time.Hour), wantNow: t0, wantSleep: 0},
		{name: "exactly now", target: t0, wantNow: t0, wantSleep: 0},
		{name: "polls in bounded steps", target: t0.Add(100 * time.Second), wantNow: t0.Add(100 * time.Second), wantSleep: 4},
		{name: "negative lead waits until before", target: t0.Add(time.Hour), lead: -30 * time.Minute, wantNow: t0.Add(30 * time.Minute), wantSleep: 60},
		{name: "positive lead", target: t0, lead: 90 * time.Second, wantNow: t0.Add(90 * time.Second), wantSleep: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk := clock.NewFake(t0)
			g := NewGate(clk, 30*time.Second)

			if err := g.WaitUntil(context.Background(), tt.target, tt.lead); err != nil {
				t.Fatalf("WaitUntil() error = %v", err)
			}
			if !clk.Now().Equal(tt.wantNow) {
				t.Errorf("returned at %v, want %v", clk.Now(), tt.wantNow)
			}
			sleeps := clk.Sleeps()
			if len(sleeps) != tt.wantSleep {
				t.Errorf("sleeps = %d, want %d", len(sleeps), tt.wantSleep)
			}
			for _, s := range sleeps {
				if s > 30*time.Second {
					t.Errorf("sleep %v exceeds poll interval", s)
				}
			}
		})
	}
}

func TestGate_ToleratesClockStep(t *testing.T) {
	clk := clock.NewFake(t0)
	target := t0.Add(10 * time.Minute)
	stepped := false
	clk.OnSleep = func(now time.Time) {
		// NTP steps the clock forward past the target mid-wait.
		if !stepped && now.Sub(t0) >= time.Minute {
			stepped = true
			clk.Set(target.Add(time.Second))
		}
	}

	if err := NewGate(clk, 30*time.Second).WaitUntil(context.Background(), target, 0); err != nil {
		t.Fatalf("WaitUntil() error = %v", err)
	}
	if n := len(clk.Sleeps()); n != 2 {
		t.Errorf("sleeps = %d, want 2 (clock re-read after each poll)", n)
	}
}

func TestGate_Cancelled(t *testing.T) {
	clk := clock.NewFake(t0)
	ctx, cancel := context.WithCancel(context.Background())
	clk.OnSleep = func(time.Time) { cancel() }

	err := NewGate(clk, time.Minute).WaitUntil(ctx, t0.Add(time.Hour), 0)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("WaitUntil() error = %v, want context.Canceled", err)
	}
}

func TestGate_Passed(t *testing.T) {
	g := NewGate(clock.NewFake(t0), 0)
	if !g.Passed(t0) || !g.Passed(t0.Add(-time.Second)) || g.Passed(t0.Add(time.Second)) {
		t.Error("Passed() disagrees with the clock")
	}
}
