package scheduler

import (
	"context"
	"time"

	"github.com/nerrad567/nightscan/internal/instrument"
)

// ExposureEvent describes a stored frame.
type ExposureEvent struct {
	Pass         int
	Kind         instrument.ExposureKind
	ImageTag     string
	Azimuth      float64
	Zenith       float64
	Filter       int
	ExposureTime float64

	// Intensity is the feedback metric; nil for non-science frames.
	Intensity *float64

	Path        string
	At          time.Time
	Temperature *float64
	Conditions  instrument.SkyConditions
}

// PassEvent summarizes one pass through the plan.
type PassEvent struct {
	Pass     int
	Exposed  int
	Skipped  int
	Started  time.Time
	Finished time.Time
}

// Checkpoint is the resumable part of the night.
type Checkpoint struct {
	Night           string
	LastCalibration time.Time
	Passes          int
	Feedback        []Feedback
	At              time.Time
}

// Observer is told what the scheduler does. Observers must not block for
// long and report their own failures; nothing they do affects the night.
type Observer interface {
	StateChanged(ctx context.Context, state State, at time.Time)
	ExposureTaken(ctx context.Context, e ExposureEvent)
	PassCompleted(ctx context.Context, p PassEvent)
	Checkpointed(ctx context.Context, c Checkpoint)
	DetectorTemperature(ctx context.Context, celsius float64, cooler bool, at time.Time)
}

// NopObserver ignores everything. Embed it to implement part of Observer.
type NopObserver struct{}

func (NopObserver) StateChanged(context.Context, State, time.Time)                {}
func (NopObserver) ExposureTaken(context.Context, ExposureEvent)                  {}
func (NopObserver) PassCompleted(context.Context, PassEvent)                      {}
func (NopObserver) Checkpointed(context.Context, Checkpoint)                      {}
func (NopObserver) DetectorTemperature(context.Context, float64, bool, time.Time) {}

// Observers fans every event out to each member in order.
type Observers []Observer

func (obs Observers) StateChanged(ctx context.Context, state State, at time.Time) {
	for _, o := range obs {
		o.StateChanged(ctx, state, at)
	}
}

func (obs Observers) ExposureTaken(ctx context.Context, e ExposureEvent) {
	for _, o := range obs {
		o.ExposureTaken(ctx, e)
	}
}

func (obs Observers) PassCompleted(ctx context.Context, p PassEvent) {
	for _, o := range obs {
		o.PassCompleted(ctx, p)
	}
}

func (obs Observers) Checkpointed(ctx context.Context, c Checkpoint) {
	for _, o := range obs {
		o.Checkpointed(ctx, c)
	}
}

func (obs Observers) DetectorTemperature(ctx context.Context, celsius float64, cooler bool, at time.Time) {
	for _, o := range obs {
		o.DetectorTemperature(ctx, celsius, cooler, at)
	}
}
