package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/nerrad567/nightscan/internal/calibration"
	"github.com/nerrad567/nightscan/internal/clock"
	"github.com/nerrad567/nightscan/internal/imaging"
	"github.com/nerrad567/nightscan/internal/infrastructure/config"
	"github.com/nerrad567/nightscan/internal/instrument"
	"github.com/nerrad567/nightscan/internal/nightwindow"
	"github.com/nerrad567/nightscan/internal/runstate"
)

// Image tags of the calibration frames.
const (
	TagBias  = "BIAS"
	TagDark  = "DARK"
	TagLaser = "LASER"
)

// Imager takes and stores frames. *imaging.Imager implements it.
type Imager interface {
	Take(ctx context.Context, req imaging.Request) (imaging.Result, error)
}

// Logger is the logging interface used by the scheduler.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// Options holds the scheduler's collaborators.
type Options struct {
	Config  *config.Config
	Night   nightwindow.Night
	State   *runstate.RunState
	Plan    []*Observation
	Devices instrument.Devices
	Imager  Imager
	Gate    *nightwindow.Gate
	Clock   clock.Clock

	// Observer receives events; nil ignores them.
	Observer Observer

	// Teardown runs once the detector is warm to shut it down and remove
	// power. nil skips it.
	Teardown func(ctx context.Context) error
}

// Scheduler drives one night. It is not safe for concurrent Run calls;
// State may be read from any goroutine.
type Scheduler struct {
	cfg      *config.Config
	night    nightwindow.Night
	state    *runstate.RunState
	plan     []*Observation
	dev      instrument.Devices
	imager   Imager
	gate     *nightwindow.Gate
	clock    clock.Clock
	observer Observer
	teardown func(ctx context.Context) error
	logger   Logger

	// filter is the last commanded filter position.
	filter int

	mu      sync.Mutex
	current State
}

// New creates a scheduler in the AwaitingWindow state.
func New(opts Options) *Scheduler {
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	observer := opts.Observer
	if observer == nil {
		observer = NopObserver{}
	}
	gate := opts.Gate
	if gate == nil {
		gate = nightwindow.NewGate(clk, opts.Config.Schedule.PollInterval)
	}
	return &Scheduler{
		cfg:      opts.Config,
		night:    opts.Night,
		state:    opts.State,
		plan:     opts.Plan,
		dev:      opts.Devices,
		imager:   opts.Imager,
		gate:     gate,
		clock:    clk,
		observer: observer,
		teardown: opts.Teardown,
		logger:   noopLogger{},
		current:  AwaitingWindow,
	}
}

// SetLogger sets the logger.
func (s *Scheduler) SetLogger(logger Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// State returns the current phase.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Plan returns the plan with its current feedback.
func (s *Scheduler) Plan() []*Observation {
	return s.plan
}

func (s *Scheduler) enter(ctx context.Context, state State) {
	s.mu.Lock()
	s.current = state
	s.mu.Unlock()

	now := s.clock.Now()
	s.logger.Info("scheduler state", "state", state.String())
	s.observer.StateChanged(ctx, state, now)
}

// Run executes the night from AwaitingWindow to Parked. It returns ctx.Err()
// when cancelled and the first hardware or exposure fault otherwise; in
// both cases teardown is left to the caller. A failed teardown after a
// completed drain is logged, not returned.
func (s *Scheduler) Run(ctx context.Context) error {
	s.enter(ctx, AwaitingWindow)
	if err := s.gate.WaitUntil(ctx, s.night.Start, 0); err != nil {
		return err
	}

	if err := s.initialCalibration(ctx); err != nil {
		return fmt.Errorf("initial calibration: %w", err)
	}

	s.enter(ctx, MainLoop)
	if err := s.mainLoop(ctx); err != nil {
		return err
	}

	s.enter(ctx, Draining)
	if err := s.drain(ctx); err != nil {
		return fmt.Errorf("draining: %w", err)
	}
	// The night has completed; a failed teardown step is only reported.
	if s.teardown != nil {
		if err := s.teardown(ctx); err != nil {
			s.logger.Warn("teardown incomplete", "error", err)
		}
	}

	s.enter(ctx, Parked)
	return nil
}

// initialCalibration takes bias, dark and calibration frames, or only seeds
// the calibration clock when started after the grace period.
func (s *Scheduler) initialCalibration(ctx context.Context) error {
	now := s.clock.Now()
	if deadline := s.night.Start.Add(s.cfg.Schedule.InitialGrace); !now.Before(deadline) {
		if s.state.LastCalibration.Before(s.night.Start) {
			calibration.RecordCalibration(s.state, now)
			s.logger.Info("skipped initial frames, started after grace period", "grace_ended", deadline)
		} else {
			s.logger.Info("skipped initial frames, keeping journaled calibration time",
				"grace_ended", deadline, "last_calibration", s.state.LastCalibration)
		}
		s.checkpoint(ctx)
		return nil
	}

	s.enter(ctx, InitialCalibration)
	det := s.cfg.Detector
	if err := s.take(ctx, 0, imaging.Request{Kind: instrument.ExposureBias, Tag: TagBias, ExposureTime: det.BiasExposure}, nil); err != nil {
		return err
	}
	if err := s.take(ctx, 0, imaging.Request{Kind: instrument.ExposureDark, Tag: TagDark, ExposureTime: det.DarkExposure}, nil); err != nil {
		return err
	}
	return s.calibrate(ctx, 0)
}

func (s *Scheduler) mainLoop(ctx context.Context) error {
	for {
		if s.gate.Passed(s.night.End) {
			s.logger.Info("observing window closed", "end", s.night.End)
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		p := PassEvent{Pass: s.state.Passes + 1, Started: s.clock.Now()}
		for _, o := range s.plan {
			if s.gate.Passed(s.night.End) {
				s.logger.Info("observing window closed during pass", "pass", p.Pass)
				break
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			exposed, err := s.observe(ctx, p.Pass, o)
			if err != nil {
				return err
			}
			if exposed {
				p.Exposed++
			} else {
				p.Skipped++
			}
		}

		p.Finished = s.clock.Now()
		s.state.Passes = p.Pass
		s.logger.Info("pass complete", "pass", p.Pass, "exposed", p.Exposed, "skipped", p.Skipped)
		s.observer.PassCompleted(ctx, p)
		s.checkpoint(ctx)

		if p.Exposed == 0 {
			if err := s.idle(ctx); err != nil {
				return err
			}
		}
	}
}

// idle sleeps after a pass in which nothing could be observed, never past
// the end of the window.
func (s *Scheduler) idle(ctx context.Context) error {
	delay := s.cfg.Schedule.IdlePassDelay
	if delay <= 0 {
		delay = s.cfg.Schedule.PollInterval
	}
	wait := min(delay, s.night.End.Sub(s.clock.Now()))
	if wait <= 0 {
		return nil
	}
	s.logger.Info("no entry observable, idling", "wait", wait)
	return s.clock.Sleep(ctx, wait)
}

// observe handles one plan entry. It reports whether a frame was taken.
func (s *Scheduler) observe(ctx context.Context, pass int, o *Observation) (bool, error) {
	site := s.cfg.Site.Location
	angle, err := s.dev.Positioner.MoonAngle(ctx, site.Latitude, site.Longitude, o.Azimuth, o.Zenith)
	if err != nil {
		return false, fmt.Errorf("moon angle for %s: %w", o.ImageTag, err)
	}
	s.logger.Debug("moon angle", "tag", o.ImageTag, "angle", angle)
	if angle <= s.cfg.MoonThresholdAngle {
		s.logger.Info("moon too close, skipping",
			"tag", o.ImageTag,
			"angle", angle,
			"threshold", s.cfg.MoonThresholdAngle,
			"azimuth", o.Azimuth,
			"zenith", o.Zenith,
			"filter", o.FilterPosition,
		)
		return false, nil
	}

	if err := s.point(ctx, o.Azimuth, o.Zenith); err != nil {
		return false, err
	}
	if err := s.selectFilter(ctx, o.FilterPosition); err != nil {
		return false, err
	}

	o.ExposureTime = ExposureTime(o, s.cfg.Detector.MaxExposure)
	s.logger.Info("calculated exposure time", "tag", o.ImageTag, "exposure_time", o.ExposureTime)

	var intensity float64
	req := imaging.Request{
		Kind:         instrument.ExposureSky,
		Tag:          o.ImageTag,
		ExposureTime: o.ExposureTime,
		Azimuth:      o.Azimuth,
		Zenith:       o.Zenith,
		Filter:       s.filter,
	}
	err = s.take(ctx, pass, req, func(res imaging.Result) (*float64, error) {
		v, err := FeedbackIntensity(res.Frame, s.cfg.Feedback, o.Zenith)
		if err != nil {
			return nil, err
		}
		intensity = v
		return &intensity, nil
	})
	if err != nil {
		return false, err
	}

	o.LastIntensity = intensity
	o.LastExposureTime = o.ExposureTime
	s.logger.Info("image intensity", "tag", o.ImageTag, "intensity", intensity)

	now := s.clock.Now()
	s.logger.Debug("time since last calibration", "elapsed", calibration.SinceLast(s.state, now))
	if !calibration.ShouldCalibrate(s.state, now, s.cfg.Calibration.Interval) {
		return true, nil
	}
	if s.gate.Passed(s.night.End) {
		s.logger.Info("calibration due but observing window closed", "end", s.night.End)
		return true, nil
	}
	if err := ctx.Err(); err != nil {
		return true, err
	}
	return true, s.calibrate(ctx, pass)
}

// calibrate points at the laser, selects its filter when one is configured
// and takes a laser frame.
func (s *Scheduler) calibrate(ctx context.Context, pass int) error {
	az, zen := s.cfg.Positioner.LaserAzimuth, s.cfg.Positioner.LaserZenith
	if err := s.point(ctx, az, zen); err != nil {
		return err
	}
	if pos := s.cfg.FilterWheel.LaserPosition; pos != nil {
		if err := s.selectFilter(ctx, *pos); err != nil {
			return err
		}
	}

	req := imaging.Request{
		Kind:         instrument.ExposureLaser,
		Tag:          TagLaser,
		ExposureTime: s.cfg.Detector.LaserExposure,
		Azimuth:      az,
		Zenith:       zen,
		Filter:       s.filter,
	}
	if err := s.take(ctx, pass, req, nil); err != nil {
		return err
	}
	calibration.RecordCalibration(s.state, s.clock.Now())
	s.checkpoint(ctx)
	return nil
}

// take stores one frame and reports it. measure, when set, derives the
// feedback intensity from the stored frame.
func (s *Scheduler) take(ctx context.Context, pass int, req imaging.Request, measure func(imaging.Result) (*float64, error)) error {
	s.logger.Info("taking frame", "kind", req.Kind, "tag", req.Tag, "exposure_time", req.ExposureTime)
	res, err := s.imager.Take(ctx, req)
	if err != nil {
		return err
	}

	var intensity *float64
	if measure != nil {
		if intensity, err = measure(res); err != nil {
			return fmt.Errorf("feedback for %s: %w", req.Tag, err)
		}
	}

	s.observer.ExposureTaken(ctx, ExposureEvent{
		Pass:         pass,
		Kind:         req.Kind,
		ImageTag:     req.Tag,
		Azimuth:      req.Azimuth,
		Zenith:       req.Zenith,
		Filter:       req.Filter,
		ExposureTime: req.ExposureTime,
		Intensity:    intensity,
		Path:         res.Path,
		At:           res.Start,
		Temperature:  res.Temperature,
		Conditions:   res.Conditions,
	})
	return nil
}

func (s *Scheduler) point(ctx context.Context, azimuth, zenith float64) error {
	s.logger.Info("moving positioner", "azimuth", azimuth, "zenith", zenith)
	if err := s.dev.Positioner.SetPositionReal(ctx, azimuth, zenith); err != nil {
		return fmt.Errorf("moving positioner: %w", err)
	}
	az, zen, err := s.dev.Positioner.WorldCoordinates(ctx)
	if err != nil {
		return fmt.Errorf("reading positioner coordinates: %w", err)
	}
	s.logger.Info("positioner moved", "azimuth", az, "zenith", zen)
	return nil
}

// selectFilter moves the wheel; without a wheel it does nothing.
func (s *Scheduler) selectFilter(ctx context.Context, position int) error {
	if s.dev.FilterWheel == nil {
		return nil
	}
	s.logger.Info("moving filter wheel", "position", position)
	if err := s.dev.FilterWheel.Go(ctx, position); err != nil {
		return fmt.Errorf("moving filter wheel: %w", err)
	}
	s.filter = position
	return nil
}

// drain parks the positioner and filter wheel, turns the cooler off and
// waits for the detector to warm above the floor.
func (s *Scheduler) drain(ctx context.Context) error {
	if err := s.dev.Positioner.GoHome(ctx); err != nil {
		return fmt.Errorf("parking positioner: %w", err)
	}
	if err := s.selectFilter(ctx, s.cfg.FilterWheel.ParkPosition); err != nil {
		return err
	}

	s.logger.Info("warming detector", "floor", s.cfg.Detector.WarmFloor)
	if err := s.dev.Detector.CoolerOff(ctx); err != nil {
		return fmt.Errorf("cooler off: %w", err)
	}
	for {
		temp, err := s.dev.Detector.Temperature(ctx)
		if err != nil {
			return fmt.Errorf("reading detector temperature: %w", err)
		}
		s.observer.DetectorTemperature(ctx, temp, false, s.clock.Now())
		if temp >= s.cfg.Detector.WarmFloor {
			s.logger.Info("detector warm", "temperature", temp)
			return nil
		}
		s.logger.Info("detector temperature", "temperature", temp)
		if err := s.clock.Sleep(ctx, s.cfg.Detector.WarmPollInterval); err != nil {
			return err
		}
	}
}

func (s *Scheduler) checkpoint(ctx context.Context) {
	s.observer.Checkpointed(ctx, Checkpoint{
		Night:           s.state.Night,
		LastCalibration: s.state.LastCalibration,
		Passes:          s.state.Passes,
		Feedback:        Snapshot(s.plan),
		At:              s.clock.Now(),
	})
}
