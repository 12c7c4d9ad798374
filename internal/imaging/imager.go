package imaging

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/nightscan/internal/clock"
	"github.com/nerrad567/nightscan/internal/infrastructure/config"
	"github.com/nerrad567/nightscan/internal/instrument"
)

const (
	dirPermissions  = 0750
	filePermissions = 0640

	// maxNameCollisions bounds the suffix search for a free file name.
	maxNameCollisions = 100

	encodingUint16LE = "uint16le"
)

// Logger is the logging interface used by Imager.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// Request describes one frame to take.
type Request struct {
	Kind         instrument.ExposureKind
	Tag          string
	ExposureTime float64
	Azimuth      float64
	Zenith       float64
	Filter       int
}

// Result describes a stored frame.
type Result struct {
	Frame       instrument.Frame
	Path        string
	SidecarPath string
	Start       time.Time

	// Temperature is nil when the detector could not be read after the frame.
	Temperature *float64

	// Conditions is nil when no sky sensor is attached or it did not answer.
	Conditions instrument.SkyConditions
}

// Sidecar is the metadata document written next to every frame.
type Sidecar struct {
	Site                string                   `yaml:"site"`
	Instrument          string                   `yaml:"instrument,omitempty"`
	Latitude            float64                  `yaml:"latitude"`
	Longitude           float64                  `yaml:"longitude"`
	Kind                instrument.ExposureKind  `yaml:"kind"`
	Tag                 string                   `yaml:"tag"`
	Start               time.Time                `yaml:"start"`
	ExposureTime        float64                  `yaml:"exposure_time"`
	Azimuth             float64                  `yaml:"azimuth"`
	Zenith              float64                  `yaml:"zenith"`
	Filter              int                      `yaml:"filter"`
	HBin                int                      `yaml:"hbin"`
	VBin                int                      `yaml:"vbin"`
	Width               int                      `yaml:"width"`
	Height              int                      `yaml:"height"`
	Encoding            string                   `yaml:"encoding"`
	DetectorTemperature *float64                 `yaml:"detector_temperature,omitempty"`
	SkyConditions       instrument.SkyConditions `yaml:"sky_conditions,omitempty"`
}

// Imager takes frames with the detector and writes them under one directory.
type Imager struct {
	dir      string
	site     config.SiteConfig
	readout  instrument.Readout
	detector instrument.Detector
	laser    instrument.LaserShutter
	sky      instrument.SkySensor
	clock    clock.Clock
	logger   Logger
}

// New creates an Imager writing into dir, which is created on first use.
//
// Parameters:
//   - dir: The night's data directory
//   - cfg: Configuration providing site metadata and binning
//   - dev: Opened devices; Detector is required, Laser is required for
//     laser frames and SkySensor is optional
//   - clk: Clock used to timestamp frames
func New(dir string, cfg *config.Config, dev instrument.Devices, clk clock.Clock) *Imager {
	return &Imager{
		dir:      dir,
		site:     cfg.Site,
		readout:  instrument.Readout{HBin: cfg.Detector.HBin, VBin: cfg.Detector.VBin},
		detector: dev.Detector,
		laser:    dev.Laser,
		sky:      dev.SkySensor,
		clock:    clk,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger.
func (im *Imager) SetLogger(logger Logger) {
	if logger != nil {
		im.logger = logger
	}
}

// Dir returns the directory frames are written to.
func (im *Imager) Dir() string {
	return im.dir
}

// Take exposes one frame and stores it.
//
// Sky-sensor and temperature read failures are logged and recorded as
// absent; they never fail the frame.
//
// Returns:
//   - Result: The frame and where it was stored
//   - error: Wrapping instrument.ErrExposure when the exposure failed or
//     returned invalid data, or the file error when storing failed
func (im *Imager) Take(ctx context.Context, req Request) (Result, error) {
	if err := os.MkdirAll(im.dir, dirPermissions); err != nil {
		return Result{}, fmt.Errorf("creating night directory: %w", err)
	}

	res := Result{Conditions: im.conditions(ctx)}

	frame, start, err := im.expose(ctx, req)
	if err != nil {
		return Result{}, err
	}
	if err := frame.Validate(); err != nil {
		return Result{}, fmt.Errorf("%s frame %s: %w", req.Kind, req.Tag, err)
	}
	res.Frame = frame
	res.Start = start

	if temp, err := im.detector.Temperature(ctx); err != nil {
		im.logger.Warn("detector temperature unavailable", "error", err)
	} else {
		res.Temperature = &temp
	}

	base, err := im.reserve(req.Tag, start)
	if err != nil {
		return Result{}, err
	}
	res.Path = base + ".raw"
	res.SidecarPath = base + ".yaml"

	if err := writeRaw(res.Path, frame); err != nil {
		return Result{}, err
	}
	if err := writeSidecar(res.SidecarPath, im.sidecar(req, res)); err != nil {
		return Result{}, err
	}

	im.logger.Info("frame stored",
		"kind", req.Kind,
		"tag", req.Tag,
		"exposure_time", req.ExposureTime,
		"path", res.Path,
	)
	return res, nil
}

func (im *Imager) expose(ctx context.Context, req Request) (frame instrument.Frame, start time.Time, err error) {
	if req.Kind == instrument.ExposureLaser {
		if im.laser == nil {
			return frame, start, fmt.Errorf("%w: no laser shutter attached", instrument.ErrExposure)
		}
		if err := im.laser.Open(ctx); err != nil {
			return frame, start, fmt.Errorf("opening laser shutter: %w", err)
		}
		defer func() {
			// The shutter must close even if ctx was cancelled mid-frame.
			if cerr := im.laser.Close(context.WithoutCancel(ctx)); cerr != nil {
				err = errors.Join(err, fmt.Errorf("closing laser shutter: %w", cerr))
			}
		}()
	}

	start = im.clock.Now()
	frame, err = im.detector.Expose(ctx, req.Kind, req.ExposureTime)
	if err != nil {
		if !errors.Is(err, instrument.ErrExposure) {
			err = fmt.Errorf("%w: %w", instrument.ErrExposure, err)
		}
		return frame, start, fmt.Errorf("%s frame %s: %w", req.Kind, req.Tag, err)
	}
	return frame, start, nil
}

func (im *Imager) conditions(ctx context.Context) instrument.SkyConditions {
	if im.sky == nil {
		return nil
	}
	c, err := im.sky.Conditions(ctx)
	if err != nil {
		im.logger.Warn("sky sensor unavailable", "error", err)
		return nil
	}
	return c
}

// reserve picks an unused base path for a frame taken at start.
func (im *Imager) reserve(tag string, start time.Time) (string, error) {
	name := fmt.Sprintf("%s_%s_%s", tag, im.site.ID, start.Format("20060102_150405"))
	base := filepath.Join(im.dir, name)
	for i := 1; i <= maxNameCollisions; i++ {
		if _, err := os.Stat(base + ".raw"); errors.Is(err, os.ErrNotExist) {
			return base, nil
		}
		base = filepath.Join(im.dir, fmt.Sprintf("%s_%d", name, i))
	}
	return "", fmt.Errorf("no free file name for %s", name)
}

func (im *Imager) sidecar(req Request, res Result) Sidecar {
	return Sidecar{
		Site:                im.site.ID,
		Instrument:          im.site.InstrumentName,
		Latitude:            im.site.Location.Latitude,
		Longitude:           im.site.Location.Longitude,
		Kind:                req.Kind,
		Tag:                 req.Tag,
		Start:               res.Start,
		ExposureTime:        req.ExposureTime,
		Azimuth:             req.Azimuth,
		Zenith:              req.Zenith,
		Filter:              req.Filter,
		HBin:                im.readout.HBin,
		VBin:                im.readout.VBin,
		Width:               res.Frame.Width,
		Height:              res.Frame.Height,
		Encoding:            encodingUint16LE,
		DetectorTemperature: res.Temperature,
		SkyConditions:       res.Conditions,
	}
}

func writeRaw(path string, frame instrument.Frame) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, filePermissions)
	if err != nil {
		return fmt.Errorf("creating frame file: %w", err)
	}
	w := bufio.NewWriter(f)
	if err := binary.Write(w, binary.LittleEndian, frame.Pixels); err != nil {
		f.Close()
		return fmt.Errorf("writing frame: %w", err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("writing frame: %w", err)
	}
	return f.Close()
}

func writeSidecar(path string, sc Sidecar) error {
	data, err := yaml.Marshal(sc)
	if err != nil {
		return fmt.Errorf("encoding sidecar: %w", err)
	}
	if err := os.WriteFile(path, data, filePermissions); err != nil {
		return fmt.Errorf("writing sidecar: %w", err)
	}
	return nil
}

// ReadRaw loads a frame written by Take, using its sidecar for dimensions.
func ReadRaw(base string) (instrument.Frame, Sidecar, error) {
	var sc Sidecar
	data, err := os.ReadFile(base + ".yaml")
	if err != nil {
		return instrument.Frame{}, sc, fmt.Errorf("reading sidecar: %w", err)
	}
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return instrument.Frame{}, sc, fmt.Errorf("parsing sidecar: %w", err)
	}

	f, err := os.Open(base + ".raw")
	if err != nil {
		return instrument.Frame{}, sc, fmt.Errorf("opening frame: %w", err)
	}
	defer f.Close()

	frame := instrument.Frame{Width: sc.Width, Height: sc.Height, Pixels: make([]uint16, sc.Width*sc.Height)}
	if err := binary.Read(bufio.NewReader(f), binary.LittleEndian, frame.Pixels); err != nil {
		return instrument.Frame{}, sc, fmt.Errorf("reading frame: %w", err)
	}
	return frame, sc, nil
}
