// Package journal records each night in the SQLite database: the run, every
// stored frame, every pass through the plan and the resumable scheduler
// state.
//
// A controller restarted during a night reads the state back with Resume,
// so it keeps its calibration clock, pass count and exposure feedback.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/nightscan/internal/nightwindow"
	"github.com/nerrad567/nightscan/internal/scheduler"
)

// ErrNoRun is returned when recording before StartRun.
var ErrNoRun = errors.New("journal: no run started")

// Logger is the logging interface used by the journal.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Exposure is a journaled frame.
type Exposure struct {
	ID           int64
	RunID        string
	Pass         int
	Kind         string
	ImageTag     string
	Azimuth      float64
	Zenith       float64
	Filter       int
	ExposureTime float64
	Intensity    *float64
	Path         string
	TakenAt      time.Time
}

// Resume is the state saved for a night.
type Resume struct {
	LastCalibration time.Time
	Passes          int
	Feedback        []scheduler.Feedback
}

// Journal writes one run. It implements scheduler.Observer; write failures
// are logged and never interrupt the night.
type Journal struct {
	scheduler.NopObserver

	db     *sql.DB
	runID  string
	logger Logger
}

// New creates a journal on a migrated database.
func New(db *sql.DB) *Journal {
	return &Journal{db: db, logger: noopLogger{}}
}

// SetLogger sets the logger.
func (j *Journal) SetLogger(logger Logger) {
	if logger != nil {
		j.logger = logger
	}
}

// RunID returns the current run's ID, empty before StartRun.
func (j *Journal) RunID() string {
	return j.runID
}

// StartRun opens a run record for the night.
func (j *Journal) StartRun(ctx context.Context, site string, night nightwindow.Night, at time.Time) error {
	id := "run-" + uuid.NewString()
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO runs (id, site, night, sunset, sunrise, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, site, night.DirName(), formatTime(night.Sunset), formatTime(night.Sunrise), formatTime(at),
	)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}
	j.runID = id
	return nil
}

// FinishRun closes the run record with its outcome, e.g. "completed".
func (j *Journal) FinishRun(ctx context.Context, outcome string, at time.Time) error {
	if j.runID == "" {
		return ErrNoRun
	}
	_, err := j.db.ExecContext(ctx,
		`UPDATE runs SET ended_at = ?, outcome = ? WHERE id = ?`,
		formatTime(at), outcome, j.runID,
	)
	if err != nil {
		return fmt.Errorf("finishing run: %w", err)
	}
	return nil
}

// Resume loads the saved state for a night. found is false when the night
// has no saved state.
func (j *Journal) Resume(ctx context.Context, night string) (res Resume, found bool, err error) {
	var lastCal sql.NullString
	var feedback string
	err = j.db.QueryRowContext(ctx,
		`SELECT last_calibration, exposure_times FROM run_state WHERE night = ?`, night,
	).Scan(&lastCal, &feedback)
	if errors.Is(err, sql.ErrNoRows) {
		return Resume{}, false, nil
	}
	if err != nil {
		return Resume{}, false, fmt.Errorf("reading run state: %w", err)
	}

	if lastCal.Valid && lastCal.String != "" {
		if res.LastCalibration, err = parseTime(lastCal.String); err != nil {
			return Resume{}, false, err
		}
	}
	if err := json.Unmarshal([]byte(feedback), &res.Feedback); err != nil {
		return Resume{}, false, fmt.Errorf("parsing saved feedback: %w", err)
	}

	var passes sql.NullInt64
	err = j.db.QueryRowContext(ctx,
		`SELECT MAX(p.pass) FROM passes p JOIN runs r ON r.id = p.run_id WHERE r.night = ?`, night,
	).Scan(&passes)
	if err != nil {
		return Resume{}, false, fmt.Errorf("counting passes: %w", err)
	}
	res.Passes = int(passes.Int64)
	return res, true, nil
}

// ExposureTaken records a stored frame.
func (j *Journal) ExposureTaken(ctx context.Context, e scheduler.ExposureEvent) {
	if err := j.recordExposure(context.WithoutCancel(ctx), e); err != nil {
		j.logger.Warn("journal write failed", "record", "exposure", "error", err)
	}
}

func (j *Journal) recordExposure(ctx context.Context, e scheduler.ExposureEvent) error {
	if j.runID == "" {
		return ErrNoRun
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO exposures (run_id, pass, kind, image_tag, azimuth, zenith, filter, exposure_time, intensity, path, taken_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.runID, e.Pass, string(e.Kind), e.ImageTag, e.Azimuth, e.Zenith, e.Filter,
		e.ExposureTime, nullableFloat(e.Intensity), e.Path, formatTime(e.At),
	)
	if err != nil {
		return fmt.Errorf("inserting exposure: %w", err)
	}
	return nil
}

// PassCompleted records a pass.
func (j *Journal) PassCompleted(ctx context.Context, p scheduler.PassEvent) {
	if err := j.recordPass(context.WithoutCancel(ctx), p); err != nil {
		j.logger.Warn("journal write failed", "record", "pass", "error", err)
	}
}

func (j *Journal) recordPass(ctx context.Context, p scheduler.PassEvent) error {
	if j.runID == "" {
		return ErrNoRun
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO passes (run_id, pass, exposed, skipped, started_at, finished_at) VALUES (?, ?, ?, ?, ?, ?)`,
		j.runID, p.Pass, p.Exposed, p.Skipped, formatTime(p.Started), formatTime(p.Finished),
	)
	if err != nil {
		return fmt.Errorf("inserting pass: %w", err)
	}
	return nil
}

// Checkpointed saves the resumable state.
func (j *Journal) Checkpointed(ctx context.Context, c scheduler.Checkpoint) {
	if err := j.saveState(context.WithoutCancel(ctx), c); err != nil {
		j.logger.Warn("journal write failed", "record", "run_state", "error", err)
	}
}

func (j *Journal) saveState(ctx context.Context, c scheduler.Checkpoint) error {
	feedback, err := json.Marshal(c.Feedback)
	if err != nil {
		return fmt.Errorf("encoding feedback: %w", err)
	}
	var lastCal any
	if !c.LastCalibration.IsZero() {
		lastCal = formatTime(c.LastCalibration)
	}
	_, err = j.db.ExecContext(ctx,
		`INSERT INTO run_state (night, last_calibration, exposure_times, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(night) DO UPDATE SET
		   last_calibration = excluded.last_calibration,
		   exposure_times = excluded.exposure_times,
		   updated_at = excluded.updated_at`,
		c.Night, lastCal, string(feedback), formatTime(c.At),
	)
	if err != nil {
		return fmt.Errorf("saving run state: %w", err)
	}
	return nil
}

// Exposures returns the frames of a run in the order they were taken.
func (j *Journal) Exposures(ctx context.Context, runID string) ([]Exposure, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, run_id, pass, kind, image_tag, azimuth, zenith, filter, exposure_time, intensity, path, taken_at
		 FROM exposures WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying exposures: %w", err)
	}
	defer rows.Close()

	var out []Exposure
	for rows.Next() {
		var e Exposure
		var intensity sql.NullFloat64
		var takenAt string
		if err := rows.Scan(&e.ID, &e.RunID, &e.Pass, &e.Kind, &e.ImageTag, &e.Azimuth, &e.Zenith,
			&e.Filter, &e.ExposureTime, &intensity, &e.Path, &takenAt); err != nil {
			return nil, fmt.Errorf("scanning exposure: %w", err)
		}
		if intensity.Valid {
			v := intensity.Float64
			e.Intensity = &v
		}
		if e.TakenAt, err = parseTime(takenAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating exposures: %w", err)
	}
	return out, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing journal timestamp %q: %w", s, err)
	}
	return t, nil
}

// nullableFloat maps nil to SQL NULL.
func nullableFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
