// Package calibration decides when a calibration (laser) frame is due.
//
// It holds policy only. Pointing the instrument at the calibration position
// and taking the frame is the scheduler's job.
package calibration

import (
	"time"

	"github.com/nerrad567/nightscan/internal/runstate"
)

// ShouldCalibrate reports whether strictly more than interval has elapsed
// since the last calibration. A zero or negative interval disables
// calibration.
func ShouldCalibrate(state *runstate.RunState, now time.Time, interval time.Duration) bool {
	if interval <= 0 {
		return false
	}
	return now.Sub(state.LastCalibration) > interval
}

// RecordCalibration resets the calibration clock to now.
func RecordCalibration(state *runstate.RunState, now time.Time) {
	state.LastCalibration = now
}

// SinceLast returns the time since the last calibration, or zero if none
// has been recorded.
func SinceLast(state *runstate.RunState, now time.Time) time.Duration {
	if state.LastCalibration.IsZero() {
		return 0
	}
	return now.Sub(state.LastCalibration)
}
