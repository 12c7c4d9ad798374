// Package runstate holds the few values that change during a night. The
// configuration itself is never mutated.
package runstate

import "time"

// RunState is owned by the scheduler for the lifetime of one night.
type RunState struct {
	// Night is the YYYYMMDD name of the night this state belongs to.
	Night string

	// LastCalibration is when the last calibration frame was taken. Zero
	// means none yet.
	LastCalibration time.Time

	// SkySensorAddress and FilterWheelAddress are discovered network
	// addresses; empty when not found.
	SkySensorAddress   string
	FilterWheelAddress string

	// FilterWheelSerialFallback is set when the filter wheel could not be
	// found on the network and is driven over its serial port instead.
	FilterWheelSerialFallback bool

	// Passes counts completed passes through the plan.
	Passes int
}

// New returns an empty RunState for the named night.
func New(night string) *RunState {
	return &RunState{Night: night}
}
