package instrument

import "errors"

var (
	// ErrHardwareCommand is returned when a device rejects a command or
	// does not answer in time.
	ErrHardwareCommand = errors.New("instrument: hardware command failed")

	// ErrExposure is returned when an exposure fails or yields invalid data.
	ErrExposure = errors.New("instrument: exposure failed")
)
