package lifecycle

import "errors"

var (
	// ErrPanic wraps a panic recovered from the night.
	ErrPanic = errors.New("lifecycle: panic")

	// ErrNoPower is returned when teardown cannot reach the relay.
	ErrNoPower = errors.New("lifecycle: relay unavailable")
)
