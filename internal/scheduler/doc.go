// Package scheduler runs one observing night as an explicit state machine:
//
//	AwaitingWindow -> InitialCalibration -> MainLoop -> Draining -> Parked
//
// AwaitingWindow blocks until the observing start. InitialCalibration takes
// bias, dark and a calibration frame, unless the controller started more
// than the grace period after the start. MainLoop repeats the plan until
// the observing end; the end is checked at the top of every pass and
// before every entry, never during an exposure. Draining parks the
// positioner and filter wheel and warms the detector, then the teardown
// hook shuts the detector down and removes power.
//
// Science exposures adapt to the sky: each plan entry remembers the
// intensity and exposure time of its last frame, and the next exposure time
// is derived from them (see ExposureTime and FeedbackIntensity).
package scheduler
