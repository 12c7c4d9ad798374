// Package bridge reaches the positioner, detector and laser shutter through
// the instrument bridge daemon over MQTT.
//
// The vendor drivers for the sky scanner and the CCD only exist as
// libraries for the daemon's runtime, so the controller never links them.
// Each command is a request/response exchange:
//
//	nightscan/request/{device}/{request_id}   controller -> daemon
//	nightscan/response/{device}/{request_id}  daemon -> controller
//
// Requests carry a UUID request ID; a response is matched to its waiting
// caller by that ID. Commands are bounded by the configured request
// timeout, and exposures by the exposure time plus a margin. A command
// that times out or that the daemon reports as failed returns
// instrument.ErrHardwareCommand.
package bridge
