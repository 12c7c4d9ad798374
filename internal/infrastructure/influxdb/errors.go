package influxdb

import "errors"

// Sentinel errors; check with errors.Is. Callers treat ErrDisabled as "run
// without telemetry".
var (
	ErrNotConnected     = errors.New("influxdb: not connected")
	ErrConnectionFailed = errors.New("influxdb: connection failed")
	ErrDisabled         = errors.New("influxdb: disabled in configuration")
)
