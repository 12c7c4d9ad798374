// Package telemetry forwards scheduler events off the instrument host.
//
// Status publishes the scheduler state, pass completions and operator alerts
// on MQTT. Metrics writes exposures, passes, sky conditions and detector
// temperatures to InfluxDB. Both implement scheduler.Observer and never fail
// the night: delivery errors are logged and dropped.
package telemetry
