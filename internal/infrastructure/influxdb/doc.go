// Package influxdb provides InfluxDB telemetry for nightscan.
//
// It wraps the official influxdb-client-go v2 library for connection
// management, health checks and non-blocking metric writes.
//
// # Purpose
//
// Telemetry recorded through this package:
//   - Every exposure: kind, pointing, filter, exposure time, feedback intensity
//   - Detector temperature while cooling and warming
//   - Duty-cycle summaries (entries exposed and skipped per pass)
//   - Sky sensor conditions attached to frames
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB, cfg.Site.ID)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteDetectorTemperature(-59.8, true, time.Now())
//
// A nil *Client silently drops writes, which is how a disabled
// telemetry backend is represented.
package influxdb
