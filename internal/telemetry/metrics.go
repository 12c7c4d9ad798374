package telemetry

import (
	"context"
	"time"

	"github.com/nerrad567/nightscan/internal/infrastructure/influxdb"
	"github.com/nerrad567/nightscan/internal/scheduler"
)

// MetricsWriter is the subset of the InfluxDB client used for metrics.
// *influxdb.Client satisfies it and ignores writes while disconnected.
type MetricsWriter interface {
	WriteExposure(m influxdb.ExposureMetric)
	WriteDetectorTemperature(celsius float64, cooler bool, at time.Time)
	WritePass(pass, exposed, skipped int, at time.Time)
	WriteSkyConditions(fields map[string]interface{}, at time.Time)
}

// Metrics writes scheduler events as time-series points.
type Metrics struct {
	scheduler.NopObserver

	w MetricsWriter
}

// NewMetrics creates a metrics sink.
func NewMetrics(w MetricsWriter) *Metrics {
	return &Metrics{w: w}
}

// ExposureTaken writes the exposure and the sky conditions read with it.
func (m *Metrics) ExposureTaken(_ context.Context, e scheduler.ExposureEvent) {
	metric := influxdb.ExposureMetric{
		Kind:         string(e.Kind),
		ImageTag:     e.ImageTag,
		Azimuth:      e.Azimuth,
		Zenith:       e.Zenith,
		Filter:       e.Filter,
		ExposureTime: e.ExposureTime,
		Time:         e.At,
	}
	if e.Intensity != nil {
		metric.Intensity = *e.Intensity
	}
	m.w.WriteExposure(metric)

	if len(e.Conditions) > 0 {
		fields := make(map[string]interface{}, len(e.Conditions))
		for k, v := range e.Conditions {
			fields[k] = v
		}
		m.w.WriteSkyConditions(fields, e.At)
	}
}

// PassCompleted writes the pass duty-cycle point.
func (m *Metrics) PassCompleted(_ context.Context, p scheduler.PassEvent) {
	m.w.WritePass(p.Pass, p.Exposed, p.Skipped, p.Finished)
}

// DetectorTemperature writes a temperature sample.
func (m *Metrics) DetectorTemperature(_ context.Context, celsius float64, cooler bool, at time.Time) {
	m.w.WriteDetectorTemperature(celsius, cooler, at)
}
