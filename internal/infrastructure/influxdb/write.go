package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by nightscan.
const (
	measurementExposure  = "exposure"
	measurementDetector  = "detector"
	measurementPass      = "duty_cycle"
	measurementSkySensor = "sky_conditions"
)

// ExposureMetric describes one completed exposure.
type ExposureMetric struct {
	Kind         string // bias, dark, laser, sky
	ImageTag     string
	Azimuth      float64
	Zenith       float64
	Filter       int
	ExposureTime float64
	// Intensity is the feedback metric; zero for non-science frames.
	Intensity float64
	Time      time.Time
}

// WriteExposure records an exposure.
func (c *Client) WriteExposure(m ExposureMetric) {
	c.writePoint(exposurePoint(c.siteTag(), m))
}

// WriteDetectorTemperature records a detector temperature sample.
//
// Parameters:
//   - celsius: Sensor temperature
//   - cooler: Whether the cooler is commanded on
func (c *Client) WriteDetectorTemperature(celsius float64, cooler bool, at time.Time) {
	c.writePoint(detectorPoint(c.siteTag(), celsius, cooler, at))
}

// WritePass records the outcome of one duty cycle through the plan.
func (c *Client) WritePass(pass, exposed, skipped int, at time.Time) {
	c.writePoint(passPoint(c.siteTag(), pass, exposed, skipped, at))
}

// WriteSkyConditions records the sky sensor readings attached to a frame.
func (c *Client) WriteSkyConditions(fields map[string]interface{}, at time.Time) {
	if len(fields) == 0 {
		return
	}
	c.writePoint(write.NewPoint(measurementSkySensor, map[string]string{"site": c.siteTag()}, fields, at))
}

func (c *Client) siteTag() string {
	if c == nil {
		return ""
	}
	return c.site
}

func exposurePoint(site string, m ExposureMetric) *write.Point {
	tags := map[string]string{
		"site":   site,
		"kind":   m.Kind,
		"filter": strconv.Itoa(m.Filter),
	}
	if m.ImageTag != "" {
		tags["image_tag"] = m.ImageTag
	}
	fields := map[string]interface{}{
		"exposure_time": m.ExposureTime,
		"azimuth":       m.Azimuth,
		"zenith":        m.Zenith,
	}
	if m.Kind == "sky" {
		fields["intensity"] = m.Intensity
	}
	return write.NewPoint(measurementExposure, tags, fields, m.Time)
}

func detectorPoint(site string, celsius float64, cooler bool, at time.Time) *write.Point {
	return write.NewPoint(
		measurementDetector,
		map[string]string{"site": site},
		map[string]interface{}{
			"temperature_c": celsius,
			"cooler_on":     cooler,
		},
		at,
	)
}

func passPoint(site string, pass, exposed, skipped int, at time.Time) *write.Point {
	return write.NewPoint(
		measurementPass,
		map[string]string{"site": site},
		map[string]interface{}{
			"pass":    pass,
			"exposed": exposed,
			"skipped": skipped,
		},
		at,
	)
}
