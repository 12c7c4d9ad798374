package influxdb

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/nightscan/internal/infrastructure/config"
)

// testConfig returns a configuration for a local dev InfluxDB.
func testConfig() config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           "http://127.0.0.1:8086",
		Token:         "nightscan-dev-token",
		Org:           "nightscan",
		Bucket:        "instrument",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

// skipIfNoInfluxDB skips the test unless RUN_INTEGRATION is set and InfluxDB answers.
func skipIfNoInfluxDB(t *testing.T) {
	t.Helper()
	if os.Getenv("RUN_INTEGRATION") == "" {
		t.Skip("RUN_INTEGRATION not set, skipping integration test")
	}
}

func lineProtocol(p *write.Point) string {
	return write.PointToLineProtocol(p, time.Nanosecond)
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	_, err := Connect(context.Background(), cfg, "uao")
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Integration(t *testing.T) {
	skipIfNoInfluxDB(t)

	client, err := Connect(context.Background(), testConfig(), "uao")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
	client.WriteExposure(ExposureMetric{Kind: "sky", ImageTag: "XR", ExposureTime: 5, Time: time.Now()})
	client.Flush()
}

func TestNilClient_DropsWrites(t *testing.T) {
	var c *Client

	// None of these may panic.
	c.WriteExposure(ExposureMetric{Kind: "sky"})
	c.WriteDetectorTemperature(-20, false, time.Now())
	c.WritePass(1, 3, 1, time.Now())
	c.WriteSkyConditions(map[string]interface{}{"cloud": 1.0}, time.Now())
	c.SetOnError(func(error) {})
	c.Flush()

	if c.IsConnected() {
		t.Error("nil client reports connected")
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v", err)
	}
}

func TestExposurePoint(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	line := lineProtocol(exposurePoint("uao", ExposureMetric{
		Kind:         "sky",
		ImageTag:     "XR",
		Azimuth:      180,
		Zenith:       45,
		Filter:       2,
		ExposureTime: 5,
		Intensity:    812.5,
		Time:         at,
	}))

	for _, want := range []string{"exposure,", "site=uao", "kind=sky", "filter=2", "image_tag=XR", "intensity=812.5", "exposure_time=5"} {
		if !strings.Contains(line, want) {
			t.Errorf("line protocol %q missing %q", line, want)
		}
	}
}

func TestExposurePoint_CalibrationHasNoIntensity(t *testing.T) {
	line := lineProtocol(exposurePoint("uao", ExposureMetric{Kind: "laser", ExposureTime: 30, Time: time.Now()}))
	if strings.Contains(line, "intensity=") {
		t.Errorf("laser exposure should not carry intensity: %q", line)
	}
	if strings.Contains(line, "image_tag=") {
		t.Errorf("laser exposure should not carry image tag: %q", line)
	}
}

func TestDetectorAndPassPoints(t *testing.T) {
	at := time.Now()
	det := lineProtocol(detectorPoint("uao", -42.5, true, at))
	if !strings.Contains(det, "temperature_c=-42.5") || !strings.Contains(det, "cooler_on=true") {
		t.Errorf("detector point = %q", det)
	}

	pass := lineProtocol(passPoint("uao", 3, 5, 2, at))
	if !strings.Contains(pass, "duty_cycle,") || !strings.Contains(pass, "skipped=2i") {
		t.Errorf("pass point = %q", pass)
	}
}

func TestClientOptions(t *testing.T) {
	tests := []struct {
		name      string
		batch     int
		flush     int
		wantBatch uint
		wantFlush uint
	}{
		{name: "configured", batch: 50, flush: 2, wantBatch: 50, wantFlush: 2000},
		{name: "defaults", wantBatch: 100, wantFlush: 10000},
		{name: "negative falls back", batch: -1, flush: -1, wantBatch: 100, wantFlush: 10000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.BatchSize = tt.batch
			cfg.FlushInterval = tt.flush

			opts := clientOptions(cfg)
			if got := opts.BatchSize(); got != tt.wantBatch {
				t.Errorf("BatchSize() = %d, want %d", got, tt.wantBatch)
			}
			if got := opts.FlushInterval(); got != tt.wantFlush {
				t.Errorf("FlushInterval() = %d, want %d", got, tt.wantFlush)
			}
		})
	}
}
