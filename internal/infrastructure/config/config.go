package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the nightscan controller.
// It is loaded once from YAML, overridden by environment variables and then
// treated as read-only. Fields that change during a night live in RunState,
// never here.
type Config struct {
	Site        SiteConfig        `yaml:"site"`
	Paths       PathsConfig       `yaml:"paths"`
	Database    DatabaseConfig    `yaml:"database"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	InfluxDB    InfluxDBConfig    `yaml:"influxdb"`
	Logging     LoggingConfig     `yaml:"logging"`
	Power       PowerConfig       `yaml:"power"`
	Discovery   DiscoveryConfig   `yaml:"discovery"`
	Schedule    ScheduleConfig    `yaml:"schedule"`
	Bridge      BridgeConfig      `yaml:"bridge"`
	Positioner  PositionerConfig  `yaml:"positioner"`
	FilterWheel FilterWheelConfig `yaml:"filterwheel"`
	SkySensor   SkySensorConfig   `yaml:"sky_sensor"`
	Detector    DetectorConfig    `yaml:"detector"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Feedback    FeedbackConfig    `yaml:"feedback"`

	// MoonThresholdAngle is the minimum separation (degrees) between a
	// pointing and the Moon for the pointing to be observed.
	MoonThresholdAngle float64 `yaml:"moon_threshold_angle"`

	// PlanFile optionally points at a separate YAML file holding the plan.
	// When set it replaces any inline plan.
	PlanFile string `yaml:"plan_file,omitempty"`

	// Plan is the ordered observation plan. Order is significant.
	Plan []ObservationConfig `yaml:"plan"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID             string         `yaml:"id"`
	InstrumentName string         `yaml:"instrument_name"`
	Timezone       string         `yaml:"timezone"`
	Location       LocationConfig `yaml:"location"`
}

// LocationConfig contains geographic coordinates for astronomical calculations.
type LocationConfig struct {
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
}

// PathsConfig contains filesystem roots.
type PathsConfig struct {
	// DataDir is the root under which one directory per night is created.
	DataDir string `yaml:"data_dir"`
}

// DatabaseConfig contains SQLite journal settings.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// Output is one of stdout, stderr or file.
	Output string `yaml:"output"`
	// Dir is where per-run log files are created when Output is "file".
	Dir string `yaml:"dir"`
}

// PowerConfig contains the power relay connection and port assignments.
type PowerConfig struct {
	// Protocol selects the relay driver: "http" (web power switch) or "modbus".
	Protocol string `yaml:"protocol"`

	// Address is the relay URL (http) or host:port (modbus).
	Address  string `yaml:"address"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`

	// Legacy selects the older query-string protocol of the web power switch.
	Legacy bool `yaml:"legacy"`

	// SlaveID is the Modbus unit identifier.
	SlaveID byte `yaml:"slave_id"`

	Timeout time.Duration `yaml:"timeout"`
	Ports   PortsConfig   `yaml:"ports"`
}

// PortsConfig assigns relay outlets to subsystems. Zero means unassigned.
type PortsConfig struct {
	Detector           int `yaml:"detector"`
	Positioner         int `yaml:"positioner"`
	Laser              int `yaml:"laser"`
	FilterWheel        int `yaml:"filterwheel"`
	FilterWheelControl int `yaml:"filterwheel_control"`
	SkySensor          int `yaml:"sky_sensor"`
}

// Tracked returns every assigned port, in shutdown order and without
// duplicates. All of them must be de-energized on every termination path.
func (p PortsConfig) Tracked() []int {
	var ports []int
	seen := make(map[int]bool)
	for _, port := range []int{p.Detector, p.Positioner, p.Laser, p.FilterWheel, p.FilterWheelControl, p.SkySensor} {
		if port > 0 && !seen[port] {
			seen[port] = true
			ports = append(ports, port)
		}
	}
	return ports
}

// DiscoveryConfig contains address resolution settings.
type DiscoveryConfig struct {
	// NeighborTable is the kernel ARP table to read.
	NeighborTable string `yaml:"neighbor_table"`

	// Delay is the fixed delay between lookups in a sweep.
	Delay time.Duration `yaml:"delay"`

	// MaxAttempts counts every lookup in a sweep, including the first.
	MaxAttempts int `yaml:"max_attempts"`

	// Timeout bounds a single lookup.
	Timeout time.Duration `yaml:"timeout"`

	// CycleOffSettle and CycleOnSettle are the power-cycle settle delays.
	CycleOffSettle time.Duration `yaml:"cycle_off_settle"`
	CycleOnSettle  time.Duration `yaml:"cycle_on_settle"`
}

// ScheduleConfig contains the night's boundary offsets and loop pacing.
type ScheduleConfig struct {
	// HousekeepingLead is how long before sunset housekeeping happens.
	HousekeepingLead time.Duration `yaml:"housekeeping_lead"`

	// PowerUpLead is how long before housekeeping the subsystems are powered.
	PowerUpLead time.Duration `yaml:"power_up_lead"`

	// StartOffset shifts the observing start relative to sunset.
	StartOffset time.Duration `yaml:"start_offset"`

	// InitialGrace is how late after the start the initial bias, dark and
	// calibration frames are still taken.
	InitialGrace time.Duration `yaml:"initial_grace"`

	// PollInterval bounds each suspension while waiting for a boundary.
	PollInterval time.Duration `yaml:"poll_interval"`

	// IdlePassDelay is slept after a pass where every entry was skipped.
	IdlePassDelay time.Duration `yaml:"idle_pass_delay"`
}

// BridgeConfig contains the MQTT instrument bridge settings.
type BridgeConfig struct {
	// RequestTimeout bounds a non-exposure bridge command.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// ExposureMargin is added to the exposure time when waiting for a frame.
	ExposureMargin time.Duration `yaml:"exposure_margin"`

	// Managed starts the bridge daemon as a supervised subprocess.
	Managed            bool          `yaml:"managed"`
	Binary             string        `yaml:"binary"`
	Args               []string      `yaml:"args"`
	RestartDelay       time.Duration `yaml:"restart_delay"`
	MaxRestartAttempts int           `yaml:"max_restart_attempts"`
}

// PositionerConfig contains sky scanner settings.
type PositionerConfig struct {
	// LaserAzimuth and LaserZenith are the calibration pointing.
	LaserAzimuth float64 `yaml:"laser_azimuth"`
	LaserZenith  float64 `yaml:"laser_zenith"`
}

// FilterWheelConfig contains filter selector settings.
type FilterWheelConfig struct {
	// PortLocation is the serial device. Empty means no filter wheel in use.
	PortLocation string `yaml:"port_location"`
	BaudRate     int    `yaml:"baud_rate"`

	// MACAddress identifies the network controller for discovery.
	MACAddress string `yaml:"mac_address"`
	HTTPPort   int    `yaml:"http_port"`

	// LaserPosition is the filter used for calibration frames; nil leaves
	// the wheel where it is.
	LaserPosition *int `yaml:"laser_position"`
	ParkPosition  int  `yaml:"park_position"`

	Timeout time.Duration `yaml:"timeout"`
}

// InUse reports whether a filter wheel is installed.
func (f FilterWheelConfig) InUse() bool {
	return f.PortLocation != ""
}

// SkySensorConfig contains cloud sensor settings.
type SkySensorConfig struct {
	MACAddress string        `yaml:"mac_address"`
	HTTPPort   int           `yaml:"http_port"`
	Timeout    time.Duration `yaml:"timeout"`

	// BootSettle is waited after the sensor is power-cycled at power-up.
	BootSettle time.Duration `yaml:"boot_settle"`
}

// DetectorConfig contains camera readout and thermal settings.
type DetectorConfig struct {
	HBin int `yaml:"hbin"`
	VBin int `yaml:"vbin"`

	// TemperatureSetpoint is the cooled operating temperature (C).
	TemperatureSetpoint float64 `yaml:"temperature_setpoint"`

	// WarmFloor is the temperature (C) the detector must exceed before shutdown.
	WarmFloor        float64       `yaml:"warm_floor"`
	WarmPollInterval time.Duration `yaml:"warm_poll_interval"`

	// Exposure times in seconds.
	BiasExposure  float64 `yaml:"bias_exposure"`
	DarkExposure  float64 `yaml:"dark_exposure"`
	LaserExposure float64 `yaml:"laser_exposure"`
	MaxExposure   float64 `yaml:"max_exposure"`
}

// CalibrationConfig contains laser calibration settings.
type CalibrationConfig struct {
	// Interval between calibration frames. Zero disables in-loop calibration.
	Interval time.Duration `yaml:"interval"`
}

// FeedbackConfig describes the crop and smoothing of the feedback metric.
type FeedbackConfig struct {
	Row0   int `yaml:"i1"`
	Row1   int `yaml:"i2"`
	Col0   int `yaml:"j1"`
	Col1   int `yaml:"j2"`
	Kernel int `yaml:"kernel"`
}

// ObservationConfig is one plan entry as written in YAML.
type ObservationConfig struct {
	Azimuth             float64 `yaml:"azimuth"`
	Zenith              float64 `yaml:"zenith"`
	FilterPosition      int     `yaml:"filter_position"`
	ImageTag            string  `yaml:"image_tag"`
	DesiredIntensity    float64 `yaml:"desired_intensity"`
	DefaultExposureTime float64 `yaml:"default_exposure_time"`
}

// planFile is the document shape of an external plan file.
type planFile struct {
	Plan []ObservationConfig `yaml:"plan"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Plan file, when plan_file is set
//  4. Environment variables (override file values)
//
// Environment variables follow the pattern: NIGHTSCAN_SECTION_KEY
// For example: NIGHTSCAN_POWER_PASSWORD, NIGHTSCAN_DATA_DIR
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if cfg.PlanFile != "" {
		plan, err := loadPlan(cfg.PlanFile)
		if err != nil {
			return nil, err
		}
		cfg.Plan = plan
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func loadPlan(path string) ([]ObservationConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plan file: %w", err)
	}
	var pf planFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parsing plan file: %w", err)
	}
	return pf.Plan, nil
}

// defaultConfig returns a Config with the reference policy defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:       "site-001",
			Timezone: "UTC",
		},
		Paths: PathsConfig{
			DataDir: "./data/images",
		},
		Database: DatabaseConfig{
			Enabled:     true,
			Path:        "./data/nightscan.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "nightscan",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
			Dir:    "./data/logs",
		},
		Power: PowerConfig{
			Protocol: "http",
			SlaveID:  1,
			Timeout:  10 * time.Second,
		},
		Discovery: DiscoveryConfig{
			NeighborTable:  "/proc/net/arp",
			Delay:          15 * time.Second,
			MaxAttempts:    5,
			Timeout:        5 * time.Second,
			CycleOffSettle: 5 * time.Second,
			CycleOnSettle:  60 * time.Second,
		},
		Schedule: ScheduleConfig{
			HousekeepingLead: 30 * time.Minute,
			PowerUpLead:      30 * time.Minute,
			InitialGrace:     10 * time.Minute,
			PollInterval:     30 * time.Second,
			IdlePassDelay:    60 * time.Second,
		},
		Bridge: BridgeConfig{
			RequestTimeout:     2 * time.Minute,
			ExposureMargin:     60 * time.Second,
			RestartDelay:       5 * time.Second,
			MaxRestartAttempts: 10,
		},
		FilterWheel: FilterWheelConfig{
			BaudRate: 9600,
			HTTPPort: 8080,
			Timeout:  30 * time.Second,
		},
		SkySensor: SkySensorConfig{
			HTTPPort:   81,
			Timeout:    10 * time.Second,
			BootSettle: 45 * time.Second,
		},
		Detector: DetectorConfig{
			HBin:                1,
			VBin:                1,
			TemperatureSetpoint: -60,
			WarmFloor:           -20,
			WarmPollInterval:    10 * time.Second,
			BiasExposure:        0.1,
			DarkExposure:        60,
			LaserExposure:       30,
			MaxExposure:         300,
		},
		Calibration: CalibrationConfig{
			Interval: 2 * time.Hour,
		},
		Feedback: FeedbackConfig{
			Kernel: 5,
		},
		MoonThresholdAngle: 37,
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: NIGHTSCAN_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Paths
	if v := os.Getenv("NIGHTSCAN_DATA_DIR"); v != "" {
		cfg.Paths.DataDir = v
	}

	// Database
	if v := os.Getenv("NIGHTSCAN_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Power relay credentials
	if v := os.Getenv("NIGHTSCAN_POWER_USER"); v != "" {
		cfg.Power.User = v
	}
	if v := os.Getenv("NIGHTSCAN_POWER_PASSWORD"); v != "" {
		cfg.Power.Password = v
	}

	// MQTT
	if v := os.Getenv("NIGHTSCAN_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("NIGHTSCAN_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("NIGHTSCAN_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("NIGHTSCAN_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}
	if c.Site.Location.Latitude < -90 || c.Site.Location.Latitude > 90 {
		errs = append(errs, "site.location.latitude must be between -90 and 90")
	}
	if c.Site.Location.Longitude < -180 || c.Site.Location.Longitude > 180 {
		errs = append(errs, "site.location.longitude must be between -180 and 180")
	}
	if _, err := time.LoadLocation(c.Site.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("site.timezone %q is not a known zone", c.Site.Timezone))
	}
	if c.Paths.DataDir == "" {
		errs = append(errs, "paths.data_dir is required")
	}
	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when the journal is enabled")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	switch strings.ToLower(c.Power.Protocol) {
	case "http", "modbus":
	default:
		errs = append(errs, "power.protocol must be http or modbus")
	}
	if c.Power.Address == "" {
		errs = append(errs, "power.address is required")
	}

	if c.Discovery.MaxAttempts < 1 {
		errs = append(errs, "discovery.max_attempts must be at least 1")
	}
	if c.Discovery.Delay < 0 {
		errs = append(errs, "discovery.delay must not be negative")
	}

	if c.Detector.MaxExposure <= 0 {
		errs = append(errs, "detector.max_exposure must be positive")
	}
	if c.Detector.WarmPollInterval <= 0 {
		errs = append(errs, "detector.warm_poll_interval must be positive")
	}
	if c.Schedule.PollInterval <= 0 {
		errs = append(errs, "schedule.poll_interval must be positive")
	}

	f := c.Feedback
	if f.Kernel < 1 {
		errs = append(errs, "feedback.kernel must be at least 1")
	}
	if f.Row1 <= f.Row0 || f.Col1 <= f.Col0 || f.Row0 < 0 || f.Col0 < 0 {
		errs = append(errs, "feedback crop must satisfy 0 <= i1 < i2 and 0 <= j1 < j2")
	} else if f.Row1-f.Row0 < f.Kernel || f.Col1-f.Col0 < f.Kernel {
		errs = append(errs, "feedback crop must be at least kernel sized")
	}

	if len(c.Plan) == 0 {
		errs = append(errs, "plan must contain at least one observation")
	}
	for i, o := range c.Plan {
		if o.DefaultExposureTime <= 0 {
			errs = append(errs, fmt.Sprintf("plan[%d].default_exposure_time must be positive", i))
		} else if o.DefaultExposureTime > c.Detector.MaxExposure {
			errs = append(errs, fmt.Sprintf("plan[%d].default_exposure_time exceeds detector.max_exposure", i))
		}
		if o.DesiredIntensity < 0 {
			errs = append(errs, fmt.Sprintf("plan[%d].desired_intensity must not be negative", i))
		}
		if o.ImageTag == "" {
			errs = append(errs, fmt.Sprintf("plan[%d].image_tag is required", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// Location returns the site's time zone. Validate guarantees it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Site.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
