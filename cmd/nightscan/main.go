// nightscan runs one unattended dusk-to-dawn observation night.
//
// It waits for the evening, powers and discovers the instrument, cools the
// detector, observes the configured plan until sunrise with interleaved
// laser calibration, then parks and powers everything down. An interrupt
// or fault at any point ends in the same safe, powered-down state.
//
// With --simulate the night runs against a simulated instrument on a
// simulated clock and finishes in seconds; frames and the journal are
// written as usual.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/nerrad567/nightscan/internal/clock"
	"github.com/nerrad567/nightscan/internal/controller"
	"github.com/nerrad567/nightscan/internal/discovery"
	"github.com/nerrad567/nightscan/internal/infrastructure/config"
	"github.com/nerrad567/nightscan/internal/infrastructure/database"
	"github.com/nerrad567/nightscan/internal/infrastructure/influxdb"
	"github.com/nerrad567/nightscan/internal/infrastructure/logging"
	"github.com/nerrad567/nightscan/internal/infrastructure/mqtt"
	"github.com/nerrad567/nightscan/internal/instrument"
	"github.com/nerrad567/nightscan/internal/instrument/bridge"
	"github.com/nerrad567/nightscan/internal/instrument/sim"
	"github.com/nerrad567/nightscan/internal/journal"
	"github.com/nerrad567/nightscan/internal/lifecycle"
	"github.com/nerrad567/nightscan/internal/power"
	"github.com/nerrad567/nightscan/internal/process"
	"github.com/nerrad567/nightscan/internal/runstate"
	"github.com/nerrad567/nightscan/internal/scheduler"
	"github.com/nerrad567/nightscan/internal/telemetry"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

const (
	defaultConfigPath  = "configs/nightscan.yaml"
	healthCheckTimeout = 10 * time.Second
)

// errMQTTRequired is returned when the real instrument is used without a
// broker: the bridge is only reachable over MQTT.
var errMQTTRequired = errors.New("mqtt must be enabled to reach the instrument bridge")

type options struct {
	configPath string
	simulate   bool
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		os.Exit(2)
	}

	// Interrupts cancel ctx; the lifecycle manager turns that into a
	// graceful shutdown.
	ctx, cancel := lifecycle.NotifyContext(context.Background())
	defer cancel()

	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parseFlags reads the command line. The config path defaults to
// NIGHTSCAN_CONFIG, then defaultConfigPath.
func parseFlags(args []string, output io.Writer) (options, error) {
	fs := flag.NewFlagSet("nightscan", flag.ContinueOnError)
	fs.SetOutput(output)

	opts := options{configPath: defaultConfigPath}
	if path := os.Getenv("NIGHTSCAN_CONFIG"); path != "" {
		opts.configPath = path
	}
	fs.StringVar(&opts.configPath, "config", opts.configPath, "path to the YAML configuration")
	fs.BoolVar(&opts.simulate, "simulate", false, "run against a simulated instrument and clock")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	return opts, nil
}

// run wires the infrastructure and runs one night. Every way the night
// can end returns nil once the instrument is safe; errors are reserved for
// failures before the night starts.
//
// Parameters:
//   - ctx: Cancelled on interrupt
//   - opts: Command-line options
//
// Returns:
//   - error: nil after the night, or why it could not start
func run(ctx context.Context, opts options) error {
	log := logging.Default()
	log.Info("starting nightscan",
		"version", version,
		"commit", commit,
		"build_date", date,
		"simulate", opts.simulate,
	)

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, cfg.Site.ID, version)
	defer log.Close() //nolint:errcheck // Log file close at exit
	log.Info("configuration loaded", "path", opts.configPath, "plan_entries", len(cfg.Plan))

	var checks []healthCheck
	var jrnl *journal.Journal
	if cfg.Database.Enabled {
		db, err := database.Open(cfg.Database)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer func() {
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		if err := db.Migrate(ctx); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		checks = append(checks, healthCheck{"database", db})
		jrnl = journal.New(db.DB)
		jrnl.SetLogger(log)
		log.Info("journal ready", "path", cfg.Database.Path)
	}

	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		checks = append(checks, healthCheck{"mqtt", mqttClient})
		mqttClient.SetLogger(log)
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected", "broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port))
	} else if !opts.simulate {
		return errMQTTRequired
	}

	var status *telemetry.Status
	if mqttClient != nil {
		status = telemetry.NewStatus(mqttClient, cfg.Site.ID)
	} else {
		status = telemetry.NewStatus(nil, cfg.Site.ID)
	}
	status.SetLogger(log)

	var observers []scheduler.Observer
	if cfg.InfluxDB.Enabled {
		influxClient, err := influxdb.Connect(ctx, cfg.InfluxDB, cfg.Site.ID)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		checks = append(checks, healthCheck{"influxdb", influxClient})
		observers = append(observers, telemetry.NewMetrics(influxClient))
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	var inst instrumentSetup
	if opts.simulate {
		inst = simulated(cfg)
	} else {
		inst, err = hardware(ctx, cfg, mqttClient, log)
		if err != nil {
			return err
		}
	}
	defer inst.close()

	seq, err := inst.newPower()
	if err != nil {
		return fmt.Errorf("connecting to power relay: %w", err)
	}
	defer seq.Close() //nolint:errcheck // Teardown uses its own connection
	seq.SetLogger(log)

	if err := checkHealth(ctx, checks); err != nil {
		log.Warn("pre-flight health check failed, continuing", "error", err)
	}

	mgr := lifecycle.New(lifecycle.Options{
		FilterWheel: cfg.FilterWheel,
		NewPower:    inst.newPower,
		Clock:       inst.clock,
		Alerter:     status,
	})
	mgr.SetLogger(log)

	ctrl := controller.New(controller.Options{
		Config:    cfg,
		Clock:     inst.clock,
		Power:     seq,
		Lookup:    inst.lookup,
		Devices:   inst.devices,
		Lifecycle: mgr,
		Journal:   jrnl,
		Status:    status,
		Observers: observers,
	})
	ctrl.SetLogger(log)

	outcome := mgr.Run(ctx, ctrl.Run)
	if jrnl != nil {
		if err := jrnl.FinishRun(context.WithoutCancel(ctx), outcome.String(), inst.clock.Now()); err != nil {
			log.Warn("journal run not closed", "error", err)
		}
	}
	log.Info("nightscan finished", "outcome", outcome.String())
	return nil
}

// healthCheck names one infrastructure connection to verify before the
// night starts.
type healthCheck struct {
	name    string
	checker interface{ HealthCheck(context.Context) error }
}

// checkHealth runs every check under one timeout. Infrastructure is
// advisory during a night, so callers log the result rather than abort.
func checkHealth(ctx context.Context, checks []healthCheck) error {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	var errs []error
	for _, c := range checks {
		if err := c.checker.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
		}
	}
	return errors.Join(errs...)
}

// instrumentSetup is what differs between the real and the simulated
// instrument.
type instrumentSetup struct {
	clock    clock.Clock
	lookup   discovery.Lookup
	devices  controller.DeviceFactory
	newPower lifecycle.PowerFactory
	close    func()
}

func hardware(ctx context.Context, cfg *config.Config, mqttClient *mqtt.Client, log *logging.Logger) (instrumentSetup, error) {
	closers := []func(){}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.Bridge.Managed {
		sup := process.NewSupervisor(process.FromBridgeConfig(cfg.Bridge))
		sup.SetLogger(log)
		if err := sup.Start(ctx); err != nil {
			return instrumentSetup{}, fmt.Errorf("starting instrument bridge: %w", err)
		}
		closers = append(closers, func() {
			if err := sup.Stop(); err != nil {
				log.Error("error stopping instrument bridge", "error", err)
			}
		})
	}

	client := bridge.New(mqttClient, cfg.Bridge)
	client.SetLogger(log)
	if err := client.Start(); err != nil {
		closeAll()
		return instrumentSetup{}, fmt.Errorf("subscribing to instrument bridge: %w", err)
	}
	closers = append(closers, func() {
		if err := client.Stop(); err != nil {
			log.Warn("error stopping bridge client", "error", err)
		}
	})

	clk := clock.Real{}
	return instrumentSetup{
		clock:   clk,
		lookup:  discovery.ARPTable{Path: cfg.Discovery.NeighborTable},
		devices: controller.Hardware{Config: cfg, Bridge: client, Clock: clk},
		newPower: func() (*power.Sequencer, error) {
			return power.New(cfg.Power)
		},
		close: closeAll,
	}, nil
}

// simulated builds a simulated instrument on a simulated clock starting
// now. Discovery finds every subsystem at once.
func simulated(cfg *config.Config) instrumentSetup {
	clk := clock.NewFake(time.Now())
	in := sim.New(clk, controller.Site(cfg))
	in.FrameSize = max(sim.DefaultFrameSize, cfg.Feedback.Row1, cfg.Feedback.Col1)

	neighbors := sim.NewNeighbors()
	neighbors.Add(cfg.SkySensor.MACAddress, "192.0.2.10", 0)
	neighbors.Add(cfg.FilterWheel.MACAddress, "192.0.2.11", 0)

	tracked := cfg.Power.Ports.Tracked()
	return instrumentSetup{
		clock:  clk,
		lookup: neighbors,
		devices: controller.DeviceFactoryFunc(func(context.Context, *runstate.RunState) (instrument.Devices, error) {
			return in.Devices(cfg.FilterWheel.InUse()), nil
		}),
		newPower: func() (*power.Sequencer, error) {
			return power.NewWithDriver(in.Relay(), tracked), nil
		},
		close: func() {},
	}
}
