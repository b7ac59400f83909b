// meterlog - Energy Meter Acquisition Service
//
// This is the main entry point for meterlog. It polls networked energy meters
// over their "read all" text protocol, stores every reading in per-device,
// per-month SQLite shards, and serves raw readings and timezone-aware
// consumption rollups over HTTP. Readings can optionally be fanned out to an
// MQTT broker and InfluxDB.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/nerrad567/meterlog/internal/api"
	"github.com/nerrad567/meterlog/internal/infrastructure/config"
	"github.com/nerrad567/meterlog/internal/infrastructure/influxdb"
	"github.com/nerrad567/meterlog/internal/infrastructure/logging"
	"github.com/nerrad567/meterlog/internal/infrastructure/mqtt"
	"github.com/nerrad567/meterlog/internal/meter"
	"github.com/nerrad567/meterlog/internal/poller"
	"github.com/nerrad567/meterlog/internal/shard"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/meterlog.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting meterlog",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	defer func() {
		if closeErr := log.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing log file: %v\n", closeErr)
		}
	}()
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
		"output", cfg.Logging.Output,
	)

	// Open the shard store
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	store.SetLogger(log)
	log.Info("shard store ready",
		"workdir", cfg.Storage.WorkDir,
		"shard_timezone", store.Location().String(),
	)

	metrics := poller.NewMetrics()

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Build the poller (optional)
	var p *poller.Poller
	switch {
	case !cfg.Polling.Enabled:
		log.Info("polling disabled")
	case len(cfg.Meters) == 0:
		log.Warn("no meters configured, polling disabled")
	default:
		p, err = newPoller(cfg, store, metrics, mqttClient, influxClient, log)
		if err != nil {
			return fmt.Errorf("creating poller: %w", err)
		}
		log.Info("poller ready",
			"meters", len(cfg.Meters),
			"interval", cfg.GetPollInterval(),
			"concurrency", cfg.Polling.Concurrency,
		)

		if mqttClient != nil {
			if subErr := mqttClient.SubscribePollCommands(pollCommandHandler(ctx, p, log)); subErr != nil {
				log.Warn("subscribing to poll commands failed", "error", subErr)
			}
		}
	}

	if err := healthCheck(ctx, store, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	// Start the HTTP API (optional)
	if cfg.API.Enabled {
		server, apiErr := api.New(api.Deps{
			Config:  cfg.API,
			Site:    cfg.Site,
			Meters:  cfg.Meters,
			Logger:  log,
			Store:   store,
			Poller:  p,
			Metrics: metrics,
			Version: version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API disabled")
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	if p != nil {
		if runErr := p.Run(ctx); runErr != nil {
			return fmt.Errorf("running poller: %w", runErr)
		}
	} else {
		<-ctx.Done()
	}

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls will run in reverse order:
	// 1. API server (if enabled)
	// 2. InfluxDB (if enabled)
	// 3. MQTT (if enabled)
	// 4. Log file

	log.Info("meterlog stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses METERLOG_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("METERLOG_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// openStore creates the shard store from the storage settings.
func openStore(cfg *config.Config) (*shard.Store, error) {
	loc, err := time.LoadLocation(cfg.Storage.ShardTimezone)
	if err != nil {
		return nil, fmt.Errorf("loading shard timezone: %w", err)
	}
	store, err := shard.New(shard.Config{
		WorkDir:     cfg.Storage.WorkDir,
		BusyTimeout: cfg.GetBusyTimeout(),
		Location:    loc,
	})
	if err != nil {
		return nil, fmt.Errorf("opening shard store: %w", err)
	}
	return store, nil
}

// newPoller wires the meter client, the shard store and the optional
// fan-out sinks into a poller.
func newPoller(cfg *config.Config, store *shard.Store, metrics *poller.Metrics, mqttClient *mqtt.Client, influxClient *influxdb.Client, log *logging.Logger) (*poller.Poller, error) {
	client := meter.NewClient(meter.Config{
		Timeout:     cfg.GetPollTimeout(),
		LastChannel: cfg.Polling.LastChannel,
	})
	client.SetLogger(log)

	var (
		publishers []poller.Publisher
		reporters  []poller.Reporter
	)
	if mqttClient != nil {
		publishers = append(publishers, mqttClient)
		reporters = append(reporters, &mqttReporter{client: mqttClient})
	}
	if influxClient != nil {
		publishers = append(publishers, influxClient)
	}

	return poller.New(poller.Options{
		Config: poller.Config{
			Interval:    cfg.GetPollInterval(),
			Concurrency: cfg.Polling.Concurrency,
			RunOnStart:  cfg.Polling.RunOnStart,
		},
		Devices:    devicesFromConfig(cfg.Meters),
		Reader:     client,
		Writer:     store,
		Publishers: publishers,
		Reporters:  reporters,
		Metrics:    metrics,
		Logger:     log.With("component", "poller"),
	})
}

// devicesFromConfig converts configured meters into poller devices.
func devicesFromConfig(meters []config.MeterConfig) []poller.Device {
	devices := make([]poller.Device, 0, len(meters))
	for _, m := range meters {
		devices = append(devices, poller.Device{
			ID:       m.ID,
			Target:   meter.Target{Address: m.Address, Port: m.Port},
			Channels: m.Channels,
		})
	}
	return devices
}

// pollCommandHandler runs an on-demand poll for every device named on the
// MQTT command topic. Polls run off the MQTT callback goroutine so a slow
// meter never stalls message delivery.
func pollCommandHandler(ctx context.Context, p *poller.Poller, log *logging.Logger) func(device string) error {
	return func(device string) error {
		if _, ok := p.Device(device); !ok {
			log.Warn("poll command for unknown meter", "meter", device)
			return nil
		}
		go func() {
			if _, err := p.PollDevice(ctx, device); err != nil {
				log.Debug("poll command finished with error", "meter", device, "error", err)
			}
		}()
		return nil
	}
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - store: Shard store whose work directory must be readable
//   - mqttClient: MQTT client to check (may be nil if disabled)
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, store *shard.Store, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if _, err := store.Devices(); err != nil {
		return fmt.Errorf("shard store: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}

// mqttReporter adapts the infrastructure MQTT client to the poller's
// Reporter interface, publishing each cycle's outcome on meterlog/poll/{device}.
type mqttReporter struct {
	client *mqtt.Client
}

// ReportPoll implements poller.Reporter.
func (r *mqttReporter) ReportPoll(_ context.Context, res poller.Result) error {
	return r.client.PublishPollOutcome(pollOutcome(res))
}

// pollOutcome converts a poll result into its MQTT payload.
func pollOutcome(res poller.Result) mqtt.PollOutcome {
	out := mqtt.PollOutcome{
		DeviceID:   res.Device,
		Result:     string(res.Outcome),
		Stored:     len(res.Stored),
		Failed:     len(res.Failed),
		DurationMS: float64(res.Duration.Microseconds()) / 1000,
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	if !res.Started.IsZero() {
		out.Timestamp = res.Started.UTC().Format(time.RFC3339)
	}
	return out
}
