// Sesami Core - Door State Coordinator
//
// sesamid owns the electric door opener. It debounces the wall push
// button, drives the actuator relay over GPIO, and opens the door only
// after the Nuki lock has confirmed an unlatch on the MQTT bus. The
// Bluetooth side lives in nukibridged; the two daemons share nothing
// but broker topics, so either can restart without taking down the
// other.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/sesami-core/migrations"

	"github.com/nerrad567/sesami-core/internal/api"
	"github.com/nerrad567/sesami-core/internal/door"
	"github.com/nerrad567/sesami-core/internal/gpio"
	"github.com/nerrad567/sesami-core/internal/history"
	"github.com/nerrad567/sesami-core/internal/infrastructure/config"
	"github.com/nerrad567/sesami-core/internal/infrastructure/database"
	"github.com/nerrad567/sesami-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/sesami-core/internal/infrastructure/logging"
	"github.com/nerrad567/sesami-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/sesami-core/internal/protocol"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// pruneInterval is how often the event log retention window is applied.
const pruneInterval = 24 * time.Hour

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual daemon logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default("sesamid")
	log.Info("starting sesamid",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.ValidateDoor(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, "sesamid", version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	topics := protocol.Topics{Device: cfg.Device}

	// Open the event log (optional; an empty path disables it)
	var db *database.DB
	var repo *history.SQLiteRepository
	var recorder *history.Recorder
	if cfg.Database.Path != "" {
		db, err = database.Open(cfg.Database)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()

		if migrateErr := db.Migrate(ctx); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		schema, schemaErr := db.SchemaVersion(ctx)
		if schemaErr != nil {
			return fmt.Errorf("reading schema version: %w", schemaErr)
		}
		log.Info("event log ready", "path", cfg.Database.Path, "schema", schema)

		repo = history.NewSQLiteRepository(db.DB)
		recorder = history.NewRecorder(repo, 0, log)
		defer func() {
			if closeErr := recorder.Close(); closeErr != nil {
				log.Error("error closing event recorder", "error", closeErr)
			}
		}()

		if cfg.Retention() > 0 {
			go pruneLoop(ctx, repo, cfg.Retention(), log)
		}
	} else {
		log.Info("event log disabled")
	}

	// Connect to MQTT broker. The LWT marks the door health topic
	// offline if this process dies without saying goodbye.
	clientID := "sesami-door-" + cfg.Device
	mqttClient, err := mqtt.Connect(cfg.MQTT, mqtt.ConnectOptions{
		ClientID:    clientID,
		Component:   "sesamid",
		Version:     version,
		StatusTopic: topics.DoorHealth(),
	})
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
	log.Info("MQTT connected",
		"broker", cfg.BrokerURL(),
		"client_id", clientID,
	)

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
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
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Request the GPIO lines. A miswired pin fails here, before the
	// coordinator ever subscribes to the bus.
	hardware, err := gpio.Open(cfg.GPIO)
	if err != nil {
		return fmt.Errorf("opening gpio: %w", err)
	}
	defer func() {
		log.Info("releasing gpio lines")
		if closeErr := hardware.Close(); closeErr != nil {
			log.Error("error releasing gpio", "error", closeErr)
		}
	}()
	log.Info("gpio ready",
		"chip", cfg.GPIO.Chip,
		"button_pin", cfg.GPIO.ButtonPin,
		"actuator_pin", cfg.GPIO.ActuatorPin,
	)

	// Start the coordinator
	coordinator, err := startCoordinator(ctx, cfg, mqttClient, hardware, recorder, influxClient, log)
	if err != nil {
		return fmt.Errorf("starting coordinator: %w", err)
	}
	defer func() {
		log.Info("stopping coordinator")
		coordinator.Stop()
	}()

	// Forward debounced button edges into the coordinator loop
	go forwardButtonEvents(ctx, hardware.Button, coordinator)

	// Start the status API (optional)
	if cfg.API.Enabled {
		apiServer, apiErr := startAPI(ctx, cfg, coordinator, repo, mqttClient, log)
		if apiErr != nil {
			return fmt.Errorf("starting api: %w", apiErr)
		}
		defer func() {
			log.Info("stopping api server")
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error stopping api server", "error", closeErr)
			}
		}()
	} else {
		log.Info("api disabled")
	}

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred cleanup runs in reverse order:
	// API server, coordinator, GPIO (actuator parked inactive),
	// InfluxDB, MQTT, event recorder, database.

	log.Info("sesamid stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses SESAMI_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("SESAMI_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check (may be nil if disabled)
//   - mqttClient: MQTT client to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}

// startCoordinator wires the door state machine to its dependencies and
// starts it.
//
// Parameters:
//   - ctx: Context governing health reporting
//   - cfg: Daemon configuration
//   - mqttClient: Connected MQTT client
//   - hardware: Requested GPIO lines
//   - recorder: Event recorder (may be nil if the event log is disabled)
//   - influxClient: Telemetry writer (may be nil if disabled)
//   - log: Logger instance
//
// Returns:
//   - *door.Coordinator: Running coordinator
//   - error: If construction or startup fails
func startCoordinator(ctx context.Context, cfg *config.Config, mqttClient *mqtt.Client, hardware *gpio.Hardware, recorder *history.Recorder, influxClient *influxdb.Client, log *logging.Logger) (*door.Coordinator, error) {
	opts := door.Options{
		Config:     cfg,
		MQTTClient: &mqttCoordinatorAdapter{client: mqttClient},
		Actuator:   hardware.Actuator,
		Indicator:  hardware.Indicator,
		Logger:     log,
		Version:    version,
	}

	// Typed nil pointers must not reach the optional interfaces
	if recorder != nil {
		opts.History = &historyAdapter{recorder: recorder, device: cfg.Device}
	}
	if influxClient != nil {
		opts.Telemetry = influxClient
	}

	coordinator, err := door.NewCoordinator(opts)
	if err != nil {
		return nil, fmt.Errorf("creating coordinator: %w", err)
	}

	if err := coordinator.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting coordinator: %w", err)
	}

	return coordinator, nil
}

// startAPI wires and starts the read-only status server.
//
// Parameters:
//   - ctx: Context governing the WebSocket hub lifetime
//   - cfg: Daemon configuration
//   - coordinator: Door snapshot source
//   - repo: Event log (may be nil; /events answers 503)
//   - mqttClient: Connected MQTT client feeding the live stream
//   - log: Logger instance
//
// Returns:
//   - *api.Server: Listening server
//   - error: If construction or startup fails
func startAPI(ctx context.Context, cfg *config.Config, coordinator *door.Coordinator, repo *history.SQLiteRepository, mqttClient *mqtt.Client, log *logging.Logger) (*api.Server, error) {
	deps := api.Deps{
		Config:  cfg.API,
		Device:  cfg.Device,
		Logger:  log,
		Door:    coordinator,
		MQTT:    &mqttCoordinatorAdapter{client: mqttClient},
		QoS:     byte(cfg.MQTT.QoS),
		Version: version,
	}
	if repo != nil {
		deps.Events = repo
	}

	server, err := api.New(deps)
	if err != nil {
		return nil, fmt.Errorf("creating api server: %w", err)
	}

	if err := server.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting api server: %w", err)
	}

	return server, nil
}

// forwardButtonEvents drains the debounced GPIO edge stream into the
// coordinator until the daemon context ends.
func forwardButtonEvents(ctx context.Context, button *gpio.Button, coordinator *door.Coordinator) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-button.Events():
			coordinator.HandleButton(ev.Pressed, ev.Time)
		}
	}
}

// pruneLoop applies the event log retention window once at startup and
// then daily.
func pruneLoop(ctx context.Context, repo *history.SQLiteRepository, retention time.Duration, log *logging.Logger) {
	prune := func() {
		pruneCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()

		deleted, err := repo.Prune(pruneCtx, retention)
		if err != nil {
			log.Error("pruning event log", "error", err)
			return
		}
		if deleted > 0 {
			log.Info("pruned event log", "deleted", deleted, "retention", retention.String())
		}
	}

	prune()

	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}

// mqttCoordinatorAdapter adapts the infrastructure MQTT client to the
// coordinator's MQTTClient interface. The difference is the Subscribe
// handler signature:
//   - Infrastructure mqtt: func(topic string, payload []byte) error
//   - Coordinator expects: func(topic string, payload []byte)
type mqttCoordinatorAdapter struct {
	client *mqtt.Client
}

// Publish implements door.MQTTClient.
func (a *mqttCoordinatorAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements door.MQTTClient.
func (a *mqttCoordinatorAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	// Wrap the void handler to return nil error (coordinator handlers
	// report problems through their own logger)
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements door.MQTTClient.
func (a *mqttCoordinatorAdapter) IsConnected() bool {
	return a.client.IsConnected()
}

// SetOnConnect implements door.MQTTClient.
func (a *mqttCoordinatorAdapter) SetOnConnect(fn func()) {
	a.client.SetOnConnect(fn)
}

// SetOnDisconnect implements door.MQTTClient.
func (a *mqttCoordinatorAdapter) SetOnDisconnect(fn func(err error)) {
	a.client.SetOnDisconnect(fn)
}

// historyAdapter adapts the buffered event recorder to the
// coordinator's History interface, stamping the device identifier on
// every record. ID and timestamp are filled by the repository.
type historyAdapter struct {
	recorder *history.Recorder
	device   string
}

// Record implements door.History.
func (a *historyAdapter) Record(category, value, source string) {
	a.recorder.Record(history.Event{
		DeviceID: a.device,
		Category: category,
		Value:    value,
		Source:   source,
	})
}
