// Sesami Core - Bluetooth Bridge
//
// nukibridged owns the encrypted BLE session to the Nuki smart lock.
// It republishes every keyturner state report onto the MQTT bus and
// executes lock commands arriving there, so no other process ever
// touches the radio. The door policy lives in sesamid; this daemon only
// translates.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"

	_ "github.com/nerrad567/sesami-core/migrations"

	"github.com/nerrad567/sesami-core/internal/bridges/nuki"
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

// startupConnectWindow bounds the initial lock connection attempts. The
// lock sleeps between advertisements, so the first connect can need a
// few tries; past this window the daemon exits and the service manager
// restarts it.
const startupConnectWindow = 2 * time.Minute

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
	log := logging.Default("nukibridged")
	log.Info("starting nukibridged",
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
	if err := cfg.ValidateBridge(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, "nukibridged", version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	topics := protocol.Topics{Device: cfg.Device}

	// Open the event log (optional; an empty path disables it).
	// Retention pruning is sesamid's job; this daemon only records.
	var db *database.DB
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

		recorder = history.NewRecorder(history.NewSQLiteRepository(db.DB), 0, log)
		defer func() {
			if closeErr := recorder.Close(); closeErr != nil {
				log.Error("error closing event recorder", "error", closeErr)
			}
		}()
	} else {
		log.Info("event log disabled")
	}

	// Connect to MQTT broker. The LWT marks the bridge health topic
	// offline if this process dies without saying goodbye, which tells
	// the coordinator to stop trusting the retained lock state.
	clientID := "sesami-bridge-" + cfg.Device
	mqttClient, err := mqtt.Connect(cfg.MQTT, mqtt.ConnectOptions{
		ClientID:    clientID,
		Component:   "nukibridged",
		Version:     version,
		StatusTopic: topics.BridgeHealth(),
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

	// Establish the BLE session
	lock, err := connectLock(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("connecting to lock: %w", err)
	}
	defer func() {
		log.Info("closing lock session")
		if closeErr := lock.Close(); closeErr != nil {
			log.Error("error closing lock session", "error", closeErr)
		}
	}()

	// Start the bridge
	bridge, err := startBridge(ctx, cfg, mqttClient, lock, recorder, influxClient, log)
	if err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}
	defer func() {
		log.Info("stopping bridge")
		bridge.Stop()
	}()

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown, or for an error restarting cannot fix. A lock
	// that rejects the pairing credentials needs re-pairing, not a retry
	// loop, so the daemon exits nonzero and stays down.
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, cleaning up")
	case err := <-bridge.Fatal():
		log.Error("unrecoverable bridge error", "error", err)
		return fmt.Errorf("bridge failed: %w", err)
	}

	// Deferred cleanup runs in reverse order:
	// bridge, lock session, InfluxDB, MQTT, event recorder, database.

	log.Info("nukibridged stopped")
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

// connectLock parses the pairing credentials, creates the BLE session
// and establishes the initial connection with backoff.
//
// Parameters:
//   - ctx: Context for cancellation during the connect window
//   - cfg: Daemon configuration
//   - log: Logger instance
//
// Returns:
//   - *nuki.BLEClient: Connected lock session
//   - error: If the credentials are malformed or the window runs out
func connectLock(ctx context.Context, cfg *config.Config, log *logging.Logger) (*nuki.BLEClient, error) {
	authID, sharedKey, err := nuki.ParsePairing(cfg.Bluetooth.AuthID, cfg.Bluetooth.SharedKey)
	if err != nil {
		return nil, fmt.Errorf("parsing pairing credentials: %w", err)
	}

	lock, err := nuki.New(nuki.BLEConfig{
		MACAddress:     cfg.Bluetooth.MACAddress,
		AuthID:         authID,
		SharedKey:      sharedKey,
		ConnectTimeout: time.Duration(cfg.Bluetooth.ConnectTimeoutSeconds) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("creating lock session: %w", err)
	}
	lock.SetLogger(log)

	log.Info("connecting to lock", "mac", cfg.Bluetooth.MACAddress)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = startupConnectWindow

	operation := func() error {
		connectErr := lock.Connect(ctx)
		if connectErr == nil {
			return nil
		}
		// Rejected credentials cannot improve with retries; the lock
		// needs re-pairing.
		if errors.Is(connectErr, nuki.ErrNotPaired) {
			return backoff.Permanent(connectErr)
		}
		log.Warn("lock connect attempt failed", "error", connectErr)
		return connectErr
	}
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		_ = lock.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, err
	}

	log.Info("lock session established", "mac", cfg.Bluetooth.MACAddress)
	return lock, nil
}

// startBridge wires the MQTT translation layer to the lock session and
// starts it.
//
// Parameters:
//   - ctx: Context governing health reporting
//   - cfg: Daemon configuration
//   - mqttClient: Connected MQTT client
//   - lock: Established lock session
//   - recorder: Event recorder (may be nil if the event log is disabled)
//   - influxClient: Telemetry writer (may be nil if disabled)
//   - log: Logger instance
//
// Returns:
//   - *nuki.Bridge: Running bridge
//   - error: If construction or startup fails
func startBridge(ctx context.Context, cfg *config.Config, mqttClient *mqtt.Client, lock *nuki.BLEClient, recorder *history.Recorder, influxClient *influxdb.Client, log *logging.Logger) (*nuki.Bridge, error) {
	opts := nuki.BridgeOptions{
		Config:     cfg,
		MQTTClient: &mqttBridgeAdapter{client: mqttClient},
		Lock:       lock,
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

	bridge, err := nuki.NewBridge(opts)
	if err != nil {
		return nil, fmt.Errorf("creating bridge: %w", err)
	}

	if err := bridge.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting bridge: %w", err)
	}

	return bridge, nil
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the
// bridge's MQTTClient interface. The difference is the Subscribe
// handler signature:
//   - Infrastructure mqtt: func(topic string, payload []byte) error
//   - Bridge expects: func(topic string, payload []byte)
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Publish implements nuki.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements nuki.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	// Wrap the void handler to return nil error (bridge handlers report
	// problems through their own logger)
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements nuki.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}

// SetOnConnect implements nuki.MQTTClient.
func (a *mqttBridgeAdapter) SetOnConnect(fn func()) {
	a.client.SetOnConnect(fn)
}

// SetOnDisconnect implements nuki.MQTTClient.
func (a *mqttBridgeAdapter) SetOnDisconnect(fn func(err error)) {
	a.client.SetOnDisconnect(fn)
}

// historyAdapter adapts the buffered event recorder to the bridge's
// History interface, stamping the device identifier on every record. ID
// and timestamp are filled by the repository.
type historyAdapter struct {
	recorder *history.Recorder
	device   string
}

// Record implements nuki.History.
func (a *historyAdapter) Record(category, value, source string) {
	a.recorder.Record(history.Event{
		DeviceID: a.device,
		Category: category,
		Value:    value,
		Source:   source,
	})
}
