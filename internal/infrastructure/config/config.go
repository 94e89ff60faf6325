package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration shared by both Sesami daemons.
// All configuration is loaded from YAML and can be overridden by environment
// variables. The coordinator reads the door, gpio and api sections; the
// bridge reads the bluetooth section; everything else is common.
type Config struct {
	Device    string          `yaml:"device"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Door      DoorConfig      `yaml:"door"`
	GPIO      GPIOConfig      `yaml:"gpio"`
	Bluetooth BluetoothConfig `yaml:"bluetooth"`
	Database  DatabaseConfig  `yaml:"database"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	API       APIConfig       `yaml:"api"`
	Logging   LoggingConfig   `yaml:"logging"`

	// HealthIntervalSeconds is how often each daemon publishes health.
	HealthIntervalSeconds int `yaml:"health_interval_seconds"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	KeepAlive int                 `yaml:"keep_alive_seconds"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	TLS  bool   `yaml:"tls"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay_seconds"`
	MaxDelay     int `yaml:"max_delay_seconds"`
}

// PushButtonMode selects how a button press drives the door actuator.
type PushButtonMode string

const (
	// ModeOpen pulses the actuator once per press.
	ModeOpen PushButtonMode = "open"

	// ModeOpenHold keeps the actuator energized until released.
	ModeOpenHold PushButtonMode = "openhold"

	// ModeToggle alternates between holding open and closing on each press.
	ModeToggle PushButtonMode = "toggle"
)

// DoorConfig contains the coordinator's state machine settings.
type DoorConfig struct {
	// PushButtonMode is open, openhold or toggle. Fixed at startup.
	PushButtonMode PushButtonMode `yaml:"pushbutton_mode"`

	// UnlockTimeoutSeconds bounds how long the coordinator waits for the
	// lock to confirm an unlatch before entering fault.
	UnlockTimeoutSeconds int `yaml:"unlock_timeout_seconds"`

	// PulseMs is how long the actuator stays energized in open mode.
	PulseMs int `yaml:"pulse_ms"`

	// MaxHoldSeconds caps how long the actuator stays energized in
	// openhold mode before the door is closed again.
	MaxHoldSeconds int `yaml:"max_hold_seconds"`

	// ReleaseOnDoorOpen ends an open-held phase as soon as the lock's door
	// sensor confirms the door swung open.
	ReleaseOnDoorOpen bool `yaml:"release_on_door_open"`
}

// GPIOConfig contains the coordinator's pin assignments.
type GPIOConfig struct {
	// Chip is the GPIO character device name.
	Chip string `yaml:"chip"`

	// ButtonPin is the push-button input line offset.
	ButtonPin int `yaml:"button_pin"`

	// ActuatorPin is the door relay output line offset.
	ActuatorPin int `yaml:"actuator_pin"`

	// ActuatorActiveLow inverts the actuator drive level.
	ActuatorActiveLow bool `yaml:"actuator_active_low"`

	// OpenHoldModePin and OpenCloseModePin drive optional indicator relays
	// mirroring the current door mode. Negative disables them.
	OpenHoldModePin  int `yaml:"openhold_mode_pin"`
	OpenCloseModePin int `yaml:"openclose_mode_pin"`

	// DebounceMs is the stability window for button edges.
	DebounceMs int `yaml:"debounce_ms"`

	// MinPressIntervalMs is the minimum spacing between accepted presses.
	MinPressIntervalMs int `yaml:"min_press_interval_ms"`
}

// BluetoothConfig contains the bridge's BLE session settings.
type BluetoothConfig struct {
	// MACAddress is the lock's Bluetooth address.
	MACAddress string `yaml:"mac_address"`

	// AuthID is the 4-byte authorization identifier issued at pairing, hex.
	AuthID string `yaml:"auth_id"`

	// SharedKey is the 32-byte long-term key issued at pairing, hex.
	SharedKey string `yaml:"shared_key"`

	// ConnectTimeoutSeconds bounds one connection attempt.
	ConnectTimeoutSeconds int `yaml:"connect_timeout_seconds"`

	// PollIntervalSeconds is how often the lock state is polled when no
	// notification arrives. Zero disables polling.
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`

	// WriteRetries bounds retries of one BLE operation before the bridge
	// reports the lock state as unknown.
	WriteRetries int `yaml:"write_retries"`
}

// DatabaseConfig contains SQLite event log settings.
// An empty path disables the local event log.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout_seconds"`

	// RetentionDays is how long events are kept before pruning.
	// Zero keeps them forever.
	RetentionDays int `yaml:"retention_days"`
}

// InfluxDBConfig contains InfluxDB telemetry settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval_seconds"`
}

// APIConfig contains the coordinator's read-only status API settings.
type APIConfig struct {
	Enabled bool `yaml:"enabled"`

	// Listen is the host:port to bind, localhost by default.
	Listen string `yaml:"listen"`

	// AuthToken, when set, is required as a bearer token on every request.
	AuthToken string `yaml:"auth_token"`

	// WSSendBuffer is the per-client websocket send queue length.
	WSSendBuffer int `yaml:"ws_send_buffer"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable
// overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: SESAMI_SECTION_KEY
// For example: SESAMI_MQTT_PASSWORD, SESAMI_BLUETOOTH_SHARED_KEY
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded configuration, common sections validated
//   - error: If the file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Device: "sesami-door",
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host: "localhost",
				Port: 1883,
			},
			QoS:       1,
			KeepAlive: 60,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Door: DoorConfig{
			PushButtonMode:       ModeOpenHold,
			UnlockTimeoutSeconds: 10,
			PulseMs:              1000,
			MaxHoldSeconds:       300,
		},
		GPIO: GPIOConfig{
			Chip:               "gpiochip0",
			ButtonPin:          2,
			ActuatorPin:        26,
			OpenHoldModePin:    -1,
			OpenCloseModePin:   -1,
			DebounceMs:         100,
			MinPressIntervalMs: 1000,
		},
		Bluetooth: BluetoothConfig{
			ConnectTimeoutSeconds: 20,
			PollIntervalSeconds:   300,
			WriteRetries:          3,
		},
		Database: DatabaseConfig{
			WALMode:       true,
			BusyTimeout:   5,
			RetentionDays: 90,
		},
		API: APIConfig{
			Listen:       "127.0.0.1:8093",
			WSSendBuffer: 64,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		HealthIntervalSeconds: 30,
	}
}

// applyEnvOverrides applies environment variable overrides to the
// configuration. Secrets should come from the environment rather than the
// file where possible.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SESAMI_DEVICE"); v != "" {
		cfg.Device = v
	}

	// MQTT
	if v := os.Getenv("SESAMI_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("SESAMI_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("SESAMI_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Bluetooth pairing credentials
	if v := os.Getenv("SESAMI_BLUETOOTH_AUTH_ID"); v != "" {
		cfg.Bluetooth.AuthID = v
	}
	if v := os.Getenv("SESAMI_BLUETOOTH_SHARED_KEY"); v != "" {
		cfg.Bluetooth.SharedKey = v
	}

	// Storage and telemetry
	if v := os.Getenv("SESAMI_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("SESAMI_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// API
	if v := os.Getenv("SESAMI_API_TOKEN"); v != "" {
		cfg.API.AuthToken = v
	}
}

// Validate checks the sections both daemons depend on.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Device == "" {
		errs = append(errs, "device is required")
	} else if strings.ContainsAny(c.Device, "/+#") {
		errs = append(errs, "device must not contain '/', '+' or '#' (it roots every MQTT topic)")
	}

	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.HealthIntervalSeconds < 0 {
		errs = append(errs, "health_interval_seconds must not be negative")
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Token == "" {
			errs = append(errs, "influxdb.token is required when influxdb is enabled (set SESAMI_INFLUXDB_TOKEN)")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ValidateDoor checks the sections the coordinator needs.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) ValidateDoor() error {
	var errs []string

	switch c.Door.PushButtonMode {
	case ModeOpen, ModeOpenHold, ModeToggle:
	default:
		errs = append(errs, fmt.Sprintf("door.pushbutton_mode %q must be open, openhold or toggle", c.Door.PushButtonMode))
	}

	if c.Door.UnlockTimeoutSeconds <= 0 {
		errs = append(errs, "door.unlock_timeout_seconds must be positive")
	}
	if c.Door.PulseMs <= 0 {
		errs = append(errs, "door.pulse_ms must be positive")
	}
	if c.Door.MaxHoldSeconds <= 0 {
		errs = append(errs, "door.max_hold_seconds must be positive")
	}

	if c.GPIO.Chip == "" {
		errs = append(errs, "gpio.chip is required")
	}
	if c.GPIO.ButtonPin < 0 {
		errs = append(errs, "gpio.button_pin must not be negative")
	}
	if c.GPIO.ActuatorPin < 0 {
		errs = append(errs, "gpio.actuator_pin must not be negative")
	}
	if c.GPIO.ButtonPin == c.GPIO.ActuatorPin {
		errs = append(errs, "gpio.button_pin and gpio.actuator_pin must differ")
	}
	if c.GPIO.DebounceMs < 0 {
		errs = append(errs, "gpio.debounce_ms must not be negative")
	}

	if c.API.Enabled && c.API.Listen == "" {
		errs = append(errs, "api.listen is required when the api is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ValidateBridge checks the sections the Bluetooth bridge needs.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) ValidateBridge() error {
	var errs []string

	if c.Bluetooth.MACAddress == "" {
		errs = append(errs, "bluetooth.mac_address is required")
	}

	if b, err := hex.DecodeString(c.Bluetooth.AuthID); err != nil || len(b) != 4 {
		errs = append(errs, "bluetooth.auth_id must be 4 bytes of hex (set SESAMI_BLUETOOTH_AUTH_ID)")
	}
	if b, err := hex.DecodeString(c.Bluetooth.SharedKey); err != nil || len(b) != 32 {
		errs = append(errs, "bluetooth.shared_key must be 32 bytes of hex (set SESAMI_BLUETOOTH_SHARED_KEY)")
	}

	if c.Bluetooth.ConnectTimeoutSeconds <= 0 {
		errs = append(errs, "bluetooth.connect_timeout_seconds must be positive")
	}
	if c.Bluetooth.PollIntervalSeconds < 0 {
		errs = append(errs, "bluetooth.poll_interval_seconds must not be negative")
	}
	if c.Bluetooth.WriteRetries < 1 {
		errs = append(errs, "bluetooth.write_retries must be at least 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// Duration helpers keep the integer YAML fields out of call sites.

// UnlockTimeout returns the unlock confirmation bound as a Duration.
func (c *Config) UnlockTimeout() time.Duration {
	return time.Duration(c.Door.UnlockTimeoutSeconds) * time.Second
}

// Pulse returns the open-mode actuator pulse as a Duration.
func (c *Config) Pulse() time.Duration {
	return time.Duration(c.Door.PulseMs) * time.Millisecond
}

// MaxHold returns the openhold ceiling as a Duration.
func (c *Config) MaxHold() time.Duration {
	return time.Duration(c.Door.MaxHoldSeconds) * time.Second
}

// HealthInterval returns the health publish interval as a Duration.
func (c *Config) HealthInterval() time.Duration {
	return time.Duration(c.HealthIntervalSeconds) * time.Second
}

// Retention returns the event log retention window, zero for unlimited.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Database.RetentionDays) * 24 * time.Hour
}

// BrokerURL returns the paho broker URL for the configured host.
func (c *Config) BrokerURL() string {
	scheme := "tcp"
	if c.MQTT.Broker.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.MQTT.Broker.Host, c.MQTT.Broker.Port)
}
