package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	originalEnv := os.Getenv("SESAMI_CONFIG")
	defer os.Setenv("SESAMI_CONFIG", originalEnv)

	os.Setenv("SESAMI_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
	if !strings.Contains(err.Error(), "loading config") {
		t.Errorf("run() error = %v, want config load failure", err)
	}
}

// TestRun_InvalidPushButtonMode verifies run rejects a config the
// coordinator cannot drive.
func TestRun_InvalidPushButtonMode(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test-config.yaml")

	configContent := `
device: "testdoor"

mqtt:
  broker:
    host: "127.0.0.1"
    port: 1883

door:
  pushbutton_mode: "sideways"
  unlock_timeout_seconds: 10
  pulse_ms: 1000
  max_hold_seconds: 300

logging:
  level: info
  format: text
  output: stdout
`
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	originalEnv := os.Getenv("SESAMI_CONFIG")
	defer os.Setenv("SESAMI_CONFIG", originalEnv)
	os.Setenv("SESAMI_CONFIG", configPath)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail with an unknown pushbutton mode")
	}
	if !strings.Contains(err.Error(), "pushbutton_mode") {
		t.Errorf("run() error = %v, want pushbutton_mode validation failure", err)
	}
}

// TestGetConfigPath_Default verifies default config path.
func TestGetConfigPath_Default(t *testing.T) {
	originalEnv := os.Getenv("SESAMI_CONFIG")
	defer os.Setenv("SESAMI_CONFIG", originalEnv)

	os.Unsetenv("SESAMI_CONFIG")

	path := getConfigPath()
	if path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

// TestGetConfigPath_EnvOverride verifies environment variable override.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	originalEnv := os.Getenv("SESAMI_CONFIG")
	defer os.Setenv("SESAMI_CONFIG", originalEnv)

	expected := "/custom/path/config.yaml"
	os.Setenv("SESAMI_CONFIG", expected)

	path := getConfigPath()
	if path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

// TestRun_BrokerUnreachable verifies the startup error path once the
// event log is already open. The broker port is closed, so the MQTT
// connect times out and the deferred database cleanup runs.
// Requires no external services; needs ~10s for the connect timeout.
func TestRun_BrokerUnreachable(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping connect timeout test in short mode")
	}

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test-config.yaml")
	dbPath := filepath.Join(tmpDir, "test.db")

	configContent := `
device: "testdoor"

mqtt:
  broker:
    host: "127.0.0.1"
    port: 19999
  qos: 1
  reconnect:
    initial_delay_seconds: 1
    max_delay_seconds: 5

door:
  pushbutton_mode: "openhold"
  unlock_timeout_seconds: 10
  pulse_ms: 1000
  max_hold_seconds: 300

database:
  path: "` + dbPath + `"
  wal_mode: true
  busy_timeout_seconds: 5

influxdb:
  enabled: false

logging:
  level: error
  format: text
  output: stdout
`
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	originalEnv := os.Getenv("SESAMI_CONFIG")
	defer os.Setenv("SESAMI_CONFIG", originalEnv)
	os.Setenv("SESAMI_CONFIG", configPath)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail with no broker listening")
	}
	t.Logf("run() returned error (expected): %v", err)

	// The database must exist: run() got past open and migrate before
	// the broker connect failed.
	if _, statErr := os.Stat(dbPath); statErr != nil {
		t.Errorf("database file missing after run: %v", statErr)
	}
}
