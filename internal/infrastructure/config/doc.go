// Package config handles loading and validating the Sesami configuration.
//
// One YAML file configures both daemons. This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (SESAMI_* prefix)
//   - Validation of required fields, split into the common Validate and the
//     per-daemon ValidateDoor / ValidateBridge checks
//   - Default value handling
//
// Security Considerations:
//   - Sensitive values (MQTT password, pairing shared key, tokens) should
//     be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Performance Characteristics:
//   - Configuration is loaded once at startup; there is no hot reload
//   - No runtime overhead after initial load
//
// Usage:
//
//	cfg, err := config.Load("/etc/sesami/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := cfg.ValidateDoor(); err != nil {
//	    log.Fatal(err)
//	}
package config
