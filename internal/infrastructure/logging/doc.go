// Package logging wraps log/slog for the Sesami daemons.
//
// Every record carries service and version fields, so the two
// processes' output stays distinguishable when journald or a collector
// merges them. Format and level come from the logging section of
// config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "text"     # text for journald, json for collectors
//	  output: "stdout"   # stdout, stderr
//
//	logger := logging.New(cfg.Logging, "sesamid", "1.0.0")
//	logger.Info("starting", "device", cfg.Device)
//	logger.Error("failed to connect", "error", err)
//
// Never log secrets: MQTT passwords and the lock's shared key must not
// appear in any record.
package logging
