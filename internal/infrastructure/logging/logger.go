package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/sesami-core/internal/infrastructure/config"
)

// Logger is a slog.Logger stamped with the daemon's identity. Both
// daemons log through this so journald and collectors can tell their
// records apart. Safe for concurrent use.
type Logger struct {
	*slog.Logger
}

// New builds a daemon's logger from the config's logging section: text
// or json format, level filtering, stdout or stderr, with service and
// version stamped on every record.
//
// Parameters:
//   - cfg: Logging section of config.yaml
//   - service: Daemon name (sesamid, nukibridged)
//   - version: Build version
func New(cfg config.LoggingConfig, service, version string) *Logger {
	var out io.Writer = os.Stdout
	if strings.EqualFold(cfg.Output, "stderr") {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	return &Logger{
		Logger: slog.New(handler).With("service", service, "version", version),
	}
}

var levelNames = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// parseLevel maps a config string to a slog level, defaulting to info
// for anything unrecognised.
func parseLevel(name string) slog.Level {
	if lvl, ok := levelNames[strings.ToLower(name)]; ok {
		return lvl
	}
	return slog.LevelInfo
}

// With returns a child logger carrying extra default attributes.
//
//	mqttLog := log.With("component", "mqtt")
//	mqttLog.Info("connected") // includes component=mqtt
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Default is the early-startup logger used before the config loads:
// text to stderr at info level.
func Default(service string) *Logger {
	return New(config.LoggingConfig{
		Level:  "info",
		Format: "text",
		Output: "stderr",
	}, service, "dev")
}
