package nuki

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/sesami-core/internal/protocol"
)

// HealthReporter manages periodic health status reporting.
// It publishes health messages to MQTT at regular intervals.
type HealthReporter struct {
	component string
	version   string
	topic     string
	startTime time.Time
	interval  time.Duration
	publisher HealthPublisher
	source    StatusSource

	// Shutdown coordination (stopOnce prevents double-close panics)
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	// Logger (optional)
	logger   Logger
	loggerMu sync.RWMutex
}

// HealthPublisher is the interface for publishing health messages.
// This is typically implemented by an MQTT client.
type HealthPublisher interface {
	// Publish sends a message to a topic with the specified QoS and retention.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// IsConnected returns true if the publisher is connected.
	IsConnected() bool
}

// StatusSource exposes the bridge snapshot for health details.
type StatusSource interface {
	Status() BridgeStatus
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	// Component is the daemon name stamped on health messages.
	Component string

	// Version is the daemon software version.
	Version string

	// Topic is where health messages are published.
	Topic string

	// Interval is how often to publish health status.
	// Default: 30 seconds.
	Interval time.Duration

	// Publisher is the MQTT client for publishing messages.
	Publisher HealthPublisher

	// Source provides the bridge snapshot for the details block.
	Source StatusSource
}

// NewHealthReporter creates a new health reporter.
//
// Parameters:
//   - cfg: Configuration for the health reporter
//
// Returns:
//   - *HealthReporter: Ready to start (call Start to begin reporting)
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	return &HealthReporter{
		component: cfg.Component,
		version:   cfg.Version,
		topic:     cfg.Topic,
		startTime: time.Now(),
		interval:  interval,
		publisher: cfg.Publisher,
		source:    cfg.Source,
		done:      make(chan struct{}),
	}
}

// Start begins periodic health reporting.
// Must be called after creation. Call Stop to shut down.
//
// Parameters:
//   - ctx: Context for cancellation (will stop reporting when cancelled)
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop gracefully stops health reporting.
// Publishes a final "stopping" status before returning.
// Safe to call multiple times (uses sync.Once).
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		// Publish final stopping status (best-effort, ignore errors)
		//nolint:errcheck // Best-effort during shutdown, nothing we can do if it fails
		h.publishStatus(protocol.HealthStopping, "")
	})
}

// SetLogger sets the logger for this reporter.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// PublishStarting publishes a "starting" status.
// Called during bridge initialization.
func (h *HealthReporter) PublishStarting() error {
	return h.publishStatus(protocol.HealthStarting, "bridge starting")
}

// PublishNow publishes the current health status immediately.
// Useful for forcing an update after a significant event.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publishStatus(status, reason)
}

// LWTPayload returns the Last Will message payload.
// This should be set as the MQTT will message during connection.
func (h *HealthReporter) LWTPayload() ([]byte, error) {
	msg := protocol.NewLWTMessage(h.component)
	return json.Marshal(msg)
}

// LWTTopic returns the topic for the Last Will message.
func (h *HealthReporter) LWTTopic() string {
	return h.topic
}

// reportLoop runs the periodic health reporting.
func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logError("failed to publish health", err)
			}
		}
	}
}

// determineStatus evaluates the current bridge status.
func (h *HealthReporter) determineStatus() (protocol.HealthStatus, string) {
	if h.publisher == nil || !h.publisher.IsConnected() {
		return protocol.HealthDegraded, "mqtt disconnected"
	}

	if h.source != nil {
		if st := h.source.Status(); !st.LockConnected {
			return protocol.HealthDegraded, "lock disconnected"
		}
	}

	return protocol.HealthOnline, ""
}

// publishStatus publishes a health status message.
func (h *HealthReporter) publishStatus(status protocol.HealthStatus, reason string) error {
	if h.publisher == nil {
		return nil // No publisher configured
	}

	msg := protocol.NewHealthMessage(h.component, h.version, status, h.startTime)
	if reason != "" {
		msg.Reason = reason
	}

	if h.source != nil {
		st := h.source.Status()
		msg.Details = map[string]any{
			"lock_connected":   st.LockConnected,
			"lock_state":       string(st.LockState),
			"battery_critical": st.BatteryCritical,
			"states_published": st.StatesPublished,
			"commands_handled": st.CommandsHandled,
			"reconnects":       st.BLE.ReconnectsTotal,
			"dropped":          st.BLE.Dropped,
		}
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	// Publish (QoS 1, retained)
	return h.publisher.Publish(h.topic, payload, 1, true)
}

// logError logs an error if logger is set.
func (h *HealthReporter) logError(msg string, err error) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
