package nuki

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nerrad567/sesami-core/internal/infrastructure/config"
	"github.com/nerrad567/sesami-core/internal/nuki"
	"github.com/nerrad567/sesami-core/internal/protocol"
)

const (
	// bridgeSource identifies this daemon in messages, health reports and
	// audit rows.
	bridgeSource = "nukibridged"

	// commandTimeout bounds one lock command end to end, retries included.
	commandTimeout = 30 * time.Second

	// commandQueueSize buffers accepted commands while one executes. The
	// coordinator sends them one at a time; anything piling up deeper than
	// this is a stuck session, and dropping beats acting on stale intent.
	commandQueueSize = 8

	// categoryCommand is the audit category for lock actions.
	categoryCommand = "command"
)

// MQTTClient is the broker surface the bridge needs. The concrete client
// is wrapped by a small adapter in the daemon main, which keeps this
// package free of infrastructure imports and easy to test.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool

	// SetOnConnect registers a callback invoked on every (re)connect.
	SetOnConnect(fn func())

	// SetOnDisconnect registers a callback invoked when the connection drops.
	SetOnDisconnect(fn func(err error))
}

// History records lock events for the audit trail. Optional; nil
// disables recording. The bridge only records actions it observed but
// did not execute; commands from the bus are recorded by their sender.
type History interface {
	// Record persists one event. Must not block.
	Record(category, value, source string)
}

// Telemetry writes time series points. Optional; nil disables it.
// Implementations must not block the caller.
type Telemetry interface {
	WriteLockState(deviceID, state string)
	WriteBatteryCritical(deviceID string, critical bool)
}

// BridgeStatus is a point-in-time snapshot of the bridge, served to the
// health reporter.
type BridgeStatus struct {
	LockConnected   bool             `json:"lock_connected"`
	LockState       nuki.SimpleState `json:"lock_state"`
	LockStateAt     time.Time        `json:"lock_state_at,omitzero"`
	BatteryCritical bool             `json:"battery_critical"`
	StatesPublished uint64           `json:"states_published"`
	CommandsHandled uint64           `json:"commands_handled"`
	CommandsDropped uint64           `json:"commands_dropped"`
	BLE             BLEStats         `json:"ble"`
}

// BridgeOptions holds everything needed to create a bridge.
type BridgeOptions struct {
	// Config is the loaded daemon configuration.
	Config *config.Config

	// MQTTClient is the broker connection.
	MQTTClient MQTTClient

	// Lock is the BLE session to the lock.
	Lock Lock

	// History is the optional audit recorder.
	History History

	// Telemetry is the optional time series writer.
	Telemetry Telemetry

	// Logger is an optional structured logger.
	Logger Logger

	// Version is the daemon version stamped on health reports.
	Version string
}

// Bridge connects the lock's BLE session to the MQTT bus.
//
// It owns the translation in both directions: keyturner state reports
// become retained MQTT messages, and command messages become lock
// actions on the encrypted channel. It never decides anything about the
// door; policy lives in the coordinator, which consumes the topics this
// bridge maintains.
//
// Thread Safety: All exported methods are safe for concurrent use.
type Bridge struct {
	cfg       *config.Config
	mqtt      MQTTClient
	lock      Lock
	history   History   // optional
	telemetry Telemetry // optional
	health    *HealthReporter
	topics    protocol.Topics
	qos       byte

	// Last report, for sensor dedupe and event fan-out.
	stateMu     sync.RWMutex
	lastState   nuki.SimpleState
	lastStateAt time.Time
	lastSensor  nuki.DoorSensorState
	lastBattery bool
	haveState   bool

	// retryInterval is the initial backoff between command attempts.
	retryInterval time.Duration

	commands chan nuki.LockAction

	// First non-recoverable error, relayed to the daemon main.
	fatal chan error

	statesPublished atomic.Uint64
	commandsHandled atomic.Uint64
	commandsDropped atomic.Uint64

	// Shutdown coordination
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc

	// Logger
	logger   Logger
	loggerMu sync.RWMutex
}

// NewBridge creates a bridge.
// Call Start() to begin operation; the lock session must already be
// connected (or connecting) when Start is called.
//
// Parameters:
//   - opts: Dependencies; Config, MQTTClient and Lock are required
//
// Returns:
//   - *Bridge: Ready to start
//   - error: Missing required dependency
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Lock == nil {
		return nil, fmt.Errorf("lock session is required")
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		cfg:           opts.Config,
		mqtt:          opts.MQTTClient,
		lock:          opts.Lock,
		history:       opts.History,   // May be nil (optional)
		telemetry:     opts.Telemetry, // May be nil (optional)
		topics:        protocol.Topics{Device: opts.Config.Device},
		qos:           byte(opts.Config.MQTT.QoS),
		lastState:     nuki.SimpleUnknown,
		retryInterval: time.Second,
		commands:      make(chan nuki.LockAction, commandQueueSize),
		fatal:         make(chan error, 1),
		done:          make(chan struct{}),
		ctx:           ctx,
		ctxCancel:     ctxCancel,
		logger:        opts.Logger,
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		Component: bridgeSource,
		Version:   opts.Version,
		Topic:     b.topics.BridgeHealth(),
		Interval:  opts.Config.HealthInterval(),
		Publisher: opts.MQTTClient,
		Source:    b,
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Start begins bridge operation.
// It subscribes to the command and request topics, wires the state
// callback, then requests a baseline report so the retained state topic
// is fresh from the first second.
//
// Parameters:
//   - ctx: Governs health reporting; the workers run until Stop
//
// Returns:
//   - error: Subscription failure
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	b.lock.SetOnState(b.handleLockState)

	b.mqtt.SetOnConnect(func() {
		// Retained messages survive a broker restart, but not a broker
		// wipe; republishing the baseline costs one report.
		b.requestState("mqtt_reconnect")
	})
	b.mqtt.SetOnDisconnect(func(err error) {
		b.logWarn("broker connection lost")
	})

	subscriptions := []struct {
		topic   string
		handler func(topic string, payload []byte)
	}{
		{b.topics.LockCommand(), b.handleCommandMessage},
		{b.topics.LockRequest(), b.handleRequestMessage},
	}
	for _, sub := range subscriptions {
		if err := b.mqtt.Subscribe(sub.topic, b.qos, sub.handler); err != nil {
			return fmt.Errorf("subscribe to %s: %w", sub.topic, err)
		}
		b.logDebug("subscribed", "topic", sub.topic)
	}

	b.wg.Add(2)
	go b.commandWorker()
	go b.watchLockFatal()

	if interval := b.cfg.Bluetooth.PollIntervalSeconds; interval > 0 {
		b.wg.Add(1)
		go b.pollLoop(time.Duration(interval) * time.Second)
	}

	b.requestState("startup")

	b.health.Start(ctx)
	if err := b.health.PublishNow(); err != nil {
		b.logError("failed to publish healthy status", err)
	}

	b.logInfo("bridge started",
		"device", b.cfg.Device,
		"lock", b.cfg.Bluetooth.MACAddress)

	return nil
}

// Stop gracefully shuts down the bridge.
// The lock session itself is owned by the daemon main and closed there,
// after the bridge no longer uses it.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		b.ctxCancel()

		// Stop health reporting (publishes "stopping" status)
		b.health.Stop()

		b.wg.Wait()

		b.logInfo("bridge stopped")
	})
}

// Status returns the current bridge snapshot.
//
// Thread Safety: Safe from any goroutine.
func (b *Bridge) Status() BridgeStatus {
	b.stateMu.RLock()
	lastState := b.lastState
	lastStateAt := b.lastStateAt
	lastBattery := b.lastBattery
	b.stateMu.RUnlock()

	return BridgeStatus{
		LockConnected:   b.lock.IsConnected(),
		LockState:       lastState,
		LockStateAt:     lastStateAt,
		BatteryCritical: lastBattery,
		StatesPublished: b.statesPublished.Load(),
		CommandsHandled: b.commandsHandled.Load(),
		CommandsDropped: b.commandsDropped.Load(),
		BLE:             b.lock.Stats(),
	}
}

// Fatal delivers errors the bridge cannot recover from, such as the lock
// rejecting the pairing credentials. The daemon should exit nonzero;
// restarting cannot help until the lock is paired again.
func (b *Bridge) Fatal() <-chan error {
	return b.fatal
}

// handleCommandMessage accepts a lock command from the bus and queues it
// for execution.
func (b *Bridge) handleCommandMessage(topic string, payload []byte) {
	msg, action, err := protocol.DecodeCommand(payload)
	if err != nil {
		b.logWarn("discarding malformed command", "error", err)
		return
	}

	b.commandsHandled.Add(1)
	b.logInfo("lock command accepted", "action", action.String(), "source", msg.Source)

	select {
	case b.commands <- action:
	default:
		b.commandsDropped.Add(1)
		b.logWarn("command queue full, dropping", "action", action.String())
	}
}

// handleRequestMessage reacts to a state refresh request. The payload is
// decoded only for the log line; even a malformed one triggers the poll,
// since the request is the message's entire meaning.
func (b *Bridge) handleRequestMessage(topic string, payload []byte) {
	var msg protocol.LockRequestMessage
	if err := json.Unmarshal(payload, &msg); err == nil && msg.Source != "" {
		b.logDebug("lock state requested", "source", msg.Source)
	} else {
		b.logDebug("lock state requested")
	}

	b.requestState("request")
}

// commandWorker executes queued lock commands one at a time.
func (b *Bridge) commandWorker() {
	defer b.wg.Done()

	for {
		select {
		case <-b.done:
			return
		case action := <-b.commands:
			b.executeCommand(action)
		}
	}
}

// executeCommand drives one lock action to acceptance, retrying
// transient failures with backoff. When the retries run out, the
// retained state is marked unknown so the coordinator stops trusting
// its last report; its confirmation timeout then fires instead of
// waiting on a report that will never come.
func (b *Bridge) executeCommand(action nuki.LockAction) {
	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = b.retryInterval
	bo.MaxElapsedTime = commandTimeout

	operation := func() error {
		err := b.lock.PerformAction(ctx, action)
		if errors.Is(err, ErrNotPaired) {
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.Retry(operation,
		backoff.WithMaxRetries(backoff.WithContext(bo, ctx), uint64(b.cfg.Bluetooth.WriteRetries)))
	if err == nil {
		b.logInfo("lock action executed", "action", action.String())
		return
	}

	if errors.Is(err, ErrNotPaired) {
		b.reportFatal(err)
		return
	}

	b.logError("lock action failed", fmt.Errorf("%s: %w", action, err))
	b.publishUnknownState()
}

// publishUnknownState marks the retained lock state unknown. Consumers
// treat unknown as the absence of confirmation, so a door cycle started
// on a stale report times out instead of unlatching blind.
func (b *Bridge) publishUnknownState() {
	msg := protocol.NewLockStateMessage(b.cfg.Device, nuki.SimpleUnknown, 0, false)
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal lock state", err)
		return
	}
	if err := b.mqtt.Publish(b.topics.LockState(), payload, b.qos, true); err != nil {
		b.logError("failed to publish lock state", err)
		return
	}

	b.statesPublished.Add(1)

	b.stateMu.Lock()
	b.lastState = nuki.SimpleUnknown
	b.lastStateAt = msg.Timestamp
	b.stateMu.Unlock()
}

// handleLockState republishes one keyturner report and fans out the
// derived topics. Every report is published, changed or not; the
// retained state topic is the system's source of truth and repeating it
// is cheaper than explaining a missed update.
func (b *Bridge) handleLockState(state nuki.KeyturnerState) {
	simple := state.LockState.Simple()

	msg := protocol.NewLockStateMessage(b.cfg.Device, simple, state.DoorSensor, state.BatteryCritical)
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal lock state", err)
		return
	}
	if err := b.mqtt.Publish(b.topics.LockState(), payload, b.qos, true); err != nil {
		b.logError("failed to publish lock state", err)
	} else {
		b.statesPublished.Add(1)
	}

	b.stateMu.Lock()
	first := !b.haveState
	stateChanged := b.lastState != simple
	sensorChanged := state.DoorSensor != 0 && state.DoorSensor != b.lastSensor
	b.lastState = simple
	b.lastStateAt = msg.Timestamp
	if state.DoorSensor != 0 {
		b.lastSensor = state.DoorSensor
	}
	b.lastBattery = state.BatteryCritical
	b.haveState = true
	b.stateMu.Unlock()

	if sensorChanged {
		b.publishDoorSensor(state.DoorSensor)
	}

	if b.telemetry != nil {
		b.telemetry.WriteLockState(b.cfg.Device, string(simple))
		b.telemetry.WriteBatteryCritical(b.cfg.Device, state.BatteryCritical)
	}

	// A state change this daemon did not cause is worth an event: a
	// thumbturn, the keypad, the app. Changes triggered over MQTT already
	// have their command message on the bus, and the baseline report is
	// no change at all.
	if stateChanged && !first &&
		state.Trigger != nuki.TriggerSystem && state.Trigger != nuki.TriggerMQTT {
		b.publishActionEvent(state)
	}

	b.logDebug("lock state report",
		"state", string(simple),
		"trigger", state.Trigger.String(),
		"battery_critical", state.BatteryCritical)
}

// publishActionEvent announces an externally triggered lock action. The
// audit row mirrors what command senders record for their own actions.
func (b *Bridge) publishActionEvent(state nuki.KeyturnerState) {
	msg := protocol.NewLockActionEventMessage(b.cfg.Device, state.LastAction, state.Trigger)
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal lock event", err)
		return
	}
	if err := b.mqtt.Publish(b.topics.LockEvent(), payload, b.qos, false); err != nil {
		b.logError("failed to publish lock event", err)
		return
	}

	b.record(categoryCommand, state.LastAction.String(), state.Trigger.String())
}

// publishDoorSensor republishes the door sensor state on its own topic.
func (b *Bridge) publishDoorSensor(sensor nuki.DoorSensorState) {
	msg := protocol.NewDoorSensorMessage(b.cfg.Device, sensor)
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal door sensor state", err)
		return
	}
	if err := b.mqtt.Publish(b.topics.DoorSensor(), payload, b.qos, true); err != nil {
		b.logError("failed to publish door sensor state", err)
	}
}

// pollLoop asks the lock for its state at the configured interval. The
// lock notifies on its own when something changes; polling catches what
// a missed indication would otherwise hide and refreshes the battery
// flag.
func (b *Bridge) pollLoop(interval time.Duration) {
	defer b.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			b.requestState("poll")
		}
	}
}

// requestState asks the lock to send a fresh state report. The report
// itself arrives through handleLockState.
func (b *Bridge) requestState(reason string) {
	ctx, cancel := context.WithTimeout(b.ctx, responseTimeout)
	defer cancel()

	if err := b.lock.RequestState(ctx); err != nil {
		b.logError("lock state request failed", fmt.Errorf("%s: %w", reason, err))
	}
}

// watchLockFatal relays a fatal session error to whoever watches Fatal.
func (b *Bridge) watchLockFatal() {
	defer b.wg.Done()

	select {
	case <-b.done:
	case err := <-b.lock.Fatal():
		b.reportFatal(err)
	}
}

// reportFatal records a non-recoverable error. The first one wins.
func (b *Bridge) reportFatal(err error) {
	b.logError("bridge cannot continue", err)

	select {
	case b.fatal <- err:
	default:
	}
}

// record persists one audit row if a recorder is attached.
func (b *Bridge) record(category, value, source string) {
	if b.history != nil {
		b.history.Record(category, value, source)
	}
}

// SetLogger sets the logger for the bridge and its health reporter.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()

	if b.health != nil {
		b.health.SetLogger(logger)
	}
}

// logInfo logs an info message if logger is set.
func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logWarn logs a warning if logger is set.
func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (b *Bridge) logError(msg string, err error) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}

// logDebug logs a debug message if logger is set.
func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
