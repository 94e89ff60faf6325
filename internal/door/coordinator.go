package door

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/sesami-core/internal/infrastructure/config"
	"github.com/nerrad567/sesami-core/internal/nuki"
	"github.com/nerrad567/sesami-core/internal/protocol"
)

const (
	// eventBuffer sizes the stimulus queue. Bursts beyond this apply
	// backpressure to producers instead of dropping events.
	eventBuffer = 64

	// commandSource identifies this daemon in outgoing messages.
	commandSource = "sesamid"
)

// History event categories and button origins, matching the history
// package's column values.
const (
	categoryLockState = "lock_state"
	categoryDoorState = "door_state"
	categoryCommand   = "command"
	categoryButton    = "button"

	originPhysical = "physical"
	originRemote   = "remote"
)

// Coordinator runs the door state machine.
//
// It consumes lock state reports and button presses, decides when the
// door actuator may be energized, and publishes every door state change
// for UIs and the audit trail. All stimuli are serialized through one
// event loop, so state handlers run without locks; see the package
// documentation for the state model.
//
// Thread Safety: All exported methods are safe for concurrent use.
type Coordinator struct {
	cfg       *config.Config
	mqtt      MQTTClient
	actuator  Actuator
	indicator ModeIndicator // optional
	history   History       // optional
	telemetry Telemetry     // optional
	health    *HealthReporter
	topics    protocol.Topics
	qos       byte

	// Machine state, owned by the run loop. Nothing outside the loop
	// reads these; Status() reads the snapshot instead.
	state           State
	holdPending     bool
	lockState       nuki.SimpleState
	lockTS          time.Time
	doorSensor      string
	batteryCritical bool
	suspended       bool
	timerGen        uint64
	eventsHandled   uint64

	events chan event

	// Snapshot for Status(), refreshed by the loop after each event.
	statusMu sync.RWMutex
	snapshot Status

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

// MQTTClient is the broker surface the coordinator needs. The concrete
// client is wrapped by a small adapter in the daemon main, which keeps
// this package free of infrastructure imports and easy to test.
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

// Actuator drives the door strike relay.
// Satisfied by *gpio.Actuator.
type Actuator interface {
	// Set energizes or de-energizes the strike.
	Set(energized bool) error
}

// ModeIndicator mirrors the door's hold mode on indicator relays.
// Satisfied by *gpio.ModeIndicator. Optional; nil disables it.
type ModeIndicator interface {
	// SetMode switches the indicator pair: hold active or open/close.
	SetMode(openHold bool) error
}

// History records door events for the audit trail. Optional; nil
// disables recording. Categories follow the history package: lock_state,
// door_state, command, button.
type History interface {
	// Record persists one event. Must not block.
	Record(category, value, source string)
}

// Telemetry writes time series points. Optional; nil disables it.
// Implementations must not block the caller. Lock state and battery
// series come from the bridge daemon, which sees every report; the
// coordinator only writes what it owns.
type Telemetry interface {
	WriteDoorTransition(deviceID, from, to string)
	WriteActuator(deviceID string, energized bool)
}

// Logger is the logging interface for coordinator operations.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Status is a point-in-time snapshot of the coordinator, served to the
// health reporter and the HTTP API.
type Status struct {
	State           State                 `json:"state"`
	Mode            config.PushButtonMode `json:"mode"`
	Actuator        bool                  `json:"actuator"`
	LockState       nuki.SimpleState      `json:"lock_state"`
	LockTimestamp   time.Time             `json:"lock_ts,omitzero"`
	DoorSensor      string                `json:"door_sensor,omitempty"`
	BatteryCritical bool                  `json:"battery_critical"`
	Suspended       bool                  `json:"suspended"`
	EventsHandled   uint64                `json:"events_handled"`
}

// Options holds everything needed to create a coordinator.
type Options struct {
	// Config is the loaded daemon configuration.
	Config *config.Config

	// MQTTClient is the broker connection.
	MQTTClient MQTTClient

	// Actuator drives the strike relay.
	Actuator Actuator

	// Indicator is the optional mode indicator relay pair.
	Indicator ModeIndicator

	// History is the optional audit recorder.
	History History

	// Telemetry is the optional time series writer.
	Telemetry Telemetry

	// Logger is an optional structured logger.
	Logger Logger

	// Version is the daemon version stamped on health reports.
	Version string
}

// NewCoordinator creates a coordinator.
// Call Start() to begin operation.
//
// Parameters:
//   - opts: Dependencies; Config, MQTTClient and Actuator are required
//
// Returns:
//   - *Coordinator: Ready to start
//   - error: Missing required dependency
func NewCoordinator(opts Options) (*Coordinator, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Actuator == nil {
		return nil, fmt.Errorf("actuator is required")
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	c := &Coordinator{
		cfg:       opts.Config,
		mqtt:      opts.MQTTClient,
		actuator:  opts.Actuator,
		indicator: opts.Indicator, // May be nil (optional)
		history:   opts.History,   // May be nil (optional)
		telemetry: opts.Telemetry, // May be nil (optional)
		topics:    protocol.Topics{Device: opts.Config.Device},
		qos:       byte(opts.Config.MQTT.QoS),
		state:     StateIdle,
		lockState: nuki.SimpleUnknown,
		events:    make(chan event, eventBuffer),
		done:      make(chan struct{}),
		ctx:       ctx,
		ctxCancel: ctxCancel,
		logger:    opts.Logger,
	}

	c.health = NewHealthReporter(HealthReporterConfig{
		Component: commandSource,
		Version:   opts.Version,
		Topic:     c.topics.DoorHealth(),
		Interval:  opts.Config.HealthInterval(),
		Publisher: opts.MQTTClient,
		Source:    c,
	})
	if opts.Logger != nil {
		c.health.SetLogger(opts.Logger)
	}

	c.updateSnapshot()

	return c, nil
}

// Start begins coordinator operation.
// It subscribes to the bridge's topics, publishes the initial door state
// and a lock state request, then starts the event loop and health
// reporting.
//
// Parameters:
//   - ctx: Governs health reporting; the loop itself runs until Stop
//
// Returns:
//   - error: Subscription failure
func (c *Coordinator) Start(ctx context.Context) error {
	if err := c.health.PublishStarting(); err != nil {
		c.logError("failed to publish starting status", err)
	}

	c.mqtt.SetOnConnect(func() {
		c.submit(connectivityEvent{connected: true})
	})
	c.mqtt.SetOnDisconnect(func(err error) {
		c.submit(connectivityEvent{connected: false})
	})

	subscriptions := []struct {
		topic   string
		handler func(topic string, payload []byte)
	}{
		{c.topics.LockState(), c.handleLockStateMessage},
		{c.topics.DoorSensor(), c.handleDoorSensorMessage},
		{c.topics.ButtonEvent(), c.handleButtonEventMessage},
		{c.topics.DoorRequest(), c.handleDoorRequestMessage},
	}
	for _, sub := range subscriptions {
		if err := c.mqtt.Subscribe(sub.topic, c.qos, sub.handler); err != nil {
			return fmt.Errorf("subscribe to %s: %w", sub.topic, err)
		}
		c.logDebug("subscribed", "topic", sub.topic)
	}

	// The machine starts blind: door state is asserted immediately so the
	// retained topic is never stale, and the bridge is asked for a fresh
	// lock state baseline. Open requests stay ignored until it arrives.
	c.suspended = !c.mqtt.IsConnected()
	c.publishDoorState()
	c.publishLockRequest()
	c.record(categoryDoorState, string(StateIdle), "")

	c.wg.Add(1)
	go c.run()

	c.health.Start(ctx)
	if err := c.health.PublishNow(); err != nil {
		c.logError("failed to publish healthy status", err)
	}

	c.logInfo("coordinator started",
		"device", c.cfg.Device,
		"mode", string(c.cfg.Door.PushButtonMode))

	return nil
}

// Stop gracefully shuts down the coordinator.
// The actuator is de-energized after the loop drains, whatever state the
// machine was in.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		close(c.done)
		c.ctxCancel()

		// Stop health reporting (publishes "stopping" status)
		c.health.Stop()

		c.wg.Wait()

		if err := c.actuator.Set(false); err != nil {
			c.logError("failed to release actuator on shutdown", err)
		}

		c.logInfo("coordinator stopped")
	})
}

// Status returns the current coordinator snapshot.
//
// Thread Safety: Safe from any goroutine.
func (c *Coordinator) Status() Status {
	c.statusMu.RLock()
	defer c.statusMu.RUnlock()
	return c.snapshot
}

// HandleButton feeds a debounced push-button edge into the coordinator.
// Releases are dropped here; only presses drive the machine.
//
// Parameters:
//   - pressed: True for a press edge, false for a release
//   - at: When the edge was sensed
//
// Thread Safety: Safe from any goroutine, including GPIO event handlers.
func (c *Coordinator) HandleButton(pressed bool, at time.Time) {
	if !pressed {
		return
	}
	c.submit(buttonEvent{at: at, source: originPhysical})
}

// run is the event loop. All machine state is owned here.
func (c *Coordinator) run() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done:
			return
		case ev := <-c.events:
			c.dispatch(ev)
			c.eventsHandled++
			c.updateSnapshot()
		}
	}
}

// submit queues one event for the loop. Blocks when the queue is full,
// returns when the coordinator is stopping.
func (c *Coordinator) submit(ev event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Coordinator) dispatch(ev event) {
	switch ev := ev.(type) {
	case lockStateEvent:
		c.onLockState(ev.msg)
	case doorSensorEvent:
		c.onDoorSensor(ev.sensor)
	case buttonEvent:
		c.onButtonPress(ev)
	case doorRequestEvent:
		c.onDoorRequest(ev.request)
	case timerFired:
		c.onTimerFired(ev.gen)
	case connectivityEvent:
		c.onConnectivity(ev.connected)
	}
}

// ============================================================
// MQTT message handlers (decode, then hand off to the loop)
// ============================================================

func (c *Coordinator) handleLockStateMessage(topic string, payload []byte) {
	msg, err := protocol.DecodeLockState(payload)
	if err != nil {
		c.logWarn("discarding malformed lock state", "error", err)
		return
	}
	c.submit(lockStateEvent{msg: msg})
}

func (c *Coordinator) handleDoorSensorMessage(topic string, payload []byte) {
	var msg protocol.DoorSensorMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		c.logWarn("discarding malformed door sensor report", "error", err)
		return
	}
	if msg.Sensor == "" {
		return
	}
	c.submit(doorSensorEvent{sensor: msg.Sensor})
}

func (c *Coordinator) handleButtonEventMessage(topic string, payload []byte) {
	msg, err := protocol.DecodeButtonEvent(payload)
	if err != nil {
		c.logWarn("discarding malformed button event", "error", err)
		return
	}
	c.submit(buttonEvent{at: msg.Timestamp, source: originRemote})
}

func (c *Coordinator) handleDoorRequestMessage(topic string, payload []byte) {
	msg, err := protocol.DecodeDoorRequest(payload)
	if err != nil {
		c.logWarn("discarding malformed door request", "error", err)
		return
	}
	c.submit(doorRequestEvent{request: msg.State})
}

// ============================================================
// Event handlers (loop goroutine only)
// ============================================================

// onLockState applies one accepted lock report: staleness filtering,
// bookkeeping, then the per-state reaction.
func (c *Coordinator) onLockState(msg protocol.LockStateMessage) {
	if msg.DeviceID != "" && msg.DeviceID != c.cfg.Device {
		c.logDebug("ignoring lock state for other device", "device_id", msg.DeviceID)
		return
	}
	if !nuki.Fresher(msg.Timestamp, msg.State, c.lockTS, c.lockState) {
		c.logDebug("discarding stale lock state",
			"state", string(msg.State),
			"ts", msg.Timestamp)
		return
	}

	prev := c.lockState
	prevSensor := c.doorSensor
	c.lockState = msg.State
	c.lockTS = msg.Timestamp
	if msg.DoorSensor != "" {
		c.doorSensor = msg.DoorSensor
	}

	if c.suspended {
		c.suspended = false
		c.logInfo("lock state restored, transitions resumed", "state", string(msg.State))
	}

	if msg.BatteryCritical != c.batteryCritical {
		c.batteryCritical = msg.BatteryCritical
		if msg.BatteryCritical {
			c.logWarn("lock battery critical")
		}
	}

	if prev != msg.State {
		c.logInfo("lock state changed", "from", string(prev), "to", string(msg.State))
		c.record(categoryLockState, string(msg.State), "bridge")
	}

	switch c.state {
	case StateAwaitingUnlock:
		switch msg.State {
		case nuki.SimpleUnlatching, nuki.SimpleUnlatched:
			c.enterOpening("unlock confirmed")
		case nuki.SimpleLocking:
			// The motor is driving the wrong way; a retry here could
			// fight whoever commanded the lock.
			c.transition(StateFault, "lock engaging instead of unlatching")
		}
		// A locked report is the retained pre-command state echoing
		// back; the unlock timeout covers a genuinely lost command.

	case StateOpening, StateOpenHeld:
		switch msg.State {
		case nuki.SimpleLocked, nuki.SimpleLocking:
			c.closeDoor("lock engaged during open phase")
		}

	case StateFault:
		switch msg.State {
		case nuki.SimpleLocked, nuki.SimpleUnlocked:
			c.transition(StateIdle, "clean lock state after fault")
		}
	}

	if msg.DoorSensor != "" && msg.DoorSensor != prevSensor {
		c.releaseIfDoorOpen()
	}
}

func (c *Coordinator) onDoorSensor(sensor string) {
	if sensor == c.doorSensor {
		return
	}
	c.logInfo("door sensor changed", "from", c.doorSensor, "to", sensor)
	c.doorSensor = sensor
	c.releaseIfDoorOpen()
}

// releaseIfDoorOpen ends an open-held phase once the sensor confirms the
// door physically swung open, when configured to.
func (c *Coordinator) releaseIfDoorOpen() {
	if c.state != StateOpenHeld || !c.cfg.Door.ReleaseOnDoorOpen {
		return
	}
	if c.doorSensor == nuki.DoorSensorDoorOpened.String() {
		c.closeDoor("door confirmed open")
	}
}

func (c *Coordinator) onButtonPress(ev buttonEvent) {
	c.logInfo("button pressed", "origin", ev.source, "state", string(c.state))
	c.record(categoryButton, ev.source, "")

	switch c.state {
	case StateIdle:
		c.beginOpenCycle(c.cfg.Door.PushButtonMode == config.ModeOpenHold, "button press")

	case StateAwaitingUnlock, StateOpening:
		if c.cfg.Door.PushButtonMode != config.ModeToggle {
			c.logDebug("press ignored during open cycle")
			return
		}
		if c.holdPending {
			c.logDebug("hold already pending")
			return
		}
		// Toggle mode: a second press before the door is open upgrades
		// the cycle to a hold.
		c.holdPending = true
		c.logInfo("press escalated to hold")
		if c.state == StateOpening {
			c.transition(StateOpenHeld, "press escalated to hold")
		}

	case StateOpenHeld:
		c.closeDoor("button press")

	case StateFault:
		c.logWarn("press ignored in fault", "lock_state", string(c.lockState))
	}
}

func (c *Coordinator) onDoorRequest(request string) {
	c.logInfo("door request", "request", request, "state", string(c.state))
	c.record(categoryCommand, request, originRemote)

	switch request {
	case protocol.DoorRequestOpen:
		switch c.state {
		case StateIdle:
			c.beginOpenCycle(false, "remote open")
		case StateAwaitingUnlock, StateOpening:
			if !c.holdPending {
				return
			}
			// Downgrade a pending hold back to a single pulse.
			c.holdPending = false
			if c.state == StateOpening {
				c.timerGen++
				c.armStateTimer()
			}
		case StateOpenHeld:
			c.closeDoor("remote open while held")
		case StateFault:
			c.logWarn("remote open ignored in fault")
		}

	case protocol.DoorRequestHold:
		switch c.state {
		case StateIdle:
			c.beginOpenCycle(true, "remote hold")
		case StateAwaitingUnlock:
			c.holdPending = true
		case StateOpening:
			c.holdPending = true
			c.transition(StateOpenHeld, "remote hold")
		case StateOpenHeld:
			// Restart the hold window.
			c.timerGen++
			c.armStateTimer()
			c.logInfo("hold window extended")
		case StateFault:
			c.logWarn("remote hold ignored in fault")
		}

	case protocol.DoorRequestClose:
		switch c.state {
		case StateOpening, StateOpenHeld:
			c.closeDoor("remote close")
		case StateAwaitingUnlock:
			// The unlatch may still land, but no strike will be driven.
			c.transition(StateIdle, "remote close")
		default:
			c.logDebug("remote close with door already closed")
		}

	default:
		c.logWarn("unknown door request", "request", request)
	}
}

func (c *Coordinator) onTimerFired(gen uint64) {
	if gen != c.timerGen {
		c.logDebug("discarding stale timer", "gen", gen)
		return
	}

	switch c.state {
	case StateAwaitingUnlock:
		c.transition(StateFault, "no unlock confirmation")
	case StateOpening:
		c.transition(StateIdle, "pulse complete")
	case StateOpenHeld:
		c.closeDoor("maximum hold elapsed")
	}
}

func (c *Coordinator) onConnectivity(connected bool) {
	if !connected {
		c.suspended = true
		c.logWarn("broker connection lost, door commands suspended")
		return
	}

	// Reconnected. Refresh the retained door state, ask the bridge for a
	// current lock state, and stay suspended until it arrives.
	c.logInfo("broker connection restored, requesting lock state")
	c.publishDoorState()
	c.publishLockRequest()
}

// ============================================================
// State machine actions
// ============================================================

// beginOpenCycle starts an open cycle from idle. Whether the strike can
// be driven immediately depends on the last known lock state.
func (c *Coordinator) beginOpenCycle(hold bool, reason string) {
	if c.suspended {
		c.logWarn("open request ignored while broker link is down")
		return
	}

	switch c.lockState {
	case nuki.SimpleUnlocked, nuki.SimpleUnlatched:
		c.holdPending = hold
		c.enterOpening(reason)

	case nuki.SimpleLocked, nuki.SimpleLocking:
		if err := c.publishUnlatch(); err != nil {
			c.logError("failed to request unlatch", err)
			return
		}
		c.holdPending = hold
		c.transition(StateAwaitingUnlock, reason)

	case nuki.SimpleUnlatching:
		// The latch is already being pulled (phone app or fob); ride
		// that instead of sending a duplicate command.
		c.holdPending = hold
		c.transition(StateAwaitingUnlock, reason)

	default:
		c.logWarn("open request ignored, lock state unknown")
	}
}

// enterOpening energizes the strike, chaining straight to open-held when
// a hold is pending.
func (c *Coordinator) enterOpening(reason string) {
	c.transition(StateOpening, reason)
	if c.holdPending {
		c.transition(StateOpenHeld, reason)
	}
}

// closeDoor runs the closing step and settles in idle. Both transitions
// are published so consumers see the full trajectory.
func (c *Coordinator) closeDoor(reason string) {
	c.transition(StateClosing, reason)
	c.transition(StateIdle, reason)
}

// transition moves the machine to a new state and performs every entry
// action: invalidate timers, re-assert outputs, publish, record, arm the
// new state's timer.
func (c *Coordinator) transition(to State, reason string) {
	from := c.state
	c.state = to
	c.timerGen++

	if to == StateIdle || to == StateFault {
		c.holdPending = false
	}

	c.applyOutputs()
	c.publishDoorState()
	c.record(categoryDoorState, string(to), "")

	if c.telemetry != nil {
		c.telemetry.WriteDoorTransition(c.cfg.Device, string(from), string(to))
		if actuatorLevel(from) != actuatorLevel(to) {
			c.telemetry.WriteActuator(c.cfg.Device, actuatorLevel(to))
		}
	}

	c.armStateTimer()

	c.logInfo("door state changed",
		"from", string(from),
		"to", string(to),
		"reason", reason)
}

// applyOutputs drives the actuator and mode indicator from the current
// state. Called on every transition so a failed write is corrected at
// the next one.
func (c *Coordinator) applyOutputs() {
	if err := c.actuator.Set(actuatorLevel(c.state)); err != nil {
		c.logError("failed to drive actuator", err)
	}
	if c.indicator != nil {
		if err := c.indicator.SetMode(c.state == StateOpenHeld); err != nil {
			c.logError("failed to drive mode indicator", err)
		}
	}
}

// armStateTimer arms the timer belonging to the current state, if any.
func (c *Coordinator) armStateTimer() {
	var d time.Duration
	switch c.state {
	case StateAwaitingUnlock:
		d = c.cfg.UnlockTimeout()
	case StateOpening:
		if c.holdPending {
			return
		}
		d = c.cfg.Pulse()
	case StateOpenHeld:
		d = c.cfg.MaxHold()
	default:
		return
	}
	c.armTimer(d)
}

// armTimer schedules a timerFired for the current generation. Any later
// transition bumps the generation, turning this fire into a no-op.
func (c *Coordinator) armTimer(d time.Duration) {
	gen := c.timerGen
	time.AfterFunc(d, func() {
		c.submit(timerFired{gen: gen})
	})
}

// ============================================================
// Publishing
// ============================================================

func (c *Coordinator) publishUnlatch() error {
	msg := protocol.NewCommandMessage(nuki.ActionUnlatch, commandSource)
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode unlatch command: %w", err)
	}
	if err := c.mqtt.Publish(c.topics.LockCommand(), payload, c.qos, false); err != nil {
		return fmt.Errorf("publish unlatch command: %w", err)
	}
	c.record(categoryCommand, nuki.ActionUnlatch.String(), "")
	c.logInfo("unlatch requested")
	return nil
}

// publishDoorState publishes the retained door state. Failures are
// expected while the broker link is down and logged at debug.
func (c *Coordinator) publishDoorState() {
	msg := protocol.NewDoorStateMessage(
		c.cfg.Device,
		string(c.state),
		string(c.cfg.Door.PushButtonMode),
		actuatorLevel(c.state),
	)
	payload, err := json.Marshal(msg)
	if err != nil {
		c.logError("failed to encode door state", err)
		return
	}
	if err := c.mqtt.Publish(c.topics.DoorState(), payload, c.qos, true); err != nil {
		c.logDebug("door state publish failed", "error", err)
	}
}

func (c *Coordinator) publishLockRequest() {
	msg := protocol.NewLockRequestMessage(commandSource)
	payload, err := json.Marshal(msg)
	if err != nil {
		c.logError("failed to encode lock request", err)
		return
	}
	if err := c.mqtt.Publish(c.topics.LockRequest(), payload, c.qos, false); err != nil {
		c.logDebug("lock request publish failed", "error", err)
	}
}

// ============================================================
// Bookkeeping
// ============================================================

func (c *Coordinator) record(category, value, source string) {
	if c.history == nil {
		return
	}
	c.history.Record(category, value, source)
}

func (c *Coordinator) updateSnapshot() {
	snap := Status{
		State:           c.state,
		Mode:            c.cfg.Door.PushButtonMode,
		Actuator:        actuatorLevel(c.state),
		LockState:       c.lockState,
		LockTimestamp:   c.lockTS,
		DoorSensor:      c.doorSensor,
		BatteryCritical: c.batteryCritical,
		Suspended:       c.suspended,
		EventsHandled:   c.eventsHandled,
	}

	c.statusMu.Lock()
	c.snapshot = snap
	c.statusMu.Unlock()
}

// SetLogger sets the logger for the coordinator and its health reporter.
func (c *Coordinator) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()

	if c.health != nil {
		c.health.SetLogger(logger)
	}
}

// logInfo logs an info message if logger is set.
func (c *Coordinator) logInfo(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logWarn logs a warning if logger is set.
func (c *Coordinator) logWarn(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (c *Coordinator) logError(msg string, err error) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}

// logDebug logs a debug message if logger is set.
func (c *Coordinator) logDebug(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
