package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/sesami-core/internal/nuki"
)

// MQTT message types exchanged between the door coordinator and the
// Bluetooth bridge. All timestamps are UTC RFC 3339; producers use the
// New* constructors so the stamps are set uniformly.

// LockStateMessage reports the lock's current state.
// Topic: {device}/lock/state
// QoS: 1, Retained: yes
//
// Delivery is at least once; consumers deduplicate by timestamp and state
// equality.
type LockStateMessage struct {
	// DeviceID is the device identifier the daemons are configured with.
	DeviceID string `json:"device_id"`

	// State is the reduced lock state.
	State nuki.SimpleState `json:"state"`

	// DoorSensor is the lock's door sensor reading, if it has one.
	DoorSensor string `json:"door_sensor,omitempty"`

	// BatteryCritical is set when the lock reports low batteries.
	BatteryCritical bool `json:"battery_critical,omitempty"`

	// Timestamp is when the state was observed.
	Timestamp time.Time `json:"ts"`
}

// CommandMessage requests a lock action from the bridge.
// Topic: {device}/lock/command
type CommandMessage struct {
	// Action is the wire name of the requested lock action.
	Action string `json:"action"`

	// Source indicates where the command originated (coordinator, api).
	Source string `json:"source,omitempty"`

	// Timestamp is when the command was issued.
	Timestamp time.Time `json:"ts"`
}

// ButtonEventMessage carries a push-button press sensed on another host.
// Topic: {device}/button/event
type ButtonEventMessage struct {
	// Pressed is always true; releases are not reported.
	Pressed bool `json:"pressed"`

	// Timestamp is when the edge was sensed.
	Timestamp time.Time `json:"ts"`
}

// DoorStateMessage reports the coordinator's door state machine.
// Topic: {device}/door/state
// QoS: 1, Retained: yes
type DoorStateMessage struct {
	// DeviceID is the device identifier.
	DeviceID string `json:"device_id"`

	// State is the door state (idle, awaiting-unlock, opening, open-held,
	// closing, fault).
	State string `json:"state"`

	// Mode is the configured push-button mode.
	Mode string `json:"mode"`

	// Actuator is true while the door actuator is energized.
	Actuator bool `json:"actuator"`

	// Timestamp is when the transition happened.
	Timestamp time.Time `json:"ts"`
}

// DoorRequestMessage asks the coordinator to open, hold or close the door
// on behalf of a remote UI.
// Topic: {device}/door/request
type DoorRequestMessage struct {
	// State is the requested door behaviour: open, hold or close.
	State string `json:"state"`

	// Timestamp is when the request was issued.
	Timestamp time.Time `json:"ts"`
}

// Door request states.
const (
	DoorRequestOpen  = "open"
	DoorRequestHold  = "hold"
	DoorRequestClose = "close"
)

// DoorSensorMessage reports a door sensor change on its own topic so
// consumers that only care about the physical door can subscribe narrowly.
// Topic: {device}/doorsensor/state
// QoS: 1, Retained: yes
type DoorSensorMessage struct {
	// DeviceID is the device identifier.
	DeviceID string `json:"device_id"`

	// Sensor is the door sensor state name.
	Sensor string `json:"sensor"`

	// Timestamp is when the reading was observed.
	Timestamp time.Time `json:"ts"`
}

// LockRequestMessage asks the bridge to poll the lock and republish the
// current state. The payload carries nothing beyond the request time; the
// bridge reacts to the message itself, not its contents.
// Topic: {device}/lock/request
type LockRequestMessage struct {
	// Source names the daemon that asked, for log correlation.
	Source string `json:"source"`

	// Timestamp is when the request was issued.
	Timestamp time.Time `json:"ts"`
}

// LockActionEventMessage reports an action the lock performed on its own
// initiative (fob, button, auto lock), so consumers can log who operated
// the door.
// Topic: {device}/lock/event
type LockActionEventMessage struct {
	// DeviceID is the device identifier.
	DeviceID string `json:"device_id"`

	// Action is the wire name of the performed lock action.
	Action string `json:"action"`

	// Trigger names what initiated the action.
	Trigger string `json:"trigger"`

	// Timestamp is when the event was observed.
	Timestamp time.Time `json:"ts"`
}

// HealthStatus represents the operational status of a daemon.
type HealthStatus string

const (
	// HealthStarting indicates the daemon is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthOnline indicates the daemon is operating normally.
	HealthOnline HealthStatus = "online"

	// HealthDegraded indicates the daemon is running with issues.
	HealthDegraded HealthStatus = "degraded"

	// HealthOffline indicates the daemon is gone (set by the broker LWT).
	HealthOffline HealthStatus = "offline"

	// HealthStopping indicates the daemon is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports daemon health.
// Topics: {device}/door/health, {device}/bridge/health
// QoS: 1, Retained: yes
type HealthMessage struct {
	// Component identifies the reporting daemon (door, bridge).
	Component string `json:"component"`

	// Status is the operational status.
	Status HealthStatus `json:"status"`

	// Version is the daemon software version.
	Version string `json:"version,omitempty"`

	// UptimeSeconds is how long the daemon has been running.
	UptimeSeconds int64 `json:"uptime_seconds,omitempty"`

	// Reason explains the status, set for degraded and offline.
	Reason string `json:"reason,omitempty"`

	// Details carries component-specific counters.
	Details map[string]any `json:"details,omitempty"`

	// Timestamp is when the status was generated.
	Timestamp time.Time `json:"ts"`
}

// NewLockStateMessage creates a lock state report.
func NewLockStateMessage(deviceID string, state nuki.SimpleState, sensor nuki.DoorSensorState, batteryCritical bool) LockStateMessage {
	msg := LockStateMessage{
		DeviceID:        deviceID,
		State:           state,
		BatteryCritical: batteryCritical,
		Timestamp:       time.Now().UTC(),
	}
	if sensor != 0 {
		msg.DoorSensor = sensor.String()
	}
	return msg
}

// NewCommandMessage creates a lock command.
func NewCommandMessage(action nuki.LockAction, source string) CommandMessage {
	return CommandMessage{
		Action:    action.String(),
		Source:    source,
		Timestamp: time.Now().UTC(),
	}
}

// NewButtonEventMessage creates a remote button press event.
func NewButtonEventMessage() ButtonEventMessage {
	return ButtonEventMessage{
		Pressed:   true,
		Timestamp: time.Now().UTC(),
	}
}

// NewDoorStateMessage creates a door state report.
func NewDoorStateMessage(deviceID, state, mode string, actuator bool) DoorStateMessage {
	return DoorStateMessage{
		DeviceID:  deviceID,
		State:     state,
		Mode:      mode,
		Actuator:  actuator,
		Timestamp: time.Now().UTC(),
	}
}

// NewDoorSensorMessage creates a door sensor report.
func NewDoorSensorMessage(deviceID string, sensor nuki.DoorSensorState) DoorSensorMessage {
	return DoorSensorMessage{
		DeviceID:  deviceID,
		Sensor:    sensor.String(),
		Timestamp: time.Now().UTC(),
	}
}

// NewLockRequestMessage creates a lock state poll request.
func NewLockRequestMessage(source string) LockRequestMessage {
	return LockRequestMessage{
		Source:    source,
		Timestamp: time.Now().UTC(),
	}
}

// NewLockActionEventMessage creates a lock action event.
func NewLockActionEventMessage(deviceID string, action nuki.LockAction, trigger nuki.Trigger) LockActionEventMessage {
	return LockActionEventMessage{
		DeviceID:  deviceID,
		Action:    action.String(),
		Trigger:   trigger.String(),
		Timestamp: time.Now().UTC(),
	}
}

// NewHealthMessage creates a health report.
func NewHealthMessage(component, version string, status HealthStatus, startTime time.Time) HealthMessage {
	return HealthMessage{
		Component:     component,
		Status:        status,
		Version:       version,
		UptimeSeconds: int64(time.Since(startTime).Seconds()),
		Timestamp:     time.Now().UTC(),
	}
}

// NewLWTMessage creates the Last Will payload the broker publishes when a
// daemon disappears without a clean shutdown.
func NewLWTMessage(component string) HealthMessage {
	return HealthMessage{
		Component: component,
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
		Timestamp: time.Now().UTC(),
	}
}

// Decode helpers. Malformed payloads are reported as errors so handlers can
// discard and log them without crashing the event loop.

// DecodeLockState decodes and validates a lock state payload.
func DecodeLockState(payload []byte) (LockStateMessage, error) {
	var msg LockStateMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return msg, fmt.Errorf("decode lock state: %w", err)
	}
	if _, err := nuki.ParseSimpleState(string(msg.State)); err != nil {
		return msg, fmt.Errorf("decode lock state: %w", err)
	}
	if msg.Timestamp.IsZero() {
		return msg, fmt.Errorf("decode lock state: missing ts")
	}
	return msg, nil
}

// DecodeCommand decodes and validates a lock command payload.
func DecodeCommand(payload []byte) (CommandMessage, nuki.LockAction, error) {
	var msg CommandMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return msg, 0, fmt.Errorf("decode command: %w", err)
	}
	action, err := nuki.ParseLockAction(msg.Action)
	if err != nil {
		return msg, 0, fmt.Errorf("decode command: %w", err)
	}
	return msg, action, nil
}

// DecodeButtonEvent decodes and validates a remote button payload.
func DecodeButtonEvent(payload []byte) (ButtonEventMessage, error) {
	var msg ButtonEventMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return msg, fmt.Errorf("decode button event: %w", err)
	}
	if !msg.Pressed {
		return msg, fmt.Errorf("decode button event: not a press")
	}
	return msg, nil
}

// DecodeDoorRequest decodes and validates a remote door request payload.
func DecodeDoorRequest(payload []byte) (DoorRequestMessage, error) {
	var msg DoorRequestMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return msg, fmt.Errorf("decode door request: %w", err)
	}
	switch msg.State {
	case DoorRequestOpen, DoorRequestHold, DoorRequestClose:
		return msg, nil
	default:
		return msg, fmt.Errorf("decode door request: unknown state %q", msg.State)
	}
}
