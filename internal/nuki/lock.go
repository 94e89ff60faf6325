package nuki

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Keyturner enumerations as reported by the lock over BLE.
// Values are fixed by the device firmware and must not be renumbered.

// LockState is the raw bolt/motor state reported by the lock.
type LockState uint8

const (
	LockStateUncalibrated      LockState = 0
	LockStateLocked            LockState = 1
	LockStateUnlocking         LockState = 2
	LockStateUnlocked          LockState = 3
	LockStateLocking           LockState = 4
	LockStateUnlatched         LockState = 5
	LockStateUnlockedLockAndGo LockState = 6
	LockStateUnlatching        LockState = 7
	LockStateBootRun           LockState = 253
	LockStateMotorBlocked      LockState = 254
	LockStateUndefined         LockState = 255
)

// String returns the firmware name of the state.
func (s LockState) String() string {
	switch s {
	case LockStateUncalibrated:
		return "uncalibrated"
	case LockStateLocked:
		return "locked"
	case LockStateUnlocking:
		return "unlocking"
	case LockStateUnlocked:
		return "unlocked"
	case LockStateLocking:
		return "locking"
	case LockStateUnlatched:
		return "unlatched"
	case LockStateUnlockedLockAndGo:
		return "unlocked_lock_and_go"
	case LockStateUnlatching:
		return "unlatching"
	case LockStateBootRun:
		return "boot_run"
	case LockStateMotorBlocked:
		return "motor_blocked"
	case LockStateUndefined:
		return "undefined"
	default:
		return fmt.Sprintf("lock_state_%d", uint8(s))
	}
}

// SimpleState is the reduced lock state carried in MQTT messages.
// The coordinator's transitions are defined over this set; everything the
// firmware reports collapses into one of these values.
type SimpleState string

const (
	SimpleLocked     SimpleState = "locked"
	SimpleUnlocked   SimpleState = "unlocked"
	SimpleUnlatched  SimpleState = "unlatched"
	SimpleUnlatching SimpleState = "unlatching"
	SimpleLocking    SimpleState = "locking"
	SimpleUnknown    SimpleState = "unknown"
)

// Simple maps the raw firmware state onto the reduced wire state.
//
// Transitional unlocking collapses to unlocked: by the time a consumer
// reacts the motor has normally finished, and treating it as unknown would
// wrongly clear consumer confidence on an otherwise healthy lock.
func (s LockState) Simple() SimpleState {
	switch s {
	case LockStateLocked:
		return SimpleLocked
	case LockStateUnlocking, LockStateUnlocked, LockStateUnlockedLockAndGo:
		return SimpleUnlocked
	case LockStateUnlatched:
		return SimpleUnlatched
	case LockStateUnlatching:
		return SimpleUnlatching
	case LockStateLocking:
		return SimpleLocking
	default:
		return SimpleUnknown
	}
}

// ParseSimpleState validates a wire state string.
func ParseSimpleState(s string) (SimpleState, error) {
	switch SimpleState(s) {
	case SimpleLocked, SimpleUnlocked, SimpleUnlatched, SimpleUnlatching, SimpleLocking, SimpleUnknown:
		return SimpleState(s), nil
	default:
		return SimpleUnknown, fmt.Errorf("unknown lock state %q", s)
	}
}

// LockAction is a motor command accepted by the lock.
type LockAction uint8

const (
	ActionUnlock           LockAction = 1
	ActionLock             LockAction = 2
	ActionUnlatch          LockAction = 3
	ActionLockAndGo        LockAction = 4
	ActionLockAndGoUnlatch LockAction = 5
	ActionFullLock         LockAction = 6
	ActionFob              LockAction = 80
	ActionButton           LockAction = 90
)

// String returns the firmware name of the action.
func (a LockAction) String() string {
	switch a {
	case ActionUnlock:
		return "unlock"
	case ActionLock:
		return "lock"
	case ActionUnlatch:
		return "unlatch"
	case ActionLockAndGo:
		return "lock_and_go"
	case ActionLockAndGoUnlatch:
		return "lock_and_go_unlatch"
	case ActionFullLock:
		return "full_lock"
	case ActionFob:
		return "fob"
	case ActionButton:
		return "button"
	default:
		return fmt.Sprintf("lock_action_%d", uint8(a))
	}
}

// ParseLockAction maps a wire action name onto a motor command.
func ParseLockAction(s string) (LockAction, error) {
	switch s {
	case "unlock":
		return ActionUnlock, nil
	case "lock":
		return ActionLock, nil
	case "unlatch":
		return ActionUnlatch, nil
	case "lock_and_go":
		return ActionLockAndGo, nil
	case "lock_and_go_unlatch":
		return ActionLockAndGoUnlatch, nil
	case "full_lock":
		return ActionFullLock, nil
	default:
		return 0, fmt.Errorf("unknown lock action %q", s)
	}
}

// DoorSensorState is the magnetic door sensor state reported by the lock.
type DoorSensorState uint8

const (
	DoorSensorDeactivated  DoorSensorState = 1
	DoorSensorDoorClosed   DoorSensorState = 2
	DoorSensorDoorOpened   DoorSensorState = 3
	DoorSensorStateUnknown DoorSensorState = 4
	DoorSensorCalibrating  DoorSensorState = 5
	DoorSensorUncalibrated DoorSensorState = 16
	DoorSensorTampered     DoorSensorState = 240
	DoorSensorUnknown      DoorSensorState = 255
)

// String returns the firmware name of the sensor state.
func (d DoorSensorState) String() string {
	switch d {
	case DoorSensorDeactivated:
		return "deactivated"
	case DoorSensorDoorClosed:
		return "door_closed"
	case DoorSensorDoorOpened:
		return "door_opened"
	case DoorSensorStateUnknown:
		return "door_state_unknown"
	case DoorSensorCalibrating:
		return "calibrating"
	case DoorSensorUncalibrated:
		return "uncalibrated"
	case DoorSensorTampered:
		return "tampered"
	case DoorSensorUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("door_sensor_%d", uint8(d))
	}
}

// Trigger identifies what initiated a lock action.
type Trigger uint8

const (
	TriggerSystem    Trigger = 0
	TriggerManual    Trigger = 1
	TriggerButton    Trigger = 2
	TriggerAutomatic Trigger = 3
	TriggerAutoLock  Trigger = 6
	TriggerHomeKit   Trigger = 171
	TriggerMQTT      Trigger = 172
)

// String returns the firmware name of the trigger.
func (t Trigger) String() string {
	switch t {
	case TriggerSystem:
		return "system"
	case TriggerManual:
		return "manual"
	case TriggerButton:
		return "button"
	case TriggerAutomatic:
		return "automatic"
	case TriggerAutoLock:
		return "auto_lock"
	case TriggerHomeKit:
		return "homekit"
	case TriggerMQTT:
		return "mqtt"
	default:
		return fmt.Sprintf("trigger_%d", uint8(t))
	}
}

// KeyturnerState is the decoded payload of a keyturner-states report
// (command 0x000C), the lock's primary status structure.
type KeyturnerState struct {
	// NukiState is the overall device mode (uninitialized, pairing, door mode).
	NukiState uint8

	// LockState is the current bolt/motor state.
	LockState LockState

	// Trigger identifies what initiated the current state.
	Trigger Trigger

	// Time is the lock's own clock at the time of the report.
	Time time.Time

	// BatteryCritical is set when the batteries need replacing soon.
	BatteryCritical bool

	// LastAction is the most recent completed lock action.
	LastAction LockAction

	// LastActionTrigger identifies what initiated the last action.
	LastActionTrigger Trigger

	// DoorSensor is the current door sensor state.
	DoorSensor DoorSensorState
}

// keyturnerStateLen is the minimum payload length of a keyturner-states
// report. Later firmware appends fields; decoding tolerates longer payloads.
const keyturnerStateLen = 19

// DecodeKeyturnerState decodes a keyturner-states payload.
//
// Layout (little endian): nuki state, lock state, trigger, year(2), month,
// day, hour, minute, second, timezone offset(2), battery flags, config
// update count, lock'n'go timer, last action, last action trigger, last
// action completion, door sensor state.
//
// Parameters:
//   - payload: decrypted command payload, command header stripped
//
// Returns:
//   - KeyturnerState: decoded report
//   - error: if the payload is shorter than the fixed portion
func DecodeKeyturnerState(payload []byte) (KeyturnerState, error) {
	if len(payload) < keyturnerStateLen {
		return KeyturnerState{}, fmt.Errorf("keyturner state payload too short: %d bytes", len(payload))
	}

	year := int(binary.LittleEndian.Uint16(payload[3:5]))
	tzMinutes := int(int16(binary.LittleEndian.Uint16(payload[10:12])))
	loc := time.UTC
	if tzMinutes != 0 {
		loc = time.FixedZone("lock", tzMinutes*60)
	}

	ks := KeyturnerState{
		NukiState:         payload[0],
		LockState:         LockState(payload[1]),
		Trigger:           Trigger(payload[2]),
		BatteryCritical:   payload[12]&0x01 != 0,
		LastAction:        LockAction(payload[15]),
		LastActionTrigger: Trigger(payload[16]),
		DoorSensor:        DoorSensorState(payload[18]),
	}

	// A zeroed clock means the lock has not synchronized time yet.
	if year > 0 {
		ks.Time = time.Date(year, time.Month(payload[5]), int(payload[6]),
			int(payload[7]), int(payload[8]), int(payload[9]), 0, loc)
	}

	return ks, nil
}

// Fresher reports whether an update stamped ts supersedes one stamped last
// carrying lastState. Older timestamps never supersede; equal timestamps
// supersede only when the state differs, so exact duplicates are dropped.
func Fresher(ts time.Time, state SimpleState, last time.Time, lastState SimpleState) bool {
	if ts.Before(last) {
		return false
	}
	if ts.Equal(last) && state == lastState {
		return false
	}
	return true
}
