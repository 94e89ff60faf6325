package protocol

import (
	"fmt"
	"strings"
)

// Topics builds the MQTT topic names for one device. Using the builders
// keeps the coordinator, the bridge and any UI on the same names.
//
//	topics := protocol.Topics{Device: "sesami-front"}
//	topics.LockState() // "sesami-front/lock/state"
type Topics struct {
	// Device is the configured device identifier, the root of every topic.
	Device string
}

// LockState returns the topic carrying LockStateMessage.
func (t Topics) LockState() string {
	return fmt.Sprintf("%s/lock/state", t.Device)
}

// LockCommand returns the topic carrying CommandMessage.
func (t Topics) LockCommand() string {
	return fmt.Sprintf("%s/lock/command", t.Device)
}

// LockEvent returns the topic carrying LockActionEventMessage.
func (t Topics) LockEvent() string {
	return fmt.Sprintf("%s/lock/event", t.Device)
}

// LockRequest returns the topic carrying LockRequestMessage. The
// coordinator publishes here when it wants the bridge to poll the lock
// and republish the current state, typically after an MQTT reconnect.
func (t Topics) LockRequest() string {
	return fmt.Sprintf("%s/lock/request", t.Device)
}

// ButtonEvent returns the topic carrying ButtonEventMessage.
func (t Topics) ButtonEvent() string {
	return fmt.Sprintf("%s/button/event", t.Device)
}

// DoorState returns the topic carrying DoorStateMessage.
func (t Topics) DoorState() string {
	return fmt.Sprintf("%s/door/state", t.Device)
}

// DoorRequest returns the topic carrying DoorRequestMessage.
func (t Topics) DoorRequest() string {
	return fmt.Sprintf("%s/door/request", t.Device)
}

// DoorSensor returns the topic carrying DoorSensorMessage.
func (t Topics) DoorSensor() string {
	return fmt.Sprintf("%s/doorsensor/state", t.Device)
}

// DoorHealth returns the coordinator's health topic.
func (t Topics) DoorHealth() string {
	return fmt.Sprintf("%s/door/health", t.Device)
}

// BridgeHealth returns the bridge's health topic.
func (t Topics) BridgeHealth() string {
	return fmt.Sprintf("%s/bridge/health", t.Device)
}

// ValidateDeviceID rejects device identifiers that would break topic
// routing. MQTT wildcards and separators are not allowed.
func ValidateDeviceID(device string) error {
	if device == "" {
		return fmt.Errorf("device id is required")
	}
	if strings.ContainsAny(device, "/+#") {
		return fmt.Errorf("device id %q must not contain '/', '+' or '#'", device)
	}
	return nil
}
