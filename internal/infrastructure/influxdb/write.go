package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteLockState records a lock state report from the bridge.
//
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - deviceID: Door identifier (e.g., "frontdoor")
//   - state: Lock state name (e.g., "unlocked", "locking")
//
// Example:
//
//	client.WriteLockState("frontdoor", "unlatched")
func (c *Client) WriteLockState(deviceID string, state string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"lock_state",
		map[string]string{
			"device_id": deviceID,
		},
		map[string]interface{}{
			"state": state,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteDoorTransition records a door state machine transition.
//
// Parameters:
//   - deviceID: Door identifier
//   - from: State being left (e.g., "idle")
//   - to: State being entered (e.g., "awaiting-unlock")
func (c *Client) WriteDoorTransition(deviceID string, from string, to string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"door_state",
		map[string]string{
			"device_id": deviceID,
		},
		map[string]interface{}{
			"from":  from,
			"state": to,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteActuator records an actuator level change.
//
// Used for tracking how often and how long the opener relay is driven.
//
// Parameters:
//   - deviceID: Door identifier
//   - energized: Whether the actuator output is now active
func (c *Client) WriteActuator(deviceID string, energized bool) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"actuator",
		map[string]string{
			"device_id": deviceID,
		},
		map[string]interface{}{
			"energized": energized,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteBatteryCritical records the lock's battery critical flag.
//
// Written on every keyturner report so dashboards can alert on the
// transition to true.
//
// Parameters:
//   - deviceID: Door identifier
//   - critical: Whether the lock reports a critically low battery
func (c *Client) WriteBatteryCritical(deviceID string, critical bool) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"battery",
		map[string]string{
			"device_id": deviceID,
		},
		map[string]interface{}{
			"critical": critical,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}
