package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/nerrad567/sesami-core/internal/nuki"
)

func TestLockStateMessageRoundTrip(t *testing.T) {
	msg := NewLockStateMessage("sesami-front", nuki.SimpleUnlatched, nuki.DoorSensorDoorOpened, true)

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	decoded, err := DecodeLockState(data)
	if err != nil {
		t.Fatalf("DecodeLockState() error: %v", err)
	}

	if decoded.DeviceID != "sesami-front" {
		t.Errorf("DeviceID = %q, want sesami-front", decoded.DeviceID)
	}
	if decoded.State != nuki.SimpleUnlatched {
		t.Errorf("State = %q, want unlatched", decoded.State)
	}
	if decoded.DoorSensor != "door_opened" {
		t.Errorf("DoorSensor = %q, want door_opened", decoded.DoorSensor)
	}
	if !decoded.BatteryCritical {
		t.Error("BatteryCritical = false, want true")
	}
	if !decoded.Timestamp.Equal(msg.Timestamp) {
		t.Errorf("Timestamp = %v, want %v", decoded.Timestamp, msg.Timestamp)
	}
}

func TestDecodeLockStateRejectsBadPayloads(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"not json", "{{{"},
		{"unknown state", `{"device_id":"d","state":"ajar","ts":"2026-02-01T10:00:00Z"}`},
		{"missing ts", `{"device_id":"d","state":"locked"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeLockState([]byte(tt.payload)); err == nil {
				t.Error("DecodeLockState() expected error")
			}
		})
	}
}

func TestDecodeCommand(t *testing.T) {
	msg := NewCommandMessage(nuki.ActionUnlatch, "coordinator")
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	decoded, action, err := DecodeCommand(data)
	if err != nil {
		t.Fatalf("DecodeCommand() error: %v", err)
	}
	if action != nuki.ActionUnlatch {
		t.Errorf("action = %s, want unlatch", action)
	}
	if decoded.Source != "coordinator" {
		t.Errorf("Source = %q, want coordinator", decoded.Source)
	}

	if _, _, err := DecodeCommand([]byte(`{"action":"fob"}`)); err == nil {
		t.Error("DecodeCommand() expected error for non-requestable action")
	}
	if _, _, err := DecodeCommand([]byte(`{"action":""}`)); err == nil {
		t.Error("DecodeCommand() expected error for empty action")
	}
}

func TestDecodeButtonEvent(t *testing.T) {
	data, err := json.Marshal(NewButtonEventMessage())
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	msg, err := DecodeButtonEvent(data)
	if err != nil {
		t.Fatalf("DecodeButtonEvent() error: %v", err)
	}
	if !msg.Pressed {
		t.Error("Pressed = false, want true")
	}

	if _, err := DecodeButtonEvent([]byte(`{"pressed":false}`)); err == nil {
		t.Error("DecodeButtonEvent() expected error for non-press")
	}
}

func TestDecodeDoorRequest(t *testing.T) {
	for _, state := range []string{DoorRequestOpen, DoorRequestHold, DoorRequestClose} {
		payload := []byte(`{"state":"` + state + `","ts":"2026-02-01T10:00:00Z"}`)
		msg, err := DecodeDoorRequest(payload)
		if err != nil {
			t.Errorf("DecodeDoorRequest(%s) error: %v", state, err)
		}
		if msg.State != state {
			t.Errorf("State = %q, want %q", msg.State, state)
		}
	}

	if _, err := DecodeDoorRequest([]byte(`{"state":"ajar"}`)); err == nil {
		t.Error("DecodeDoorRequest() expected error for unknown state")
	}
}

func TestNewHealthMessage(t *testing.T) {
	start := time.Now().Add(-90 * time.Second)
	msg := NewHealthMessage("bridge", "1.2.3", HealthOnline, start)

	if msg.Component != "bridge" {
		t.Errorf("Component = %q, want bridge", msg.Component)
	}
	if msg.Status != HealthOnline {
		t.Errorf("Status = %q, want online", msg.Status)
	}
	if msg.Version != "1.2.3" {
		t.Errorf("Version = %q, want 1.2.3", msg.Version)
	}
	if msg.UptimeSeconds < 89 || msg.UptimeSeconds > 91 {
		t.Errorf("UptimeSeconds = %d, want ~90", msg.UptimeSeconds)
	}
}

func TestNewLWTMessage(t *testing.T) {
	msg := NewLWTMessage("door")
	if msg.Status != HealthOffline {
		t.Errorf("Status = %q, want offline", msg.Status)
	}
	if msg.Reason != "unexpected_disconnect" {
		t.Errorf("Reason = %q, want unexpected_disconnect", msg.Reason)
	}
}
