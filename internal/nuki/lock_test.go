package nuki

import (
	"testing"
	"time"
)

func TestLockStateSimple(t *testing.T) {
	tests := []struct {
		state LockState
		want  SimpleState
	}{
		{LockStateLocked, SimpleLocked},
		{LockStateUnlocking, SimpleUnlocked},
		{LockStateUnlocked, SimpleUnlocked},
		{LockStateUnlockedLockAndGo, SimpleUnlocked},
		{LockStateUnlatched, SimpleUnlatched},
		{LockStateUnlatching, SimpleUnlatching},
		{LockStateLocking, SimpleLocking},
		{LockStateUncalibrated, SimpleUnknown},
		{LockStateBootRun, SimpleUnknown},
		{LockStateMotorBlocked, SimpleUnknown},
		{LockStateUndefined, SimpleUnknown},
	}

	for _, tt := range tests {
		if got := tt.state.Simple(); got != tt.want {
			t.Errorf("%s.Simple() = %s, want %s", tt.state, got, tt.want)
		}
	}
}

func TestParseSimpleState(t *testing.T) {
	for _, valid := range []string{"locked", "unlocked", "unlatched", "unlatching", "locking", "unknown"} {
		s, err := ParseSimpleState(valid)
		if err != nil {
			t.Errorf("ParseSimpleState(%q) error: %v", valid, err)
		}
		if string(s) != valid {
			t.Errorf("ParseSimpleState(%q) = %s", valid, s)
		}
	}

	if _, err := ParseSimpleState("ajar"); err == nil {
		t.Error("ParseSimpleState(ajar) expected error")
	}
}

func TestParseLockAction(t *testing.T) {
	a, err := ParseLockAction("unlatch")
	if err != nil {
		t.Fatalf("ParseLockAction(unlatch) error: %v", err)
	}
	if a != ActionUnlatch {
		t.Errorf("ParseLockAction(unlatch) = %d, want %d", a, ActionUnlatch)
	}

	if _, err := ParseLockAction("open_sesame"); err == nil {
		t.Error("ParseLockAction(open_sesame) expected error")
	}
}

func TestDecodeKeyturnerState(t *testing.T) {
	// Door mode, unlatched after a button-triggered unlatch, door opened,
	// battery critical, lock clock 2026-03-01 14:30:05 UTC+60min.
	payload := []byte{
		0x02,       // nuki state: door mode
		0x05,       // lock state: unlatched
		0x02,       // trigger: button
		0xEA, 0x07, // year 2026
		0x03,       // month
		0x01,       // day
		0x0E,       // hour
		0x1E,       // minute
		0x05,       // second
		0x3C, 0x00, // timezone offset +60
		0x01, // battery critical
		0x00, // config update count
		0x00, // lock'n'go timer
		0x03, // last action: unlatch
		0x02, // last action trigger: button
		0x00, // completion status
		0x03, // door sensor: door opened
	}

	ks, err := DecodeKeyturnerState(payload)
	if err != nil {
		t.Fatalf("DecodeKeyturnerState() error: %v", err)
	}

	if ks.LockState != LockStateUnlatched {
		t.Errorf("LockState = %s, want unlatched", ks.LockState)
	}
	if ks.Trigger != TriggerButton {
		t.Errorf("Trigger = %s, want button", ks.Trigger)
	}
	if !ks.BatteryCritical {
		t.Error("BatteryCritical = false, want true")
	}
	if ks.LastAction != ActionUnlatch {
		t.Errorf("LastAction = %s, want unlatch", ks.LastAction)
	}
	if ks.DoorSensor != DoorSensorDoorOpened {
		t.Errorf("DoorSensor = %s, want door_opened", ks.DoorSensor)
	}

	if ks.Time.Year() != 2026 || ks.Time.Month() != time.March || ks.Time.Day() != 1 {
		t.Errorf("Time = %v, want 2026-03-01", ks.Time)
	}
	_, offset := ks.Time.Zone()
	if offset != 3600 {
		t.Errorf("Time zone offset = %d, want 3600", offset)
	}
}

func TestDecodeKeyturnerStateTolerance(t *testing.T) {
	if _, err := DecodeKeyturnerState(make([]byte, keyturnerStateLen-1)); err == nil {
		t.Error("DecodeKeyturnerState() expected error for short payload")
	}

	// Longer payloads from newer firmware decode the fixed portion.
	long := make([]byte, keyturnerStateLen+8)
	long[1] = byte(LockStateLocked)
	ks, err := DecodeKeyturnerState(long)
	if err != nil {
		t.Fatalf("DecodeKeyturnerState() error on extended payload: %v", err)
	}
	if ks.LockState != LockStateLocked {
		t.Errorf("LockState = %s, want locked", ks.LockState)
	}
	if !ks.Time.IsZero() {
		t.Errorf("Time = %v, want zero for unsynchronized clock", ks.Time)
	}
}

func TestFresher(t *testing.T) {
	base := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		ts        time.Time
		state     SimpleState
		last      time.Time
		lastState SimpleState
		want      bool
	}{
		{"newer", base.Add(time.Second), SimpleUnlocked, base, SimpleLocked, true},
		{"older", base.Add(-time.Second), SimpleUnlocked, base, SimpleLocked, false},
		{"duplicate", base, SimpleLocked, base, SimpleLocked, false},
		{"same instant new state", base, SimpleUnlatched, base, SimpleLocked, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Fresher(tt.ts, tt.state, tt.last, tt.lastState); got != tt.want {
				t.Errorf("Fresher() = %v, want %v", got, tt.want)
			}
		})
	}
}
