package gpio

import (
	"testing"
	"time"
)

func TestLevel(t *testing.T) {
	tests := []struct {
		name      string
		active    bool
		activeLow bool
		want      int
	}{
		{"active high on", true, false, 1},
		{"active high off", false, false, 0},
		{"active low on", true, true, 0},
		{"active low off", false, true, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := level(tt.active, tt.activeLow); got != tt.want {
				t.Errorf("level(%v, %v) = %d, want %d", tt.active, tt.activeLow, got, tt.want)
			}
		})
	}
}

func TestDebounceFilterAcceptsCleanPress(t *testing.T) {
	f := debounceFilter{debounce: 100 * time.Millisecond, minInterval: time.Second}
	now := time.Now()

	if !f.accept(true, now) {
		t.Error("clean press rejected")
	}
	if !f.accept(false, now.Add(500*time.Millisecond)) {
		t.Error("clean release rejected")
	}
}

func TestDebounceFilterRejectsSameState(t *testing.T) {
	f := debounceFilter{debounce: 100 * time.Millisecond, minInterval: time.Second}
	now := time.Now()

	if !f.accept(true, now) {
		t.Fatal("first press rejected")
	}

	// A repeated press edge without an intervening release is bounce.
	if f.accept(true, now.Add(200*time.Millisecond)) {
		t.Error("duplicate press edge accepted")
	}
}

func TestDebounceFilterRejectsFastFlapping(t *testing.T) {
	f := debounceFilter{debounce: 100 * time.Millisecond, minInterval: time.Second}
	now := time.Now()

	if !f.accept(true, now) {
		t.Fatal("first press rejected")
	}

	// Contact bounce: edges alternating within the stability window.
	if f.accept(false, now.Add(10*time.Millisecond)) {
		t.Error("bounce release accepted")
	}
	if f.accept(true, now.Add(20*time.Millisecond)) {
		t.Error("bounce press accepted")
	}

	// After the window the release is real.
	if !f.accept(false, now.Add(150*time.Millisecond)) {
		t.Error("settled release rejected")
	}
}

func TestDebounceFilterMinPressInterval(t *testing.T) {
	f := debounceFilter{debounce: 50 * time.Millisecond, minInterval: time.Second}
	now := time.Now()

	if !f.accept(true, now) {
		t.Fatal("first press rejected")
	}
	if !f.accept(false, now.Add(100*time.Millisecond)) {
		t.Fatal("release rejected")
	}

	// Second full press too soon after the first accepted press.
	if f.accept(true, now.Add(200*time.Millisecond)) {
		t.Error("press inside min interval accepted")
	}

	// The matching release still tracks the stable state.
	if !f.accept(false, now.Add(300*time.Millisecond)) {
		t.Error("release after suppressed press rejected")
	}

	// Past the interval a new press counts.
	if !f.accept(true, now.Add(1500*time.Millisecond)) {
		t.Error("press after min interval rejected")
	}
}

func TestDebounceFilterFirstEdgeIsRelease(t *testing.T) {
	f := debounceFilter{debounce: 100 * time.Millisecond, minInterval: time.Second}

	// stable starts false; a stray release edge changes nothing.
	if f.accept(false, time.Now()) {
		t.Error("initial release edge accepted")
	}
}
