package door

import "testing"

func TestActuatorLevel(t *testing.T) {
	tests := []struct {
		state State
		want  bool
	}{
		{StateIdle, false},
		{StateAwaitingUnlock, false},
		{StateOpening, true},
		{StateOpenHeld, true},
		{StateClosing, false},
		{StateFault, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			if got := actuatorLevel(tt.state); got != tt.want {
				t.Errorf("actuatorLevel(%s) = %v, want %v", tt.state, got, tt.want)
			}
		})
	}
}
