package door

import (
	"time"

	"github.com/nerrad567/sesami-core/internal/protocol"
)

// event is the closed set of stimuli the coordinator consumes. Every
// input, whether an MQTT message, a GPIO edge, a timer fire or a
// connectivity change, becomes one of these and is serialized through a
// single channel, so the handlers run without locks.
type event interface {
	isEvent()
}

// lockStateEvent carries a decoded lock state report from the bridge.
type lockStateEvent struct {
	msg protocol.LockStateMessage
}

// doorSensorEvent carries a door sensor change.
type doorSensorEvent struct {
	sensor string
}

// buttonEvent carries a physical or remote button press.
type buttonEvent struct {
	at     time.Time
	source string
}

// doorRequestEvent carries a remote open, hold or close request.
type doorRequestEvent struct {
	request string
}

// timerFired is delivered when a state timer expires. gen is compared
// against the coordinator's current timer generation; a mismatch means
// the machine has already moved on and the fire is discarded.
type timerFired struct {
	gen uint64
}

// connectivityEvent reports an MQTT connect or disconnect.
type connectivityEvent struct {
	connected bool
}

func (lockStateEvent) isEvent()    {}
func (doorSensorEvent) isEvent()   {}
func (buttonEvent) isEvent()       {}
func (doorRequestEvent) isEvent()  {}
func (timerFired) isEvent()        {}
func (connectivityEvent) isEvent() {}
