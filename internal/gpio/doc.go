// Package gpio drives the door opener hardware through the Linux GPIO
// character device.
//
// Only the door coordinator touches GPIO. It owns three concerns:
//
//   - Actuator: the opener relay, written synchronously and parked
//     inactive on shutdown so the door is never left held open.
//   - Button: the wall push button, debounced in software on top of
//     kernel edge events and delivered as a channel of ButtonEvents.
//   - ModeIndicator: optional relay outputs mirroring the current push
//     button mode for installations with panel lights.
//
// # Usage
//
//	hw, err := gpio.Open(cfg.GPIO)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer hw.Close()
//
//	hw.Actuator.Set(true)
//	for evt := range hw.Button.Events() {
//	    // feed the coordinator loop
//	}
//
// # Hardware
//
// The reference installation is a Raspberry Pi with a relay board
// (active-low inputs) and a momentary push button wired to ground,
// matching the pull-up line request. Polarity is configurable for
// boards that drive active-high.
package gpio
