package gpio

import (
	"errors"
	"fmt"
	"sync"

	gpiod "github.com/warthog618/go-gpiocdev"
)

// Actuator drives the door opener relay.
//
// The line is requested at the inactive level and every Set writes the
// full level, so re-asserting the current state is harmless. The door
// coordinator calls Set on every state entry rather than tracking edges.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Actuator struct {
	mu        sync.Mutex
	line      *gpiod.Line
	pin       int
	activeLow bool
	energized bool
}

// newActuator requests the relay line as an output at the inactive level.
func newActuator(chip *gpiod.Chip, pin int, activeLow bool) (*Actuator, error) {
	line, err := chip.RequestLine(pin, gpiod.AsOutput(level(false, activeLow)))
	if err != nil {
		return nil, fmt.Errorf("request actuator pin %d: %w", pin, err)
	}

	return &Actuator{
		line:      line,
		pin:       pin,
		activeLow: activeLow,
	}, nil
}

// Set drives the relay to the requested state.
//
// The write is synchronous; when it returns nil the line level has
// changed. Writing the current state again is a no-op at the hardware
// level and always allowed.
func (a *Actuator) Set(energized bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.line == nil {
		return ErrClosed
	}

	if err := a.line.SetValue(level(energized, a.activeLow)); err != nil {
		return fmt.Errorf("set actuator pin %d: %w", a.pin, err)
	}
	a.energized = energized
	return nil
}

// Energized reports the last successfully written state.
func (a *Actuator) Energized() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.energized
}

// Close drives the relay inactive and releases the line.
//
// The inactive write happens first so a crash-restart or shutdown never
// leaves the opener energized.
func (a *Actuator) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.line == nil {
		return nil
	}

	var errs []error
	if err := a.line.SetValue(level(false, a.activeLow)); err != nil {
		errs = append(errs, fmt.Errorf("park actuator pin %d: %w", a.pin, err))
	}
	if err := a.line.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close actuator pin %d: %w", a.pin, err))
	}

	a.line = nil
	a.energized = false
	return errors.Join(errs...)
}

// level maps a logical state to the physical line value.
func level(active bool, activeLow bool) int {
	if active != activeLow {
		return 1
	}
	return 0
}
