package gpio

import (
	"errors"
	"fmt"
	"sync"

	gpiod "github.com/warthog618/go-gpiocdev"
)

// ModeIndicator mirrors the coordinator's push button mode onto a pair
// of relay outputs, one lit in open-and-hold mode and the other in
// open/close mode. Installations without indicator wiring configure the
// pins as negative and get a no-op indicator.
//
// The lines share the actuator's drive polarity; the common case is a
// single relay board carrying all three outputs.
type ModeIndicator struct {
	mu        sync.Mutex
	openHold  *gpiod.Line
	openClose *gpiod.Line
	activeLow bool
}

// newModeIndicator requests the configured indicator lines.
//
// Either pin may be negative to skip that line. Both lines start
// inactive; the coordinator asserts the real mode on startup.
func newModeIndicator(chip *gpiod.Chip, openHoldPin, openClosePin int, activeLow bool) (*ModeIndicator, error) {
	ind := &ModeIndicator{activeLow: activeLow}

	if openHoldPin >= 0 {
		line, err := chip.RequestLine(openHoldPin, gpiod.AsOutput(level(false, activeLow)))
		if err != nil {
			return nil, fmt.Errorf("request openhold mode pin %d: %w", openHoldPin, err)
		}
		ind.openHold = line
	}

	if openClosePin >= 0 {
		line, err := chip.RequestLine(openClosePin, gpiod.AsOutput(level(false, activeLow)))
		if err != nil {
			ind.Close()
			return nil, fmt.Errorf("request openclose mode pin %d: %w", openClosePin, err)
		}
		ind.openClose = line
	}

	return ind, nil
}

// SetMode lights the indicator for the given mode and clears the other.
func (m *ModeIndicator) SetMode(openHold bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	if m.openHold != nil {
		if err := m.openHold.SetValue(level(openHold, m.activeLow)); err != nil {
			errs = append(errs, fmt.Errorf("set openhold mode line: %w", err))
		}
	}
	if m.openClose != nil {
		if err := m.openClose.SetValue(level(!openHold, m.activeLow)); err != nil {
			errs = append(errs, fmt.Errorf("set openclose mode line: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Close clears both indicators and releases the lines.
func (m *ModeIndicator) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, line := range []*gpiod.Line{m.openHold, m.openClose} {
		if line == nil {
			continue
		}
		if err := line.SetValue(level(false, m.activeLow)); err != nil {
			errs = append(errs, fmt.Errorf("park indicator line: %w", err))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close indicator line: %w", err))
		}
	}
	m.openHold = nil
	m.openClose = nil
	return errors.Join(errs...)
}
