package gpio

import (
	"errors"
	"fmt"
	"time"

	gpiod "github.com/warthog618/go-gpiocdev"

	"github.com/nerrad567/sesami-core/internal/infrastructure/config"
)

// Hardware owns the GPIO chip and every line the coordinator uses.
//
// Open requests everything up front so a miswired installation fails at
// startup instead of at the first door cycle.
type Hardware struct {
	chip *gpiod.Chip

	// Actuator drives the door opener relay.
	Actuator *Actuator

	// Button delivers debounced push button edges.
	Button *Button

	// Indicator mirrors the push button mode onto optional relay outputs.
	Indicator *ModeIndicator
}

// Open requests the chip and all configured lines.
//
// Parameters:
//   - cfg: GPIO configuration from config.yaml
//
// Returns:
//   - *Hardware: All lines requested and parked inactive
//   - error: If the chip or any line cannot be requested
func Open(cfg config.GPIOConfig) (*Hardware, error) {
	chip, err := gpiod.NewChip(cfg.Chip)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", cfg.Chip, err)
	}

	h := &Hardware{chip: chip}

	h.Actuator, err = newActuator(chip, cfg.ActuatorPin, cfg.ActuatorActiveLow)
	if err != nil {
		h.Close()
		return nil, err
	}

	h.Button, err = newButton(chip,
		cfg.ButtonPin,
		time.Duration(cfg.DebounceMs)*time.Millisecond,
		time.Duration(cfg.MinPressIntervalMs)*time.Millisecond,
	)
	if err != nil {
		h.Close()
		return nil, err
	}

	h.Indicator, err = newModeIndicator(chip,
		cfg.OpenHoldModePin,
		cfg.OpenCloseModePin,
		cfg.ActuatorActiveLow,
	)
	if err != nil {
		h.Close()
		return nil, err
	}

	return h, nil
}

// Close releases every line and then the chip.
//
// The actuator is parked inactive before release, so shutdown never
// leaves the opener energized. Safe to call on a partially opened
// Hardware and safe to call twice.
func (h *Hardware) Close() error {
	var errs []error

	if h.Button != nil {
		if err := h.Button.close(); err != nil {
			errs = append(errs, err)
		}
		h.Button = nil
	}
	if h.Indicator != nil {
		if err := h.Indicator.Close(); err != nil {
			errs = append(errs, err)
		}
		h.Indicator = nil
	}
	if h.Actuator != nil {
		if err := h.Actuator.Close(); err != nil {
			errs = append(errs, err)
		}
		h.Actuator = nil
	}
	if h.chip != nil {
		if err := h.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close gpio chip: %w", err))
		}
		h.chip = nil
	}

	return errors.Join(errs...)
}
