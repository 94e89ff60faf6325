package gpio

import (
	"fmt"
	"sync"
	"time"

	gpiod "github.com/warthog618/go-gpiocdev"
)

// Button event channel depth. The coordinator loop drains this quickly;
// the buffer only absorbs bursts while a transition is being processed.
const buttonEventBuffer = 8

// ButtonEvent is a debounced edge from the push button line.
type ButtonEvent struct {
	// Pressed is true for the press edge, false for the release.
	Pressed bool

	// Time is when the edge was accepted.
	Time time.Time
}

// Button reads the wall push button.
//
// The line is requested with a pull-up, so the button shorts to ground
// and a press arrives as a falling edge. Raw edges pass through a
// stability-window debounce plus a minimum interval between accepted
// presses before they reach the Events channel.
type Button struct {
	line   *gpiod.Line
	pin    int
	events chan ButtonEvent
	filter debounceFilter
}

// newButton requests the input line with both-edge event delivery.
func newButton(chip *gpiod.Chip, pin int, debounce, minInterval time.Duration) (*Button, error) {
	b := &Button{
		pin:    pin,
		events: make(chan ButtonEvent, buttonEventBuffer),
		filter: debounceFilter{
			debounce:    debounce,
			minInterval: minInterval,
		},
	}

	line, err := chip.RequestLine(pin,
		gpiod.AsInput,
		gpiod.WithPullUp,
		gpiod.WithBothEdges,
		gpiod.WithEventHandler(b.handleEdge),
	)
	if err != nil {
		return nil, fmt.Errorf("request button pin %d: %w", pin, err)
	}

	b.line = line
	return b, nil
}

// Events returns the debounced edge stream.
//
// The channel is never closed; consumers stop reading when their own
// context ends.
func (b *Button) Events() <-chan ButtonEvent {
	return b.events
}

// handleEdge runs on the gpiocdev event goroutine.
func (b *Button) handleEdge(evt gpiod.LineEvent) {
	now := time.Now()

	// Pull-up wiring: pressing the button pulls the line low.
	pressed := evt.Type == gpiod.LineEventFallingEdge

	if !b.filter.accept(pressed, now) {
		return
	}

	select {
	case b.events <- ButtonEvent{Pressed: pressed, Time: now}:
	default:
		// Consumer is wedged; dropping an edge beats blocking event delivery.
	}
}

// close releases the line. Pending handler invocations complete first.
func (b *Button) close() error {
	if b.line == nil {
		return nil
	}
	if err := b.line.Close(); err != nil {
		return fmt.Errorf("close button pin %d: %w", b.pin, err)
	}
	b.line = nil
	return nil
}

// debounceFilter suppresses contact bounce and double-fires.
//
// An edge is accepted when it changes the stable state and the previous
// stable change is at least the debounce window old. Press edges must
// additionally be minInterval apart; worn switches fire clean
// press/release pairs in quick succession and the door must not treat
// those as two presses.
type debounceFilter struct {
	mu           sync.Mutex
	debounce     time.Duration
	minInterval  time.Duration
	stable       bool
	stableSince  time.Time
	lastAccepted time.Time
}

func (f *debounceFilter) accept(pressed bool, now time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if pressed == f.stable {
		return false
	}
	if !f.stableSince.IsZero() && now.Sub(f.stableSince) < f.debounce {
		return false
	}

	f.stable = pressed
	f.stableSince = now

	if pressed {
		if !f.lastAccepted.IsZero() && now.Sub(f.lastAccepted) < f.minInterval {
			return false
		}
		f.lastAccepted = now
	}

	return true
}
