package door

// State is one of the coordinator's door states.
//
// The actuator level is a pure function of State: the strike relay is
// energized in opening and open-held and de-energized everywhere else.
// The level is re-asserted on every state entry, so a missed or failed
// GPIO write is corrected at the next transition instead of lingering.
type State string

const (
	// StateIdle is the resting state: no open cycle in progress,
	// actuator de-energized.
	StateIdle State = "idle"

	// StateAwaitingUnlock means an unlatch command has been published
	// and the coordinator is waiting for the lock to confirm. Bounded
	// by the unlock timeout; a timeout enters fault.
	StateAwaitingUnlock State = "awaiting-unlock"

	// StateOpening means the strike is energized so the door can be
	// pushed open. In open mode this lasts one pulse; when a hold is
	// pending it chains immediately to open-held.
	StateOpening State = "opening"

	// StateOpenHeld keeps the strike energized until a close stimulus
	// arrives or the maximum hold time elapses.
	StateOpenHeld State = "open-held"

	// StateClosing is the transient de-energize step between an open
	// phase and idle. It is published like any other state but chains
	// to idle in the same dispatch.
	StateClosing State = "closing"

	// StateFault means the lock did not behave as commanded. The
	// actuator is de-energized and stays that way until the next clean
	// locked or unlocked report. The coordinator never retries an
	// unlatch on its own.
	StateFault State = "fault"
)

// actuatorLevel reports whether the strike is energized in s.
func actuatorLevel(s State) bool {
	return s == StateOpening || s == StateOpenHeld
}
