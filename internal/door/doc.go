// Package door implements the door state coordinator.
//
// The coordinator decides when the electric door strike may be
// energized. It watches the lock state republished by the Bluetooth
// bridge, reacts to push-button presses and remote requests, and drives
// the actuator through a small state machine:
//
//	idle            resting, actuator off
//	awaiting-unlock unlatch requested, waiting for the lock
//	opening         strike energized for one pulse
//	open-held       strike energized until closed or timed out
//	closing         transient de-energize step
//	fault           lock misbehaved, actuator off until a clean report
//
// The actuator level is a pure function of the state and is re-asserted
// on every entry. Safety rule: the strike is only ever energized in
// opening and open-held, and any loss of confidence (timeout,
// contradictory lock report, shutdown) lands in a state with the strike
// released.
//
// # Concurrency
//
// Every stimulus is converted to an internal event and serialized
// through a single channel consumed by one loop goroutine, so state
// handlers never take locks. Timers are generation-counted: each
// transition invalidates the timers armed before it, which makes a late
// time.AfterFunc fire a no-op instead of a misfire.
//
// # Degraded operation
//
// When the broker connection drops, new open cycles are refused but
// running timers still complete, so an energized strike is always
// released. On reconnect the coordinator republishes its retained door
// state and asks the bridge for a fresh lock state; normal operation
// resumes when that report arrives.
package door
