package nuki

import "errors"

// Domain errors for the Nuki BLE bridge package.
var (
	// ErrNotConnected is returned when an operation requires a BLE session
	// but the client is not connected to the lock.
	ErrNotConnected = errors.New("nuki: not connected to lock")

	// ErrConnectionFailed is returned when establishing the BLE session fails.
	ErrConnectionFailed = errors.New("nuki: connection to lock failed")

	// ErrNotPaired is returned when the lock rejects the pairing credentials.
	// It is not recoverable by retrying; the lock has to be paired again and
	// the daemon restarted with fresh credentials.
	ErrNotPaired = errors.New("nuki: lock rejected pairing credentials")

	// ErrCommandRejected is returned when the lock answers a command with an
	// error report that does not concern authorization.
	ErrCommandRejected = errors.New("nuki: command rejected by lock")

	// ErrResponseTimeout is returned when the lock does not answer an
	// operation within the response window.
	ErrResponseTimeout = errors.New("nuki: lock response timed out")

	// ErrBadFrame is returned when a frame is malformed.
	ErrBadFrame = errors.New("nuki: malformed frame")

	// ErrClosed is returned when an operation is attempted after Close.
	ErrClosed = errors.New("nuki: client closed")
)
