package gpio

import "errors"

// ErrClosed indicates a write to a line that has already been released.
var ErrClosed = errors.New("gpio: line closed")
