package meter

import "errors"

// Domain errors for the meter package.
var (
	// ErrConnectionFailed is returned when the meter refuses, resets or
	// cannot be reached.
	ErrConnectionFailed = errors.New("meter: connection failed")

	// ErrTimeout is returned when the meter sends nothing within the
	// inactivity timeout.
	ErrTimeout = errors.New("meter: operation timed out")

	// ErrProtocol is returned when the response ends without the completion
	// token or grows past the size bound. Errors wrapping it also match
	// ErrTimeout, since the meter never finished its answer.
	ErrProtocol = errors.New("meter: malformed response")
)
