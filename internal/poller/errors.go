package poller

import "errors"

// Domain errors for the poller package.
var (
	// ErrUnknownDevice is returned when a poll names a device that is not
	// configured.
	ErrUnknownDevice = errors.New("poller: unknown device")

	// ErrPollInProgress is returned when an on-demand poll finds a cycle
	// for the same device already running.
	ErrPollInProgress = errors.New("poller: poll already in progress")

	// ErrNoDevices is returned by New when no device is configured.
	ErrNoDevices = errors.New("poller: no devices configured")
)
