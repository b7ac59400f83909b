package rollup

import "errors"

// Domain errors for the rollup package.
var (
	// ErrUnknownGranularity is returned for granularities other than
	// hourly, daily and monthly.
	ErrUnknownGranularity = errors.New("rollup: unknown granularity")

	// ErrNoTimezone is returned when Options.Zone is nil.
	ErrNoTimezone = errors.New("rollup: target timezone is required")
)
